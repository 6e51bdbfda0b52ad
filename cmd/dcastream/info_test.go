package main

import (
	"testing"

	"github.com/zsiec/dcastream/internal/dca"
)

// synthFrame is a complete 512-byte frame: a 16-bit big-endian core header
// (normal frame, 2 PCM blocks, 3F2R|LFE, 48 kHz, 1536 kbps) over a zero body.
func synthFrame() []byte {
	frame := make([]byte, 512)
	copy(frame, []byte{0x7f, 0xfe, 0x80, 0x01, 0xfc, 0x3c, 0x1f, 0xf2, 0x77, 0x00, 0x04, 0x00})
	return frame
}

func TestScanStream(t *testing.T) {
	t.Parallel()

	var data []byte
	for i := 0; i < 3; i++ {
		data = append(data, synthFrame()...)
	}

	rep := scanStream(data)
	if rep.frames != 3 {
		t.Fatalf("frames = %d, want 3", rep.frames)
	}
	if rep.samples != 3*512 {
		t.Errorf("samples = %d, want %d", rep.samples, 3*512)
	}
	if rep.junkBytes != 0 {
		t.Errorf("junkBytes = %d, want 0", rep.junkBytes)
	}
	if rep.changes != 0 {
		t.Errorf("changes = %d, want 0", rep.changes)
	}
	if rep.first.SampleRate != 48000 {
		t.Errorf("first.SampleRate = %d, want 48000", rep.first.SampleRate)
	}
	if rep.first.Flags != dca.Mask3F2R|dca.MaskLFE {
		t.Errorf("first.Flags = %v, want 3F2R|LFE", rep.first.Flags)
	}
	if dur := durationOf(rep.samples, rep.first.SampleRate); dur.Milliseconds() != 32 {
		t.Errorf("duration = %v, want 32ms", dur)
	}
}

func TestScanStreamJunkPrefix(t *testing.T) {
	t.Parallel()

	data := append([]byte{0xde, 0xad, 0xbe, 0xef, 0x00}, synthFrame()...)
	data = append(data, synthFrame()...)

	rep := scanStream(data)
	if rep.frames != 2 {
		t.Fatalf("frames = %d, want 2", rep.frames)
	}
	if rep.junkBytes != 5 {
		t.Errorf("junkBytes = %d, want 5", rep.junkBytes)
	}
}

func TestScanStreamTruncatedTail(t *testing.T) {
	t.Parallel()

	data := append(synthFrame(), synthFrame()[:100]...)

	rep := scanStream(data)
	if rep.frames != 1 {
		t.Fatalf("frames = %d, want 1", rep.frames)
	}
	if rep.truncated != 100 {
		t.Errorf("truncated = %d, want 100", rep.truncated)
	}
}

func TestScanStreamEmpty(t *testing.T) {
	t.Parallel()

	if rep := scanStream(nil); rep.frames != 0 {
		t.Fatalf("frames = %d, want 0", rep.frames)
	}
}

func TestFormatBitRate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rate int
		want string
	}{
		{1536000, "1536000 bits/s"},
		{dca.BitRateOpen, "open"},
		{dca.BitRateVariable, "variable"},
		{dca.BitRateLossless, "lossless"},
	}
	for _, tc := range cases {
		if got := formatBitRate(tc.rate); got != tc.want {
			t.Errorf("formatBitRate(%d) = %q, want %q", tc.rate, got, tc.want)
		}
	}
}
