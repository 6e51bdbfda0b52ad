package distribution

import (
	"sync"
	"testing"

	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

func TestStreamStatsRecordFrame(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats()

	ss.RecordFrame(stereoFrame(10_000_000))
	ss.RecordFrame(stereoFrame(20_000_000))
	f := stereoFrame(30_000_000)
	f.Discontinuity = true
	ss.RecordFrame(f)

	if got := ss.frames.Load(); got != 3 {
		t.Fatalf("frames = %d, want 3", got)
	}
	wantBytes := int64(3 * 2 * 256 * pcm.BytesPerSample)
	if got := ss.pcmBytes.Load(); got != wantBytes {
		t.Fatalf("pcmBytes = %d, want %d", got, wantBytes)
	}
	if got := ss.Discontinuities(); got != 1 {
		t.Fatalf("Discontinuities = %d, want 1", got)
	}

	out := ss.Output()
	if out.LastPTSMs != 30 {
		t.Fatalf("LastPTSMs = %d, want 30", out.LastPTSMs)
	}
}

func TestStreamStatsNoPTSLeavesLastAlone(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats()

	ss.RecordFrame(stereoFrame(50_000_000))
	ss.RecordFrame(stereoFrame(media.NoPTS))

	out := ss.Output()
	if out.LastPTSMs != 50 {
		t.Fatalf("LastPTSMs = %d, want 50", out.LastPTSMs)
	}
}

func TestStreamStatsRecordIngest(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats()

	ss.RecordIngest(1000)
	ss.RecordIngest(500)

	if got := ss.IngestBytes(); got != 1500 {
		t.Fatalf("IngestBytes = %d, want 1500", got)
	}
	// Two entries land within the window, so a rate is computable; the exact
	// value depends on wall-clock spacing.
	if kbps := ss.IngestKbps(); kbps < 0 {
		t.Fatalf("IngestKbps = %f, want >= 0", kbps)
	}
}

func TestStreamStatsOutput(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats()

	out := ss.Output()
	if out.SampleRate != 0 || out.Channels != 0 {
		t.Fatalf("empty Output = %+v, want zero format", out)
	}
	if out.SampleFormat != pcm.SampleFormatName {
		t.Fatalf("SampleFormat = %q, want %q", out.SampleFormat, pcm.SampleFormatName)
	}

	ss.RecordFormat(stereoFormat())

	out = ss.Output()
	if out.SampleRate != 48000 {
		t.Fatalf("SampleRate = %d, want 48000", out.SampleRate)
	}
	if out.Channels != 2 {
		t.Fatalf("Channels = %d, want 2", out.Channels)
	}
	if len(out.Positions) != 2 || out.Positions[0] != "FL" || out.Positions[1] != "FR" {
		t.Fatalf("Positions = %v, want [FL FR]", out.Positions)
	}

	wantKbps := float64(48000*2*pcm.BytesPerSample) * 8 / 1000
	if out.PCMKbps != wantKbps {
		t.Fatalf("PCMKbps = %f, want %f", out.PCMKbps, wantKbps)
	}
}

func TestStreamStatsSourceBitrate(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats()

	if got := ss.SourceBitrate(); got != 0 {
		t.Fatalf("initial SourceBitrate = %d, want 0", got)
	}

	ss.RecordSourceBitrate(1_536_000)
	if got := ss.SourceBitrate(); got != 1_536_000 {
		t.Fatalf("SourceBitrate = %d, want 1536000", got)
	}
}

func TestStreamStatsConcurrentAccess(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func(n int) {
			defer wg.Done()
			ss.RecordFrame(stereoFrame(int64(n) * 1_000_000))
		}(i)
		go func(n int) {
			defer wg.Done()
			ss.RecordIngest(int64(n * 50))
		}(i)
		go func(_ int) {
			defer wg.Done()
			ss.RecordFormat(stereoFormat())
		}(i)
	}

	wg.Wait()

	// Reading must not race with the writers above.
	if got := ss.frames.Load(); got != 100 {
		t.Fatalf("frames = %d, want 100", got)
	}
	out := ss.Output()
	if out.SampleRate != 48000 {
		t.Fatalf("SampleRate = %d, want 48000", out.SampleRate)
	}
	if ss.FrameRate() < 0 {
		t.Fatal("FrameRate went negative")
	}
}

func TestStreamStatsUptime(t *testing.T) {
	t.Parallel()

	ss := NewStreamStats()
	if ss.Uptime() < 0 {
		t.Fatal("Uptime went negative")
	}
}
