package decode

import (
	"bytes"
	"testing"

	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

// benchDown discards output so the scan and interleave paths dominate.
type benchDown struct{}

func (benchDown) AcceptedChannelRange() (int, int, bool) { return 0, 0, false }

func (benchDown) SetFormat(pcm.Format) error { return nil }

func (benchDown) WriteFrame(*media.PCMFrame) error { return nil }

func (benchDown) Event(Event) error { return nil }

func BenchmarkWrite(b *testing.B) {
	stream := bytes.Repeat(testFrame(nil), 8)
	d := New(benchDown{})
	if err := d.Start(); err != nil {
		b.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	b.SetBytes(int64(len(stream)))
	for b.Loop() {
		if err := d.Write(media.Unit{Data: stream, PTS: media.NoPTS}); err != nil {
			b.Fatal(err)
		}
	}
}
