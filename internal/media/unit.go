// Package media defines the unit and frame types that flow through the
// dcastream pipeline, from ingest through decoding to distribution.
package media

import (
	"time"

	"github.com/zsiec/dcastream/internal/pcm"
)

// NoPTS marks a unit or frame without a presentation timestamp.
const NoPTS int64 = -1

// FrameBufferSize is the channel depth between the decoder (producer) and
// viewer sessions (consumer). A core frame is typically ~10.7ms of audio, so
// this absorbs about two seconds of jitter.
const FrameBufferSize = 192

// Unit is one compressed input buffer as delivered by ingest: raw elementary
// stream bytes, or one DVD private-stream sub-packet before demultiplexing.
// PTS is in nanoseconds since stream start; NoPTS when unknown.
type Unit struct {
	Data []byte
	PTS  int64
}

// HasPTS reports whether the unit carries a timestamp.
func (u Unit) HasPTS() bool { return u.PTS != NoPTS }

// PCMFrame is one decoded frame of interleaved PCM, tied to the format that
// was negotiated when it was produced.
type PCMFrame struct {
	PTS           int64
	Samples       []pcm.Sample // interleaved, canonical channel order
	Format        pcm.Format
	Blocks        int  // 256-sample decode blocks per channel
	Discontinuity bool // first frame after a decode error or timing gap
}

// SampleCount returns the per-channel sample count.
func (f *PCMFrame) SampleCount() int {
	if f.Format.Channels == 0 {
		return 0
	}
	return len(f.Samples) / f.Format.Channels
}

// Duration returns the frame's play time at its sample rate.
func (f *PCMFrame) Duration() time.Duration {
	if f.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.Format.SampleRate)
}
