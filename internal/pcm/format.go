package pcm

import (
	"fmt"
	"strings"
)

// Format describes negotiated PCM output: rate, channel count, and the
// positions of each interleaved channel, always in valid order. The sample
// representation is fixed at build time (see SampleFormatName) and is not part
// of per-stream negotiation.
type Format struct {
	SampleRate int
	Channels   int
	Positions  []Position
}

// Equal reports whether two formats declare the same rate, count, and
// position ordering.
func (f Format) Equal(o Format) bool {
	if f.SampleRate != o.SampleRate || f.Channels != o.Channels || len(f.Positions) != len(o.Positions) {
		return false
	}
	for i := range f.Positions {
		if f.Positions[i] != o.Positions[i] {
			return false
		}
	}
	return true
}

// BlockAlign returns the byte stride of one interleaved sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * BytesPerSample
}

func (f Format) String() string {
	names := make([]string, len(f.Positions))
	for i, p := range f.Positions {
		names[i] = p.String()
	}
	return fmt.Sprintf("%dHz %dch %s [%s]", f.SampleRate, f.Channels, SampleFormatName, strings.Join(names, " "))
}

// AppendSamples encodes samples in the build-time representation and appends
// the little-endian bytes to dst.
func AppendSamples(dst []byte, samples []Sample) []byte {
	off := len(dst)
	dst = append(dst, make([]byte, len(samples)*BytesPerSample)...)
	for _, s := range samples {
		PutSample(dst[off:], s)
		off += BytesPerSample
	}
	return dst
}
