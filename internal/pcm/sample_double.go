//go:build dcadouble && !dcafixed

package pcm

import (
	"encoding/binary"
	"math"
)

// Sample is the PCM sample representation selected at build time. The
// dcadouble build decodes to 64-bit float in [-1, 1).
type Sample = float64

// BytesPerSample is the encoded size of one Sample.
const BytesPerSample = 8

// SampleFormatName identifies the sample encoding in negotiated formats and
// wire messages.
const SampleFormatName = "F64LE"

// wavFormatTag is the RIFF format code for this sample type (3 = IEEE float).
const wavFormatTag = 3

// PutSample encodes s into b in little-endian byte order. b must be at least
// BytesPerSample long.
func PutSample(b []byte, s Sample) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(s))
}

// SampleToInt16 converts s to a signed 16-bit sample with clamping, for sinks
// that only accept integer PCM.
func SampleToInt16(s Sample) int16 {
	v := s * 32767
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

// SampleFromFloat converts a unit-range float to the build-time
// representation.
func SampleFromFloat(v float64) Sample { return v }
