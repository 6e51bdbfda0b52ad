//go:build dcafixed

package pcm

import "encoding/binary"

// Sample is the PCM sample representation selected at build time. The dcafixed
// build decodes to signed 16-bit integers.
type Sample = int16

// BytesPerSample is the encoded size of one Sample.
const BytesPerSample = 2

// SampleFormatName identifies the sample encoding in negotiated formats and
// wire messages.
const SampleFormatName = "S16LE"

// wavFormatTag is the RIFF format code for this sample type (1 = integer PCM).
const wavFormatTag = 1

// PutSample encodes s into b in little-endian byte order. b must be at least
// BytesPerSample long.
func PutSample(b []byte, s Sample) {
	binary.LittleEndian.PutUint16(b, uint16(s))
}

// SampleToInt16 converts s to a signed 16-bit sample. Identity for the
// dcafixed build.
func SampleToInt16(s Sample) int16 { return s }

// SampleFromFloat converts a unit-range float to the build-time
// representation, clamping out-of-range values.
func SampleFromFloat(v float64) Sample {
	v *= 32767
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return Sample(v)
}
