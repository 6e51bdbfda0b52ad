package dca

import "golang.org/x/sys/cpu"

// Accel describes the SIMD features available to engine implementations. It
// is detected once at process start and passed by value into constructors;
// nothing in the package mutates it afterwards.
type Accel struct {
	SSE2 bool
	AVX2 bool
	NEON bool
}

// DetectAccel probes the host CPU.
func DetectAccel() Accel {
	return Accel{
		SSE2: cpu.X86.HasSSE2,
		AVX2: cpu.X86.HasAVX2,
		NEON: cpu.ARM64.HasASIMD,
	}
}

func (a Accel) String() string {
	switch {
	case a.AVX2:
		return "avx2"
	case a.SSE2:
		return "sse2"
	case a.NEON:
		return "neon"
	}
	return "none"
}
