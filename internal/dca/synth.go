package dca

import (
	"fmt"
	"math"

	"github.com/zsiec/dcastream/internal/pcm"
)

// SynthEngine is a diagnostic Engine: it parses real frame headers and honors
// downmix requests, but replaces waveform reconstruction with a deterministic
// test tone per output channel. It exercises the whole adapter and
// distribution path, end to end, on any valid stream, so it serves as the
// default engine for the CLI and for integration tests. Production
// deployments supply their own Engine.
type SynthEngine struct {
	accel Accel

	info     FrameInfo
	mask     ChannelMask
	channels int
	block    int
	level    float64
	bias     float64
	drc      bool
	phase    []float64
	samples  []pcm.Sample
	closed   bool
}

// Compile-time interface check.
var _ Engine = (*SynthEngine)(nil)

// NewSynthEngine returns a synthesis engine. accel is recorded but unused;
// tone generation has no SIMD path.
func NewSynthEngine(accel Accel) *SynthEngine {
	return &SynthEngine{accel: accel}
}

// synthBaseHz is the tone frequency of the first output channel; channel c
// sounds at (c+1) multiples, so every channel is audibly distinct.
const synthBaseHz = 220.0

func (e *SynthEngine) SyncInfo(data []byte) (FrameInfo, error) {
	return SyncInfo(data)
}

func (e *SynthEngine) Frame(data []byte, request ChannelMask, level, bias float64) (ChannelMask, error) {
	if e.closed {
		return 0, fmt.Errorf("dca: engine closed")
	}
	info, err := SyncInfo(data)
	if err != nil {
		return 0, fmt.Errorf("dca: frame header: %w", err)
	}
	if len(data) < info.FrameLength {
		return 0, fmt.Errorf("dca: short frame: %d of %d bytes", len(data), info.FrameLength)
	}

	produced := request.Config()
	if request.HasLFE() && info.Flags.HasLFE() {
		produced |= MaskLFE
	}
	channels, _, err := produced.Layout()
	if err != nil {
		return 0, err
	}

	if channels != e.channels {
		e.phase = make([]float64, channels)
	}
	e.info = info
	e.mask = produced
	e.channels = channels
	e.block = 0
	e.level = level
	e.bias = bias
	e.drc = true
	if need := channels * blockSamples; cap(e.samples) < need {
		e.samples = make([]pcm.Sample, need)
	} else {
		e.samples = e.samples[:need]
	}
	return produced, nil
}

func (e *SynthEngine) BlockCount() int { return e.info.BlockCount }

func (e *SynthEngine) DecodeBlock() error {
	if e.closed {
		return fmt.Errorf("dca: engine closed")
	}
	if e.block >= e.info.BlockCount {
		return fmt.Errorf("dca: no block %d in a %d block frame", e.block, e.info.BlockCount)
	}

	amp := 0.25 * e.level
	if e.drc {
		// The synthetic leveling curve halves output, so DRC state is visible
		// in the waveform.
		amp *= 0.5
	}
	for c := 0; c < e.channels; c++ {
		freq := synthBaseHz * float64(c+1)
		step := freq / float64(e.info.SampleRate)
		phase := e.phase[c]
		base := c * blockSamples
		for n := 0; n < blockSamples; n++ {
			e.samples[base+n] = pcm.SampleFromFloat(amp*math.Sin(2*math.Pi*phase) + e.bias)
			phase += step
			if phase >= 1 {
				phase -= 1
			}
		}
		e.phase[c] = phase
	}
	e.block++
	return nil
}

func (e *SynthEngine) Samples() []pcm.Sample { return e.samples }

func (e *SynthEngine) DisableDynamicRange() { e.drc = false }

func (e *SynthEngine) Close() error {
	e.closed = true
	return nil
}
