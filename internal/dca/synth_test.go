package dca

import (
	"testing"

	"github.com/zsiec/dcastream/internal/pcm"
)

// synthFrame is a complete 512-byte frame built from the reference header.
func synthFrame() []byte {
	frame := make([]byte, 512)
	copy(frame, refHeader16BE)
	return frame
}

func TestSynthEngineFrame(t *testing.T) {
	e := NewSynthEngine(Accel{})
	defer e.Close()

	mask, err := e.Frame(synthFrame(), Mask3F2R|MaskLFE|MaskAdjustLevel, 1, 0)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if mask != Mask3F2R|MaskLFE {
		t.Errorf("produced mask = %s, want 3F2R|LFE", mask)
	}
	if e.BlockCount() != 2 {
		t.Errorf("BlockCount = %d, want 2", e.BlockCount())
	}

	if err := e.DecodeBlock(); err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if got := len(e.Samples()); got != 6*BlockSamples {
		t.Errorf("samples = %d, want %d", got, 6*BlockSamples)
	}
	if err := e.DecodeBlock(); err != nil {
		t.Fatalf("DecodeBlock 2: %v", err)
	}
	if err := e.DecodeBlock(); err == nil {
		t.Error("decoding past the last block should fail")
	}
}

func TestSynthEngineDropsLFEWhenStreamLacksIt(t *testing.T) {
	frame := synthFrame()
	frame[10] = 0x00 // clear the LFE flag bits

	e := NewSynthEngine(Accel{})
	defer e.Close()

	mask, err := e.Frame(frame, Mask3F2R|MaskLFE, 1, 0)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if mask.HasLFE() {
		t.Error("engine should not produce LFE the stream does not carry")
	}
	if mask.Config() != Mask3F2R {
		t.Errorf("config = %d, want 3F2R", int(mask.Config()))
	}
}

func TestSynthEngineShortFrame(t *testing.T) {
	e := NewSynthEngine(Accel{})
	defer e.Close()

	if _, err := e.Frame(synthFrame()[:100], MaskStereo, 1, 0); err == nil {
		t.Error("short frame should fail")
	}
}

func TestSynthEngineInvalidRequest(t *testing.T) {
	e := NewSynthEngine(Accel{})
	defer e.Close()

	if _, err := e.Frame(synthFrame(), MaskDualMono, 1, 0); err == nil {
		t.Error("dual mono request should fail")
	}
}

func TestSynthEngineDynamicRange(t *testing.T) {
	e := NewSynthEngine(Accel{})
	defer e.Close()

	if _, err := e.Frame(synthFrame(), MaskMono, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.DecodeBlock(); err != nil {
		t.Fatal(err)
	}
	leveled := peak(e.Samples())

	if _, err := e.Frame(synthFrame(), MaskMono, 1, 0); err != nil {
		t.Fatal(err)
	}
	e.DisableDynamicRange()
	if err := e.DecodeBlock(); err != nil {
		t.Fatal(err)
	}
	bypassed := peak(e.Samples())

	if bypassed <= leveled {
		t.Errorf("bypassed peak %v not above leveled peak %v", bypassed, leveled)
	}
}

func peak(samples []pcm.Sample) pcm.Sample {
	var p pcm.Sample
	for _, s := range samples {
		if s > p {
			p = s
		}
		if -s > p {
			p = -s
		}
	}
	return p
}
