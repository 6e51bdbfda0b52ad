package decode

import (
	"fmt"

	"github.com/zsiec/dcastream/internal/pcm"
)

// maxOutputChannels is the hard cap on negotiated output channels: six
// speakers plus LFE.
const maxOutputChannels = 7

// negotiate resolves the produced mask into the canonical output layout and
// declares it downstream. It runs only when the sample rate or the produced
// mask changed since the last successful negotiation.
func (d *Decoder) negotiate() error {
	chans, native, err := d.usingMask.Layout()
	if err != nil || chans < 1 || chans > maxOutputChannels {
		return fmt.Errorf("%w: %s", ErrInvalidChannelLayout, d.usingMask)
	}

	valid := pcm.ValidOrder(native)
	reorder, err := pcm.ReorderMap(native, valid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChannelLayout, err)
	}

	f := pcm.Format{SampleRate: d.sampleRate, Channels: chans, Positions: valid}
	if err := d.down.SetFormat(f); err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	d.reorderMap = reorder
	d.outFormat = f
	d.needFormat = false
	d.log.Info("output negotiated", "format", f, "mask", d.usingMask)
	return nil
}
