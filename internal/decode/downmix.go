package decode

import "github.com/zsiec/dcastream/internal/dca"

// downmixOrder maps an output channel count 1..6 to the downmix request that
// fills exactly that many channels.
var downmixOrder = [6]dca.ChannelMask{
	dca.MaskMono,
	dca.MaskStereo,
	dca.MaskStereo | dca.MaskLFE,
	dca.Mask2F2R,
	dca.Mask2F2R | dca.MaskLFE,
	dca.Mask3F2R | dca.MaskLFE,
}

// selectDownmix picks the downmix target for the next frame. An explicit
// request always wins. Otherwise the choice is re-evaluated only when the
// stream's channel flags changed: the consumer's accepted channel range is
// fixated to the count nearest the stream's own, preferring to downmix here
// rather than leave it to a later conversion stage. Without a consumer
// preference the stream's native mask passes through. In the steady state
// the previous choice is reused.
func (d *Decoder) selectDownmix(frameMask dca.ChannelMask) dca.ChannelMask {
	if d.hasRequest {
		return d.requested
	}
	if !d.flagUpdatePending {
		return d.usingMask
	}
	d.flagUpdatePending = false

	lo, hi, ok := d.down.AcceptedChannelRange()
	if !ok {
		if d.streamMaskKnown {
			return d.streamMask
		}
		return dca.Mask3F2R | dca.MaskLFE
	}

	preferred := 6
	if n, err := frameMask.Channels(); err == nil {
		preferred = n
	}
	channels := clamp(preferred, lo, hi)
	if channels < 1 {
		channels = 1
	}
	if channels > 6 {
		channels = 6
	}
	return downmixOrder[channels-1]
}

// clamp fixates target to the nearest value in [lo, hi].
func clamp(target, lo, hi int) int {
	if target < lo {
		return lo
	}
	if target > hi {
		return hi
	}
	return target
}
