package decode

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zsiec/dcastream/internal/dca"
	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

// handleFrame decodes exactly one delimited frame. The caller guarantees the
// slice is the frame the scanner measured; anything else is a bug in the
// scan/consume bookkeeping, not a stream condition.
func (d *Decoder) handleFrame(frame []byte) error {
	info, err := d.engine.SyncInfo(frame)
	if err != nil || info.FrameLength != len(frame) {
		panic("decode: handleFrame window is not exactly one frame")
	}

	if info.Flags != d.prevFlags {
		d.prevFlags = info.Flags
		d.flagUpdatePending = true
	}
	if info.SampleRate != d.sampleRate {
		d.sampleRate = info.SampleRate
		d.needFormat = true
	}
	d.streamMask = info.Flags
	d.streamMaskKnown = true
	if info.BitRate != d.bitRate {
		d.bitRate = info.BitRate
		d.updateStreamInfo()
	}

	duration := int64(info.SampleCount) * int64(time.Second) / int64(info.SampleRate)
	pts := d.takePTS(duration)

	request := d.selectDownmix(info.Flags) | dca.MaskAdjustLevel
	produced, err := d.engine.Frame(frame, request, 1, 0)
	if err != nil {
		return d.failFrame(&DecodeError{Block: -1, Err: err})
	}
	produced &^= dca.MaskAdjustLevel
	if produced != d.usingMask {
		d.usingMask = produced
		d.needFormat = true
	}

	if d.needFormat {
		if err := d.negotiate(); err != nil {
			if errors.Is(err, ErrNegotiationFailed) {
				return err
			}
			return d.failFrame(&DecodeError{Block: -1, Err: err})
		}
	}

	if !d.drcEnabled {
		d.engine.DisableDynamicRange()
	}

	chans, _, err := produced.Layout()
	if err != nil {
		return d.failFrame(&DecodeError{Block: -1, Err: fmt.Errorf("%w: %s", ErrInvalidChannelLayout, produced)})
	}

	blocks := d.engine.BlockCount()
	out := make([]pcm.Sample, blocks*dca.BlockSamples*chans)
	for i := 0; i < blocks; i++ {
		if err := d.engine.DecodeBlock(); err != nil {
			d.blockErrors.Add(1)
			if dca.IsUnrecoverable(err) {
				return d.failFrame(&DecodeError{Block: i, Unrecoverable: true, Err: err})
			}
			// The block's slot stays silent; later blocks may still decode.
			d.discont = true
			d.log.Warn("block decode failed", "block", i, "error", err)
			if d.countError() {
				d.droppedFrames.Add(1)
				return &DecodeError{Block: i, Err: err}
			}
			continue
		}
		samples := d.engine.Samples()
		base := i * dca.BlockSamples * chans
		for n := 0; n < dca.BlockSamples; n++ {
			row := base + n*chans
			for c := 0; c < chans; c++ {
				out[row+d.reorderMap[c]] = samples[c*dca.BlockSamples+n]
			}
		}
	}

	d.flushTags()

	fr := &media.PCMFrame{
		PTS:           pts,
		Samples:       out,
		Format:        d.outFormat,
		Blocks:        blocks,
		Discontinuity: d.discont,
	}
	if err := d.down.WriteFrame(fr); err != nil {
		return fmt.Errorf("decode: downstream write: %w", err)
	}
	d.discont = false
	d.errCount = 0
	d.frames.Add(1)
	d.log.Debug("frame emitted",
		"pts", pts, "blocks", blocks, "channels", chans, "rate", d.sampleRate)
	return nil
}

// failFrame abandons the current frame: it never reaches the consumer and
// the next one carries the discontinuity flag. The stream itself survives
// until the error budget runs out.
func (d *Decoder) failFrame(derr *DecodeError) error {
	d.droppedFrames.Add(1)
	d.discont = true
	d.nextPTS = media.NoPTS
	d.log.Warn("frame dropped",
		"block", derr.Block, "unrecoverable", derr.Unrecoverable, "error", derr.Err)
	if d.countError() {
		return derr
	}
	return nil
}

// countError spends one unit of the error budget and reports whether it is
// exhausted. The budget refills on every successfully emitted frame.
func (d *Decoder) countError() bool {
	d.errCount++
	return d.maxErrors >= 0 && d.errCount > d.maxErrors
}

// updateStreamInfo publishes the bit rate as a tag. The open, variable, and
// lossless marker codes are not real rates and never produce one.
func (d *Decoder) updateStreamInfo() {
	if d.bitRate <= dca.BitRateLossless {
		return
	}
	if d.tags == nil {
		d.tags = make(map[string]string)
	}
	d.tags[TagBitrate] = strconv.Itoa(d.bitRate)
	d.tagsChanged = true
	d.log.Debug("bitrate updated", "bitrate", d.bitRate)
}
