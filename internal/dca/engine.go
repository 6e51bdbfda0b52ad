// Package dca models the DTS Coherent Acoustics bitstream domain: channel
// masks, frame-header parsing for all four sync packings, and the Engine
// boundary behind which frame reconstruction happens.
package dca

import "github.com/zsiec/dcastream/internal/pcm"

// blockSamples is the number of PCM samples per channel in one decode block.
const blockSamples = 256

// BlockSamples is blockSamples for callers outside the package.
const BlockSamples = blockSamples

// Engine is the frame reconstruction boundary. The decoder drives an engine
// one frame at a time: SyncInfo to delimit, Frame to commit to a downmix
// target, then BlockCount iterations of DecodeBlock/Samples. Engines carry
// per-frame state and are not safe for concurrent use; each decoder owns one
// exclusively from Start to Stop.
type Engine interface {
	// SyncInfo probes for a frame header at offset 0 of data, with the same
	// contract as the package-level SyncInfo.
	SyncInfo(data []byte) (FrameInfo, error)

	// Frame begins decoding one complete frame. request carries the downmix
	// target plus modifier flags (typically MaskAdjustLevel); level and bias
	// scale the output. The returned mask is the layout the engine will
	// actually produce, which may differ from the request when the stream
	// cannot supply it (for example a missing LFE channel).
	Frame(data []byte, request ChannelMask, level, bias float64) (ChannelMask, error)

	// BlockCount reports how many decode blocks the current frame carries.
	BlockCount() int

	// DecodeBlock reconstructs the next block of the current frame. A failure
	// wrapped in UnrecoverableError poisons the remaining blocks; any other
	// failure is specific to this block.
	DecodeBlock() error

	// Samples exposes the engine's output for the last decoded block, channel
	// major: channel c occupies samples[c*256 : (c+1)*256].
	Samples() []pcm.Sample

	// DisableDynamicRange bypasses the loudness leveling curve for the
	// current frame. It must be called after Frame and before the first
	// DecodeBlock to take effect.
	DisableDynamicRange()

	// Close releases engine resources. The engine is unusable afterwards.
	Close() error
}
