package dca

import (
	"fmt"
	"strings"

	"github.com/zsiec/dcastream/internal/pcm"
)

// ChannelMask combines a speaker-configuration code with optional modifier
// flags. The configuration codes match the bitstream's audio mode values, so
// a parsed header's code can be used directly as a mask.
type ChannelMask int

const (
	MaskMono          ChannelMask = 0
	MaskDualMono      ChannelMask = 1
	MaskStereo        ChannelMask = 2
	MaskStereoSumDiff ChannelMask = 3
	MaskStereoTotal   ChannelMask = 4
	Mask3F            ChannelMask = 5
	Mask2F1R          ChannelMask = 6
	Mask3F1R          ChannelMask = 7
	Mask2F2R          ChannelMask = 8
	Mask3F2R          ChannelMask = 9
	Mask4F2R          ChannelMask = 10

	// MaskDolby requests a Dolby Surround compatible two-channel downmix. It
	// never appears as a native stream configuration.
	MaskDolby ChannelMask = 101

	// MaskLFE adds a low-frequency effects channel to any configuration.
	MaskLFE ChannelMask = 0x80

	// MaskAdjustLevel asks the engine to normalize output level while
	// downmixing.
	MaskAdjustLevel ChannelMask = 0x100
)

// Config returns the configuration code with modifier flags stripped.
func (m ChannelMask) Config() ChannelMask {
	return m &^ (MaskLFE | MaskAdjustLevel)
}

// HasLFE reports whether the low-frequency effects flag is set.
func (m ChannelMask) HasLFE() bool {
	return m&MaskLFE != 0
}

// Layout resolves the mask to its channel count and ordered native speaker
// positions. The position order is the engine's per-channel output order, not
// the canonical interleave order. Unknown configuration codes, including dual
// mono, fail with ErrInvalidMask.
func (m ChannelMask) Layout() (int, []pcm.Position, error) {
	var positions []pcm.Position
	switch m.Config() {
	case MaskMono:
		positions = []pcm.Position{pcm.Mono}
	case MaskStereo, MaskStereoSumDiff, MaskStereoTotal, MaskDolby:
		positions = []pcm.Position{pcm.FrontLeft, pcm.FrontRight}
	case Mask3F:
		positions = []pcm.Position{pcm.FrontCenter, pcm.FrontLeft, pcm.FrontRight}
	case Mask2F1R:
		positions = []pcm.Position{pcm.FrontLeft, pcm.FrontRight, pcm.RearCenter}
	case Mask3F1R:
		positions = []pcm.Position{pcm.FrontCenter, pcm.FrontLeft, pcm.FrontRight, pcm.RearCenter}
	case Mask2F2R:
		positions = []pcm.Position{pcm.FrontLeft, pcm.FrontRight, pcm.RearLeft, pcm.RearRight}
	case Mask3F2R:
		positions = []pcm.Position{pcm.FrontCenter, pcm.FrontLeft, pcm.FrontRight, pcm.RearLeft, pcm.RearRight}
	case Mask4F2R:
		positions = []pcm.Position{pcm.FrontLeftOfCenter, pcm.FrontRightOfCenter, pcm.FrontLeft, pcm.FrontRight, pcm.RearLeft, pcm.RearRight}
	default:
		return 0, nil, ErrInvalidMask
	}
	if m.HasLFE() {
		positions = append(positions, pcm.LFE)
	}
	return len(positions), positions, nil
}

// Channels returns the channel count the mask resolves to.
func (m ChannelMask) Channels() (int, error) {
	n, _, err := m.Layout()
	return n, err
}

var configNames = map[ChannelMask]string{
	MaskMono:          "MONO",
	MaskDualMono:      "DUAL",
	MaskStereo:        "STEREO",
	MaskStereoSumDiff: "SUMDIFF",
	MaskStereoTotal:   "TOTAL",
	Mask3F:            "3F",
	Mask2F1R:          "2F1R",
	Mask3F1R:          "3F1R",
	Mask2F2R:          "2F2R",
	Mask3F2R:          "3F2R",
	Mask4F2R:          "4F2R",
	MaskDolby:         "DOLBY",
}

func (m ChannelMask) String() string {
	var b strings.Builder
	if name, ok := configNames[m.Config()]; ok {
		b.WriteString(name)
	} else {
		fmt.Fprintf(&b, "CONFIG(%d)", int(m.Config()))
	}
	if m.HasLFE() {
		b.WriteString("|LFE")
	}
	return b.String()
}
