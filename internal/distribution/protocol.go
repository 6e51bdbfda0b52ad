// Package distribution implements the viewer delivery layer: the per-stream
// Relay fan-out, viewer sessions, and the QUIC server that ties them together.
//
// The wire protocol is deliberately small. A viewer opens one bidirectional
// control stream, sends a varint length-prefixed JSON subscribe request, and
// receives a JSON response carrying the negotiated PCM format. Decoded frames
// then arrive as varint-framed objects on a server-initiated unidirectional
// stream; each object carries a sequence number, an optional timestamp, and
// an inline format descriptor whenever the format changed. Stats snapshots,
// when requested, ride the control stream as further JSON messages.
package distribution

import (
	"github.com/zsiec/dcastream/internal/pcm"
)

// ALPN is the TLS application protocol offered by the QUIC listener.
const ALPN = "dcastream"

// SubscribeRequest is the first message a viewer sends on its control stream.
type SubscribeRequest struct {
	Stream string `json:"stream"`
	// Stats asks the server to also send periodic snapshot messages on the
	// control stream.
	Stats bool `json:"stats,omitempty"`
}

// SubscribeResponse answers a SubscribeRequest. Format is null when nothing
// has been decoded yet; the format then arrives inline with the first data
// object instead.
type SubscribeResponse struct {
	OK     bool              `json:"ok"`
	Error  string            `json:"error,omitempty"`
	Format *FormatDescriptor `json:"format,omitempty"`
}

// FormatDescriptor is the wire form of a negotiated PCM format.
type FormatDescriptor struct {
	SampleRate   int      `json:"sampleRate"`
	Channels     int      `json:"channels"`
	Positions    []string `json:"positions"`
	SampleFormat string   `json:"sampleFormat"` // "F32LE", "S16LE", or "F64LE"
	BlockAlign   int      `json:"blockAlign"`
}

// DescribeFormat converts a negotiated format to its wire descriptor.
func DescribeFormat(f pcm.Format) FormatDescriptor {
	positions := make([]string, len(f.Positions))
	for i, p := range f.Positions {
		positions[i] = p.String()
	}
	return FormatDescriptor{
		SampleRate:   f.SampleRate,
		Channels:     f.Channels,
		Positions:    positions,
		SampleFormat: pcm.SampleFormatName,
		BlockAlign:   f.BlockAlign(),
	}
}

// statsMessage wraps a stream snapshot with the receiving viewer's own
// delivery metrics for the stats control messages.
type statsMessage struct {
	Type   string         `json:"type"`
	Stats  StreamSnapshot `json:"stats"`
	Viewer *ViewerStats   `json:"viewer,omitempty"`
}
