// Package pipeline orchestrates the ingest-to-distribution data flow for a
// single stream, feeding raw DCA bytes through a Decoder and fanning the
// decoded PCM frames out to viewers while collecting telemetry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/zsiec/dcastream/internal/decode"
	"github.com/zsiec/dcastream/internal/distribution"
	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

// Broadcaster is the subset of distribution.Relay that the pipeline uses to
// fan decoded frames out to viewers. Accepting an interface here decouples
// the pipeline from the concrete Relay type, making it testable with stubs.
type Broadcaster interface {
	SetFormat(f pcm.Format)
	Broadcast(frame *media.PCMFrame)
	ViewerCount() int
	ViewerStatsAll() []distribution.ViewerStats
}

// readSize is how many compressed bytes each ingest read hands the decoder.
// It exceeds the largest SRT payload, so message-boundary-preserving readers
// deliver exactly one ingest unit per read.
const readSize = 4096

// Default output bounds advertised to the decoder's downmix selection.
const (
	defaultMinChannels = 1
	defaultMaxChannels = 6
)

// Pipeline bridges a single stream's ingest reader and Relay. It owns the
// Decoder, serves as its downstream consumer, and accumulates statistics for
// the control-stream stats reports.
type Pipeline struct {
	log       *slog.Logger
	relay     Broadcaster
	streamKey string
	input     io.Reader
	protocol  string

	chanLo, chanHi int
	decodeOpts     []decode.Option

	decoder *decode.Decoder
	stats   *distribution.StreamStats
}

var (
	_ decode.Downstream          = (*Pipeline)(nil)
	_ distribution.StatsProvider = (*Pipeline)(nil)
)

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithDecodeOptions passes options through to the stream's Decoder.
func WithDecodeOptions(opts ...decode.Option) Option {
	return func(p *Pipeline) { p.decodeOpts = append(p.decodeOpts, opts...) }
}

// WithChannelRange bounds the output channel counts this pipeline accepts,
// steering the decoder's downmix choice.
func WithChannelRange(lo, hi int) Option {
	return func(p *Pipeline) {
		p.chanLo = lo
		p.chanHi = hi
	}
}

// New creates a Pipeline that decodes compressed bytes from input and
// broadcasts PCM frames to all viewers via the relay.
func New(streamKey string, input io.Reader, relay Broadcaster, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:       slog.With("stream", streamKey),
		relay:     relay,
		streamKey: streamKey,
		input:     input,
		chanLo:    defaultMinChannels,
		chanHi:    defaultMaxChannels,
	}
	for _, opt := range opts {
		opt(p)
	}

	decodeOpts := append([]decode.Option{
		decode.WithLogger(slog.With("component", "decoder", "stream", streamKey)),
	}, p.decodeOpts...)
	p.decoder = decode.New(p, decodeOpts...)
	p.stats = distribution.NewStreamStats()

	return p
}

// SetProtocol records the ingest protocol name (e.g. "srt") for inclusion in
// the stats reports sent to viewers.
func (p *Pipeline) SetProtocol(proto string) {
	p.protocol = proto
}

// StreamSnapshot returns a point-in-time snapshot of stream health metrics,
// suitable for JSON serialization and delivery to viewers via the control
// stream.
func (p *Pipeline) StreamSnapshot() distribution.StreamSnapshot {
	ds := p.decoder.Stats()

	return distribution.StreamSnapshot{
		Timestamp:     time.Now().UnixMilli(),
		UptimeMs:      p.stats.Uptime().Milliseconds(),
		Protocol:      p.protocol,
		IngestBytes:   p.stats.IngestBytes(),
		IngestKbps:    p.stats.IngestKbps(),
		SourceBitrate: p.stats.SourceBitrate(),
		Decode: distribution.DecodeStats{
			Frames:          ds.Frames,
			DroppedFrames:   ds.DroppedFrames,
			BlockErrors:     ds.BlockErrors,
			BytesIn:         ds.BytesIn,
			JunkBytes:       ds.JunkBytes,
			Discontinuities: p.stats.Discontinuities(),
		},
		Output:      p.stats.Output(),
		ViewerCount: p.relay.ViewerCount(),
		Viewers:     p.relay.ViewerStatsAll(),
	}
}

// AcceptedChannelRange reports the output channel bounds to the decoder's
// downmix selection.
func (p *Pipeline) AcceptedChannelRange() (lo, hi int, ok bool) {
	return p.chanLo, p.chanHi, true
}

// SetFormat latches the negotiated output format on the relay so new viewers
// learn it at subscribe time.
func (p *Pipeline) SetFormat(f pcm.Format) error {
	p.stats.RecordFormat(f)
	p.relay.SetFormat(f)
	p.log.Info("output format negotiated", "format", f.String())
	return nil
}

// WriteFrame broadcasts one decoded frame to all viewers.
func (p *Pipeline) WriteFrame(frame *media.PCMFrame) error {
	p.stats.RecordFrame(frame)
	p.relay.Broadcast(frame)
	return nil
}

// Event receives forwarded control messages from the decoder. Bitrate tags
// feed the source-bitrate stat; everything else is log-only.
func (p *Pipeline) Event(ev decode.Event) error {
	if ev.Kind == decode.EventTag {
		if v, ok := ev.Tags[decode.TagBitrate]; ok {
			if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
				p.stats.RecordSourceBitrate(bps)
			}
		}
		return nil
	}
	p.log.Debug("control event", "kind", ev.Kind.String(), "name", ev.Name)
	return nil
}

// Run starts the decoder and drives the ingest read loop. It blocks until the
// reader is exhausted, the decoder fails terminally, or the context is
// cancelled between units. A blocked read is released by closing the ingest
// side of the reader, which is how the stream manager shuts a pipeline down.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.decoder.Start(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	defer func() {
		if err := p.decoder.Stop(); err != nil {
			p.log.Warn("decoder stop", "error", err)
		}
	}()

	// The raw ingest carries no control messages, so announce the stream
	// ourselves; the second announcement unlocks tag forwarding.
	for i := 0; i < 2; i++ {
		if err := p.decoder.SinkEvent(decode.Event{Kind: decode.EventStreamStart}); err != nil {
			return fmt.Errorf("pipeline: stream start: %w", err)
		}
	}

	buf := make([]byte, readSize)
	first := true
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := p.input.Read(buf)
		if n > 0 {
			p.stats.RecordIngest(int64(n))
			unit := media.Unit{Data: buf[:n], PTS: media.NoPTS}
			if first {
				// Ingest bytes carry no timestamps. Pinning the first unit to
				// zero gives the decoder an origin to extrapolate a running
				// clock from frame durations.
				unit.PTS = 0
				first = false
			}
			if werr := p.decoder.Write(unit); werr != nil {
				return fmt.Errorf("pipeline: decode: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				stats := p.decoder.Stats()
				p.log.Info("ingest finished",
					"frames", stats.Frames,
					"dropped", stats.DroppedFrames,
					"bytesIn", stats.BytesIn)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline: read ingest: %w", err)
		}
	}
}
