package distribution

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

// Compile-time interface check.
var _ Viewer = (*Session)(nil)

// Session manages a single viewer connection. It implements Viewer so the
// Relay can fan frames out to it; internally a dedicated write loop drains
// the frame channel onto one unidirectional QUIC stream, framing each frame
// as a wire object. Frames are dropped, never queued unboundedly, when the
// viewer cannot keep up.
type Session struct {
	id   string
	log  *slog.Logger
	conn quic.Connection

	frameCh chan *media.PCMFrame
	closed  atomic.Bool

	framesSent    atomic.Int64
	framesDropped atomic.Int64
	bytesSent     atomic.Int64
	lastPTSMs     atomic.Int64
}

// NewSession creates a viewer session over an accepted QUIC connection.
func NewSession(id string, conn quic.Connection) *Session {
	return &Session{
		id:      id,
		log:     slog.With("component", "session", "session", id),
		conn:    conn,
		frameCh: make(chan *media.PCMFrame, media.FrameBufferSize),
	}
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string { return s.id }

// SendFrame queues a frame for delivery without blocking. A full channel
// counts as a drop; the viewer resynchronizes from the sequence numbers.
func (s *Session) SendFrame(frame *media.PCMFrame) {
	if s.closed.Load() {
		return
	}
	select {
	case s.frameCh <- frame:
		s.framesSent.Add(1)
	default:
		s.framesDropped.Add(1)
	}
}

// Stats returns delivery metrics for this session.
func (s *Session) Stats() ViewerStats {
	return ViewerStats{
		ID:            s.id,
		FramesSent:    s.framesSent.Load(),
		FramesDropped: s.framesDropped.Load(),
		BytesSent:     s.bytesSent.Load(),
		LastPTSMs:     s.lastPTSMs.Load(),
	}
}

// Run opens the data stream and writes queued frames until ctx is cancelled
// or the viewer goes away. It blocks; the caller owns viewer registration.
func (s *Session) Run(ctx context.Context) error {
	defer s.closed.Store(true)

	stream, err := s.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("distribution: open data stream: %w", err)
	}
	defer stream.Close()

	var (
		seq        uint64
		lastFormat pcm.Format
		haveFormat bool
		payload    []byte
		buf        []byte
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-s.frameCh:
			if !ok {
				return nil
			}

			payload = pcm.AppendSamples(payload[:0], frame.Samples)
			obj := Object{
				Sequence:      seq,
				PTS:           frame.PTS,
				Discontinuity: frame.Discontinuity,
				Payload:       payload,
			}
			if !haveFormat || !frame.Format.Equal(lastFormat) {
				desc := DescribeFormat(frame.Format)
				obj.Format = &desc
				lastFormat = frame.Format
				haveFormat = true
			}

			encoded, err := AppendObject(buf[:0], &obj)
			if err != nil {
				s.log.Warn("frame encode failed", "error", err)
				continue
			}
			buf = encoded

			if _, err := stream.Write(buf); err != nil {
				return fmt.Errorf("distribution: write frame: %w", err)
			}

			seq++
			s.bytesSent.Add(int64(len(buf)))
			if frame.PTS != media.NoPTS {
				s.lastPTSMs.Store(frame.PTS / int64(time.Millisecond))
			}
		}
	}
}

// RunStats periodically writes snapshot messages on the control stream until
// ctx is cancelled or a write fails. Used when the viewer opts in via
// SubscribeRequest.Stats.
func (s *Session) RunStats(ctx context.Context, w io.Writer, provider StatsProvider) {
	if provider == nil {
		return
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.closed.Load() {
				return
			}

			viewer := s.Stats()
			msg := statsMessage{
				Type:   "stats",
				Stats:  provider.StreamSnapshot(),
				Viewer: &viewer,
			}
			if err := WriteJSON(w, msg); err != nil {
				s.log.Debug("stats write failed", "error", err)
				return
			}
		}
	}
}
