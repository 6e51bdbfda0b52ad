package distribution

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

// Viewer is the interface a viewer session must implement to receive frames
// from a Relay.
type Viewer interface {
	ID() string
	SendFrame(frame *media.PCMFrame)
	Stats() ViewerStats
}

// frameCacheSize is the number of recent frames cached for replay to
// late-joining viewers (~1 second at the usual 512-sample core frame).
const frameCacheSize = 96

// Relay is the fan-out hub for a single stream. It distributes decoded PCM
// frames from the pipeline to all connected viewers and caches the most
// recent second of audio so new sessions can pre-fill their playback buffers.
type Relay struct {
	log *slog.Logger

	mu          sync.RWMutex
	sessions    map[string]Viewer
	format      pcm.Format
	formatSet   bool
	formatReady chan struct{}

	cacheMu sync.RWMutex
	cache   []*media.PCMFrame
}

// NewRelay creates a Relay with no viewers.
func NewRelay() *Relay {
	return &Relay{
		log:         slog.With("component", "relay"),
		sessions:    make(map[string]Viewer),
		formatReady: make(chan struct{}),
	}
}

// SetFormat records the negotiated output format. The first call unblocks
// WaitFormat; later calls track mid-stream renegotiation.
func (r *Relay) SetFormat(format pcm.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := !r.formatSet
	r.format = format
	r.formatSet = true
	if first {
		close(r.formatReady)
	}
	r.log.Debug("output format set", "format", format.String())
}

// Format returns the most recently negotiated output format.
func (r *Relay) Format() (pcm.Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.format, r.formatSet
}

// WaitFormat blocks until the first format negotiation completes or ctx is
// cancelled. Returns true when a format is available.
func (r *Relay) WaitFormat(ctx context.Context) bool {
	r.mu.RLock()
	if r.formatSet {
		r.mu.RUnlock()
		return true
	}
	r.mu.RUnlock()

	select {
	case <-r.formatReady:
		return true
	case <-ctx.Done():
		return false
	}
}

// AddViewer replays the cached recent frames to the viewer, then registers
// it for live delivery. Replay happens before registration so Broadcast
// cannot interleave live frames ahead of the replayed ones.
func (r *Relay) AddViewer(session Viewer) {
	r.replayCache(session)

	r.mu.Lock()
	r.sessions[session.ID()] = session
	r.mu.Unlock()

	r.log.Info("viewer added", "session", session.ID(), "viewers", r.ViewerCount())
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.log.Info("viewer removed", "session", id, "viewers", r.ViewerCount())
}

// Broadcast sends a decoded frame to all connected viewers and updates the
// replay cache. Every frame is independently decodable, so the cache never
// needs a reset; frames carry their own format for viewers that joined
// across a renegotiation.
func (r *Relay) Broadcast(frame *media.PCMFrame) {
	r.cacheMu.Lock()
	if len(r.cache) >= frameCacheSize {
		copy(r.cache, r.cache[1:])
		r.cache[len(r.cache)-1] = frame
	} else {
		r.cache = append(r.cache, frame)
	}
	r.cacheMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, session := range r.sessions {
		session.SendFrame(frame)
	}
}

func (r *Relay) replayCache(session Viewer) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, frame := range r.cache {
		session.SendFrame(frame)
	}
}

// ViewerCount returns the number of currently connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ViewerStatsAll returns delivery metrics for every connected viewer.
func (r *Relay) ViewerStatsAll() []ViewerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ViewerStats, 0, len(r.sessions))
	for _, s := range r.sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}
