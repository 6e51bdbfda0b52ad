package distribution

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/zsiec/dcastream/internal/media"
)

func TestSessionSendFrameDropsWhenFull(t *testing.T) {
	t.Parallel()

	s := NewSession("test", nil)

	// Nothing drains the channel, so everything past the buffer is dropped.
	const extra = 5
	for i := 0; i < media.FrameBufferSize+extra; i++ {
		s.SendFrame(stereoFrame(int64(i) * 1000))
	}

	stats := s.Stats()
	if stats.FramesSent != media.FrameBufferSize {
		t.Errorf("FramesSent = %d, want %d", stats.FramesSent, media.FrameBufferSize)
	}
	if stats.FramesDropped != extra {
		t.Errorf("FramesDropped = %d, want %d", stats.FramesDropped, extra)
	}
}

func TestSessionSendFrameAfterClose(t *testing.T) {
	t.Parallel()

	s := NewSession("test", nil)
	s.closed.Store(true)

	s.SendFrame(stereoFrame(0))

	stats := s.Stats()
	if stats.FramesSent != 0 || stats.FramesDropped != 0 {
		t.Errorf("stats after close = %+v, want zeros", stats)
	}
}

func TestSessionStats(t *testing.T) {
	t.Parallel()

	s := NewSession("abc123", nil)
	s.SendFrame(stereoFrame(1000))

	stats := s.Stats()
	if stats.ID != "abc123" {
		t.Errorf("ID = %q, want abc123", stats.ID)
	}
	if stats.FramesSent != 1 {
		t.Errorf("FramesSent = %d, want 1", stats.FramesSent)
	}
	if s.ID() != "abc123" {
		t.Errorf("ID() = %q", s.ID())
	}
}

func TestSessionRunStatsNilProvider(t *testing.T) {
	t.Parallel()

	s := NewSession("test", nil)
	done := make(chan struct{})
	go func() {
		s.RunStats(context.Background(), io.Discard, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunStats did not return for a nil provider")
	}
}
