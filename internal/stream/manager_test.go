package stream

import (
	"testing"
)

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create("test-stream", "srt")
	if !ok {
		t.Fatal("Create returned not-ok for new stream")
	}
	if s == nil {
		t.Fatal("Create returned nil")
	}
	if s.Key != "test-stream" {
		t.Errorf("key: got %q, want %q", s.Key, "test-stream")
	}
	if s.Protocol != "srt" {
		t.Errorf("protocol: got %q, want %q", s.Protocol, "srt")
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	got, ok := m.Get("test-stream")
	if !ok || got != s {
		t.Error("Get should return the created stream")
	}
	if _, ok := m.Get("other"); ok {
		t.Error("Get should miss for an unknown key")
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	_, ok1 := m.Create("test", "srt")
	if !ok1 {
		t.Fatal("first Create should succeed")
	}
	s2, ok2 := m.Create("test", "srt")

	if ok2 {
		t.Error("duplicate Create should return false")
	}
	if s2 != nil {
		t.Error("duplicate Create should return nil stream")
	}
}

func TestManagerRemove(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	m.Create("test", "srt")
	if m.Count() != 1 {
		t.Errorf("count: got %d, want 1", m.Count())
	}

	m.Remove("test")
	if m.Count() != 0 {
		t.Errorf("count after remove: got %d, want 0", m.Count())
	}
}

func TestManagerList(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	m.Create("stream-a", "srt")
	m.Create("stream-b", "srt")
	m.Create("stream-c", "file")

	streams := m.List()
	if len(streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(streams))
	}

	keys := make(map[string]bool)
	for _, s := range streams {
		keys[s.Key] = true
	}

	for _, k := range []string{"stream-a", "stream-b", "stream-c"} {
		if !keys[k] {
			t.Errorf("missing stream %q", k)
		}
	}
}

func TestManagerRemoveNonexistent(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	// Should not panic
	m.Remove("nonexistent")
}

func TestStreamUptime(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("test", "srt")
	if s.Uptime() < 0 {
		t.Errorf("Uptime = %v, want non-negative", s.Uptime())
	}
}
