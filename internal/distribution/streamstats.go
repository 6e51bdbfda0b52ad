package distribution

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

// DecodeStats is the snapshot view of the decoder counters.
type DecodeStats struct {
	Frames          int64 `json:"frames"`
	DroppedFrames   int64 `json:"droppedFrames"`
	BlockErrors     int64 `json:"blockErrors"`
	BytesIn         int64 `json:"bytesIn"`
	JunkBytes       int64 `json:"junkBytes"`
	Discontinuities int64 `json:"discontinuities"`
}

// OutputStats describes the negotiated PCM output in a snapshot.
type OutputStats struct {
	SampleRate   int      `json:"sampleRate"`
	Channels     int      `json:"channels"`
	Positions    []string `json:"positions,omitempty"`
	SampleFormat string   `json:"sampleFormat"`
	FrameRate    float64  `json:"frameRate"` // decoded frames per second
	PCMKbps      float64  `json:"pcmKbps"`   // payload bitrate at the current format
	LastPTSMs    int64    `json:"lastPtsMs,omitempty"`
}

// ViewerStats captures per-viewer delivery metrics, used for diagnostics and
// the stats control messages.
type ViewerStats struct {
	ID            string `json:"id"`
	FramesSent    int64  `json:"framesSent"`
	FramesDropped int64  `json:"framesDropped"`
	BytesSent     int64  `json:"bytesSent"`
	LastPTSMs     int64  `json:"lastPtsMs,omitempty"`
}

// StreamSnapshot is the top-level stats payload sent periodically to viewers
// over the control stream. It aggregates ingest, decoder, output, and viewer
// metrics into a single JSON-serializable structure.
type StreamSnapshot struct {
	Timestamp     int64         `json:"ts"`
	UptimeMs      int64         `json:"uptimeMs"`
	Protocol      string        `json:"protocol"`
	IngestBytes   int64         `json:"ingestBytes"`
	IngestKbps    float64       `json:"ingestKbps"`
	SourceBitrate int64         `json:"sourceBitrate,omitempty"` // nominal, from the frame headers
	Decode        DecodeStats   `json:"decode"`
	Output        OutputStats   `json:"output"`
	ViewerCount   int           `json:"viewerCount"`
	Viewers       []ViewerStats `json:"viewers,omitempty"`
}

// slidingWindow is how far back the ingest bitrate and frame rate look.
const slidingWindow = 2 * time.Second

type rateEntry struct {
	ts    time.Time
	bytes int64
}

// StreamStats accumulates per-stream telemetry in a concurrency-safe manner
// using atomic counters, and produces the point-in-time values snapshots are
// built from. The pipeline records into it; the stats loop reads from it.
//
// Fields are organized by the mechanism that guards them:
//   - Atomic counters: lock-free concurrent reads/writes
//   - rateMu: ingest bitrate sliding window
//   - fpsMu: decoded frame rate sliding window
//   - formatMu: negotiated output format
type StreamStats struct {
	start time.Time

	ingestBytes     atomic.Int64
	frames          atomic.Int64
	pcmBytes        atomic.Int64
	discontinuities atomic.Int64
	lastPTS         atomic.Int64
	sourceBitrate   atomic.Int64

	// rateMu guards rateWindow
	rateMu     sync.Mutex
	rateWindow []rateEntry

	// fpsMu guards fpsWindow
	fpsMu     sync.Mutex
	fpsWindow []time.Time

	// formatMu guards format
	formatMu  sync.RWMutex
	format    pcm.Format
	formatSet bool
}

// NewStreamStats creates a StreamStats anchored at the current time.
func NewStreamStats() *StreamStats {
	ss := &StreamStats{start: time.Now()}
	ss.lastPTS.Store(media.NoPTS)
	return ss
}

// RecordIngest records compressed bytes arriving from the source.
func (ss *StreamStats) RecordIngest(n int64) {
	ss.ingestBytes.Add(n)

	now := time.Now()
	ss.rateMu.Lock()
	ss.rateWindow = append(ss.rateWindow, rateEntry{ts: now, bytes: n})
	cutoff := now.Add(-slidingWindow)
	i := 0
	for i < len(ss.rateWindow) && ss.rateWindow[i].ts.Before(cutoff) {
		i++
	}
	ss.rateWindow = ss.rateWindow[i:]
	ss.rateMu.Unlock()
}

// RecordFrame records one decoded frame leaving the decoder.
func (ss *StreamStats) RecordFrame(frame *media.PCMFrame) {
	ss.frames.Add(1)
	ss.pcmBytes.Add(int64(len(frame.Samples) * pcm.BytesPerSample))
	if frame.Discontinuity {
		ss.discontinuities.Add(1)
	}
	if frame.PTS != media.NoPTS {
		ss.lastPTS.Store(frame.PTS)
	}

	now := time.Now()
	ss.fpsMu.Lock()
	ss.fpsWindow = append(ss.fpsWindow, now)
	cutoff := now.Add(-slidingWindow)
	j := 0
	for j < len(ss.fpsWindow) && ss.fpsWindow[j].Before(cutoff) {
		j++
	}
	ss.fpsWindow = ss.fpsWindow[j:]
	ss.fpsMu.Unlock()
}

// RecordFormat stores the negotiated output format.
func (ss *StreamStats) RecordFormat(f pcm.Format) {
	ss.formatMu.Lock()
	ss.format = f
	ss.formatSet = true
	ss.formatMu.Unlock()
}

// RecordSourceBitrate stores the nominal bit rate reported by the stream's
// frame headers, in bits per second.
func (ss *StreamStats) RecordSourceBitrate(bps int64) {
	ss.sourceBitrate.Store(bps)
}

// IngestBytes returns the total compressed bytes recorded so far.
func (ss *StreamStats) IngestBytes() int64 { return ss.ingestBytes.Load() }

// SourceBitrate returns the last recorded nominal source bit rate.
func (ss *StreamStats) SourceBitrate() int64 { return ss.sourceBitrate.Load() }

// Discontinuities returns the number of frames flagged as discontinuous.
func (ss *StreamStats) Discontinuities() int64 { return ss.discontinuities.Load() }

// Uptime returns how long this stream has been running.
func (ss *StreamStats) Uptime() time.Duration { return time.Since(ss.start) }

// IngestKbps computes the current ingest bitrate from the sliding window.
func (ss *StreamStats) IngestKbps() float64 {
	ss.rateMu.Lock()
	defer ss.rateMu.Unlock()

	if len(ss.rateWindow) < 2 {
		return 0
	}

	first := ss.rateWindow[0].ts
	last := ss.rateWindow[len(ss.rateWindow)-1].ts
	dur := last.Sub(first).Seconds()
	if dur <= 0 {
		return 0
	}

	var total int64
	for _, e := range ss.rateWindow {
		total += e.bytes
	}
	return float64(total) * 8 / dur / 1000
}

// FrameRate computes the current decoded frame rate from the sliding window.
func (ss *StreamStats) FrameRate() float64 {
	ss.fpsMu.Lock()
	defer ss.fpsMu.Unlock()

	if len(ss.fpsWindow) < 2 {
		return 0
	}

	first := ss.fpsWindow[0]
	last := ss.fpsWindow[len(ss.fpsWindow)-1]
	dur := last.Sub(first).Seconds()
	if dur <= 0 {
		return 0
	}

	return float64(len(ss.fpsWindow)-1) / dur
}

// Output produces the output side of a snapshot. PCM bitrate is derived from
// the format; interleaved PCM has a fixed rate once negotiated.
func (ss *StreamStats) Output() OutputStats {
	ss.formatMu.RLock()
	format := ss.format
	set := ss.formatSet
	ss.formatMu.RUnlock()

	out := OutputStats{
		SampleFormat: pcm.SampleFormatName,
		FrameRate:    ss.FrameRate(),
	}
	if set {
		out.SampleRate = format.SampleRate
		out.Channels = format.Channels
		out.Positions = make([]string, len(format.Positions))
		for i, p := range format.Positions {
			out.Positions[i] = p.String()
		}
		out.PCMKbps = float64(format.SampleRate*format.BlockAlign()) * 8 / 1000
	}
	if pts := ss.lastPTS.Load(); pts != media.NoPTS {
		out.LastPTSMs = pts / int64(time.Millisecond)
	}
	return out
}
