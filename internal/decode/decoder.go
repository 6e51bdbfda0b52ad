// Package decode adapts an unaligned DCA byte stream into ordered,
// timestamped, interleaved PCM. A Decoder owns one engine and one downstream
// consumer: it locates frame boundaries in the accumulated input, picks a
// downmix target for each frame, drives the engine block by block, and
// reorders the engine's native channel layout into the canonical output
// order before handing the frame downstream.
package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/dcastream/internal/dca"
	"github.com/zsiec/dcastream/internal/dvd"
	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

// Downstream consumes the decoder's output. AcceptedChannelRange steers the
// downmix choice before a format exists, so implementations should answer it
// cheaply; ok false means "no preference yet". SetFormat is called only when
// the output format actually changes. Event receives forwarded control
// messages, including the decoder's own merged tag updates.
type Downstream interface {
	AcceptedChannelRange() (lo, hi int, ok bool)
	SetFormat(f pcm.Format) error
	WriteFrame(fr *media.PCMFrame) error
	Event(ev Event) error
}

// EngineFactory builds the engine a Decoder drives. The decoder owns the
// returned engine exclusively from Start until Stop.
type EngineFactory func(accel dca.Accel) (dca.Engine, error)

// Lifecycle states reported to the observer installed with
// WithLifecycleObserver.
type Lifecycle int

const (
	LifecycleStarted Lifecycle = iota
	LifecycleStopped
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleStarted:
		return "started"
	case LifecycleStopped:
		return "stopped"
	}
	return fmt.Sprintf("Lifecycle(%d)", int(l))
}

// InputFormat describes the negotiated input packaging.
type InputFormat struct {
	// DVD marks private-stream sub-packets that carry a two-byte
	// first-access header in front of the elementary bytes.
	DVD bool
}

// defaultMaxErrors is how many frame or block failures are tolerated without
// an intervening successful frame before Write gives up on the stream.
const defaultMaxErrors = 10

// Option configures a Decoder at construction time.
type Option func(*Decoder)

// WithDynamicRange enables the stream's dynamic range compression. Off by
// default: a downmix is usually played on equipment that wants full range.
func WithDynamicRange(enabled bool) Option {
	return func(d *Decoder) { d.drcEnabled = enabled }
}

// WithRequestedChannels pins the downmix target, bypassing negotiation-based
// selection entirely.
func WithRequestedChannels(mask dca.ChannelMask) Option {
	return func(d *Decoder) {
		d.requested = mask
		d.hasRequest = true
	}
}

// WithDVDMode sets the initial input packaging; SetFormat can override it.
func WithDVDMode(enabled bool) Option {
	return func(d *Decoder) { d.dvdMode = enabled }
}

// WithEngineFactory replaces the default synthesis engine.
func WithEngineFactory(f EngineFactory) Option {
	return func(d *Decoder) { d.newEngine = f }
}

// WithAccel overrides the detected CPU capability descriptor handed to the
// engine factory.
func WithAccel(a dca.Accel) Option {
	return func(d *Decoder) { d.accel = a }
}

// WithLifecycleObserver installs a hook invoked on Start and Stop.
func WithLifecycleObserver(fn func(Lifecycle)) Option {
	return func(d *Decoder) { d.lifecycle = fn }
}

// WithUpstream installs the path SrcEvent forwards consumer events over.
func WithUpstream(fn func(Event) error) Option {
	return func(d *Decoder) { d.upstream = fn }
}

// WithMaxErrors sets the error budget; negative means unlimited.
func WithMaxErrors(n int) Option {
	return func(d *Decoder) { d.maxErrors = n }
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.log = l }
}

// Stats is a point-in-time snapshot of decoder counters.
type Stats struct {
	Frames        int64 // frames emitted downstream
	DroppedFrames int64 // frames lost to decode or layout failures
	BlockErrors   int64 // individual block failures, including inside emitted frames
	BytesIn       int64 // compressed bytes accepted by Write
	JunkBytes     int64 // bytes discarded while hunting for sync
}

// ptsMark pins an input timestamp to the absolute stream offset of the first
// byte it arrived with.
type ptsMark struct {
	off int64
	pts int64
}

// Decoder turns compressed input units into PCM frames. It is not safe for
// concurrent use; all methods must be called from one goroutine. Multiple
// decoders run independently, sharing only the immutable Accel descriptor.
type Decoder struct {
	log       *slog.Logger
	accel     dca.Accel
	newEngine EngineFactory
	down      Downstream

	drcEnabled bool
	requested  dca.ChannelMask
	hasRequest bool
	dvdMode    bool
	maxErrors  int
	lifecycle  func(Lifecycle)
	upstream   func(Event) error

	engine  dca.Engine
	started bool

	// Stream state, reset by Start.
	bitRate           int
	sampleRate        int
	streamMask        dca.ChannelMask
	streamMaskKnown   bool
	usingMask         dca.ChannelMask
	prevFlags         dca.ChannelMask
	flagUpdatePending bool

	reorderMap []int
	outFormat  pcm.Format
	needFormat bool

	startState  StartState
	tags        map[string]string
	tagsChanged bool

	buf      []byte
	pos      int64 // absolute stream offset of buf[0]
	marks    []ptsMark
	nextPTS  int64
	discont  bool
	errCount int

	frames        atomic.Int64
	droppedFrames atomic.Int64
	blockErrors   atomic.Int64
	bytesIn       atomic.Int64
	junkBytes     atomic.Int64
}

// New creates a Decoder feeding down. The default engine is the synthesis
// engine; production callers install theirs with WithEngineFactory.
func New(down Downstream, opts ...Option) *Decoder {
	d := &Decoder{
		log:   slog.With("component", "decoder"),
		accel: dca.DetectAccel(),
		newEngine: func(accel dca.Accel) (dca.Engine, error) {
			return dca.NewSynthEngine(accel), nil
		},
		down:      down,
		maxErrors: defaultMaxErrors,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start creates the engine and resets all stream state. The engine belongs
// to the decoder until Stop.
func (d *Decoder) Start() error {
	if d.started {
		return errors.New("decode: already started")
	}
	engine, err := d.newEngine(d.accel)
	if err != nil {
		return fmt.Errorf("decode: engine init: %w", err)
	}
	d.engine = engine
	d.started = true

	d.bitRate = -1
	d.sampleRate = -1
	d.streamMask = dca.MaskDualMono
	d.streamMaskKnown = false
	d.usingMask = dca.MaskDualMono
	d.prevFlags = 0
	d.flagUpdatePending = true
	d.reorderMap = nil
	d.outFormat = pcm.Format{}
	d.needFormat = true
	d.startState = StartNotStarted
	d.tags = nil
	d.tagsChanged = false
	d.buf = nil
	d.pos = 0
	d.marks = nil
	d.nextPTS = media.NoPTS
	d.discont = true
	d.errCount = 0

	d.log.Info("decoder started", "accel", d.accel, "drc", d.drcEnabled, "dvd", d.dvdMode)
	if d.lifecycle != nil {
		d.lifecycle(LifecycleStarted)
	}
	return nil
}

// Stop releases the engine. Buffered bytes that never formed a complete
// frame are discarded.
func (d *Decoder) Stop() error {
	if !d.started {
		return nil
	}
	err := d.engine.Close()
	d.engine = nil
	d.started = false
	d.buf = nil
	d.marks = nil

	d.log.Info("decoder stopped",
		"frames", d.frames.Load(),
		"dropped", d.droppedFrames.Load(),
		"junkBytes", d.junkBytes.Load())
	if d.lifecycle != nil {
		d.lifecycle(LifecycleStopped)
	}
	if err != nil {
		return fmt.Errorf("decode: engine close: %w", err)
	}
	return nil
}

// SetFormat applies the negotiated input format. It affects how Write slices
// input units, not the output side.
func (d *Decoder) SetFormat(f InputFormat) {
	d.dvdMode = f.DVD
	d.log.Info("input format", "dvd", f.DVD)
}

// Write feeds one input unit through the decoder, emitting every complete
// frame the accumulated bytes now delimit. A nil return covers both "frames
// emitted" and "waiting for more data"; a non-nil return is terminal for the
// stream.
func (d *Decoder) Write(unit media.Unit) error {
	if !d.started {
		return ErrNotStarted
	}
	d.bytesIn.Add(int64(len(unit.Data)))

	if d.dvdMode {
		subs, err := dvd.Split(unit)
		if err != nil {
			return fmt.Errorf("decode: dvd split: %w", err)
		}
		for _, sub := range subs {
			if err := d.push(sub); err != nil {
				return err
			}
		}
		return nil
	}
	return d.push(unit)
}

// push appends one unit to the scan buffer and drains complete frames.
func (d *Decoder) push(unit media.Unit) error {
	if unit.HasPTS() {
		d.marks = append(d.marks, ptsMark{off: d.pos + int64(len(d.buf)), pts: unit.PTS})
	}
	d.buf = append(d.buf, unit.Data...)

	for {
		skip, length, err := d.scan()
		if skip > 0 {
			d.junkBytes.Add(int64(skip))
			d.advance(skip)
		}
		if err != nil {
			break
		}
		ferr := d.handleFrame(d.buf[:length])
		d.advance(length)
		if ferr != nil {
			return ferr
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	if len(d.marks) == 0 {
		d.marks = nil
	}
	return nil
}

// scan hunts for the next frame in the buffer. skip counts junk bytes in
// front of the sync point and is meaningful in every outcome, so the junk is
// flushed whether or not a frame was found. A sync pattern whose header or
// body extends past the buffer reports ErrNeedMoreData from that position.
func (d *Decoder) scan() (skip, length int, err error) {
	off := 0
	for len(d.buf)-off >= dca.MinHeaderWindow {
		info, serr := d.engine.SyncInfo(d.buf[off:])
		switch {
		case errors.Is(serr, dca.ErrNoSync):
			off++
		case serr != nil:
			return off, 0, ErrNeedMoreData
		case info.FrameLength <= len(d.buf)-off:
			return off, info.FrameLength, nil
		default:
			return off, 0, ErrNeedMoreData
		}
	}
	return off, 0, ErrNeedMoreData
}

// advance consumes n bytes from the front of the scan buffer.
func (d *Decoder) advance(n int) {
	d.buf = d.buf[n:]
	d.pos += int64(n)
}

// takePTS resolves the timestamp for a frame starting at the current buffer
// head. Marks at or before the frame start are consumed; the latest one wins.
// Without a mark the frame extends the previous frame's timestamp by its
// duration, until a decode error breaks the chain.
func (d *Decoder) takePTS(duration int64) int64 {
	pts := media.NoPTS
	for len(d.marks) > 0 && d.marks[0].off <= d.pos {
		pts = d.marks[0].pts
		d.marks = d.marks[1:]
	}
	if pts == media.NoPTS {
		pts = d.nextPTS
	}
	if pts != media.NoPTS {
		d.nextPTS = pts + duration
	}
	return pts
}

// Format returns the negotiated output format, ok once negotiation has
// succeeded at least once since Start.
func (d *Decoder) Format() (pcm.Format, bool) {
	return d.outFormat, d.outFormat.Channels > 0
}

// Stats returns a snapshot of the decoder counters. Safe to call from other
// goroutines.
func (d *Decoder) Stats() Stats {
	return Stats{
		Frames:        d.frames.Load(),
		DroppedFrames: d.droppedFrames.Load(),
		BlockErrors:   d.blockErrors.Load(),
		BytesIn:       d.bytesIn.Load(),
		JunkBytes:     d.junkBytes.Load(),
	}
}
