package decode

import (
	"errors"
	"testing"

	"github.com/zsiec/dcastream/internal/dca"
	"github.com/zsiec/dcastream/internal/dvd"
	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

// refHeader is a 16-bit big-endian core header: 512-byte frame, two decode
// blocks of 256 samples, 3F2R with LFE, 48 kHz, 1536 kbit/s.
var refHeader = []byte{0x7f, 0xfe, 0x80, 0x01, 0xfc, 0x3c, 0x1f, 0xf2, 0x77, 0x00, 0x04, 0x00}

// frameDuration is the play time of one reference frame in nanoseconds.
const frameDuration = 512 * int64(1e9) / 48000

// testFrame builds a complete frame around refHeader, with optional header
// byte patches.
func testFrame(patch map[int]byte) []byte {
	frame := make([]byte, 512)
	copy(frame, refHeader)
	for i, b := range patch {
		frame[i] = b
	}
	return frame
}

func unit(data []byte, pts int64) media.Unit {
	return media.Unit{Data: data, PTS: pts}
}

// stubEngine wraps the real header parser with scripted decode behavior. The
// sample pattern is channel*1000 + sample index, so interleave tests can
// identify exactly where every value landed.
type stubEngine struct {
	frameErr  error
	blockErrs map[int]error
	produced  func(request dca.ChannelMask) dca.ChannelMask

	info     dca.FrameInfo
	channels int
	block    int
	samples  []pcm.Sample
}

var _ dca.Engine = (*stubEngine)(nil)

func (e *stubEngine) SyncInfo(data []byte) (dca.FrameInfo, error) {
	return dca.SyncInfo(data)
}

func (e *stubEngine) Frame(data []byte, request dca.ChannelMask, level, bias float64) (dca.ChannelMask, error) {
	if e.frameErr != nil {
		return 0, e.frameErr
	}
	info, err := dca.SyncInfo(data)
	if err != nil {
		return 0, err
	}
	e.info = info
	mask := request &^ dca.MaskAdjustLevel
	if e.produced != nil {
		mask = e.produced(request)
	}
	if n, _, err := mask.Layout(); err == nil {
		e.channels = n
	}
	e.block = 0
	return mask, nil
}

func (e *stubEngine) BlockCount() int { return e.info.BlockCount }

func (e *stubEngine) DecodeBlock() error {
	i := e.block
	e.block++
	if err := e.blockErrs[i]; err != nil {
		return err
	}
	if len(e.samples) != e.channels*dca.BlockSamples {
		e.samples = make([]pcm.Sample, e.channels*dca.BlockSamples)
	}
	for c := 0; c < e.channels; c++ {
		for n := 0; n < dca.BlockSamples; n++ {
			e.samples[c*dca.BlockSamples+n] = pcm.Sample(c*1000 + n)
		}
	}
	return nil
}

func (e *stubEngine) Samples() []pcm.Sample { return e.samples }

func (e *stubEngine) DisableDynamicRange() {}

func (e *stubEngine) Close() error { return nil }

// stubDown records everything the decoder sends downstream.
type stubDown struct {
	lo, hi   int
	haveCaps bool

	setFormatErr error
	writeErr     error

	formats []pcm.Format
	frames  []*media.PCMFrame
	events  []Event
}

var _ Downstream = (*stubDown)(nil)

func (s *stubDown) AcceptedChannelRange() (int, int, bool) { return s.lo, s.hi, s.haveCaps }

func (s *stubDown) SetFormat(f pcm.Format) error {
	if s.setFormatErr != nil {
		return s.setFormatErr
	}
	s.formats = append(s.formats, f)
	return nil
}

func (s *stubDown) WriteFrame(fr *media.PCMFrame) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.frames = append(s.frames, fr)
	return nil
}

func (s *stubDown) Event(ev Event) error {
	s.events = append(s.events, ev)
	return nil
}

func newTestDecoder(t *testing.T, down Downstream, engine dca.Engine, opts ...Option) *Decoder {
	t.Helper()
	opts = append(opts, WithEngineFactory(func(dca.Accel) (dca.Engine, error) {
		return engine, nil
	}))
	d := New(down, opts...)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d
}

func TestWriteEmitsFrameAcrossSplitInput(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	d := newTestDecoder(t, down, &stubEngine{})

	frame := testFrame(nil)
	junk := []byte{0xde, 0xad, 0xbe, 0xef}

	if err := d.Write(unit(append(junk, frame[:100]...), 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(down.frames) != 0 {
		t.Fatal("frame emitted before its bytes arrived")
	}
	if err := d.Write(unit(frame[100:], media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(down.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(down.frames))
	}
	fr := down.frames[0]
	if fr.Blocks != 2 {
		t.Errorf("blocks = %d, want 2", fr.Blocks)
	}
	if fr.Format.Channels != 6 || fr.Format.SampleRate != 48000 {
		t.Errorf("format = %s", fr.Format)
	}
	if len(fr.Samples) != 2*dca.BlockSamples*6 {
		t.Errorf("samples = %d, want %d", len(fr.Samples), 2*dca.BlockSamples*6)
	}
	if fr.PTS != 0 {
		t.Errorf("pts = %d, want 0", fr.PTS)
	}
	if !fr.Discontinuity {
		t.Error("first frame should be discontinuous")
	}

	st := d.Stats()
	if st.Frames != 1 || st.JunkBytes != 4 || st.BytesIn != int64(len(junk)+len(frame)) {
		t.Errorf("stats = %+v", st)
	}
	if _, ok := d.Format(); !ok {
		t.Error("Format should be valid after negotiation")
	}
}

func TestScanRecoversAfterMidStreamGarbage(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	d := newTestDecoder(t, down, &stubEngine{})

	frame := testFrame(nil)
	var stream []byte
	stream = append(stream, frame...)
	for i := 0; i < 16; i++ {
		stream = append(stream, 0xaa)
	}
	stream = append(stream, frame...)

	if err := d.Write(unit(stream, media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(down.frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(down.frames))
	}
	if st := d.Stats(); st.JunkBytes != 16 {
		t.Errorf("junk bytes = %d, want 16", st.JunkBytes)
	}
	if down.frames[1].Discontinuity {
		t.Error("garbage between frames is not a decode discontinuity")
	}
}

func TestPTSExtrapolation(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	d := newTestDecoder(t, down, &stubEngine{})

	frame := testFrame(nil)
	two := append(append([]byte(nil), frame...), frame...)
	if err := d.Write(unit(two, 1e9)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := d.Write(unit(frame, 5e9)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(down.frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(down.frames))
	}
	if got := down.frames[0].PTS; got != 1e9 {
		t.Errorf("frame 0 pts = %d, want 1e9", got)
	}
	if got, want := down.frames[1].PTS, int64(1e9)+frameDuration; got != want {
		t.Errorf("frame 1 pts = %d, want %d", got, want)
	}
	if got := down.frames[2].PTS; got != 5e9 {
		t.Errorf("frame 2 pts = %d, want 5e9 from its own unit", got)
	}
}

func TestDownmixNoCapsKeepsNativeLayout(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	d := newTestDecoder(t, down, &stubEngine{})

	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(down.formats) != 1 {
		t.Fatalf("formats = %d, want 1", len(down.formats))
	}
	f := down.formats[0]
	want := []pcm.Position{pcm.FrontLeft, pcm.FrontRight, pcm.FrontCenter, pcm.LFE, pcm.RearLeft, pcm.RearRight}
	if f.Channels != 6 {
		t.Fatalf("channels = %d, want 6", f.Channels)
	}
	for i, p := range want {
		if f.Positions[i] != p {
			t.Errorf("position %d = %s, want %s", i, f.Positions[i], p)
		}
	}
}

func TestDownmixFixatesToConsumerRange(t *testing.T) {
	t.Parallel()
	down := &stubDown{lo: 1, hi: 2, haveCaps: true}
	d := newTestDecoder(t, down, &stubEngine{})

	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f := down.formats[0]
	if f.Channels != 2 {
		t.Fatalf("channels = %d, want 2", f.Channels)
	}
	if f.Positions[0] != pcm.FrontLeft || f.Positions[1] != pcm.FrontRight {
		t.Errorf("positions = %v", f.Positions)
	}
}

func TestDownmixExplicitRequest(t *testing.T) {
	t.Parallel()
	down := &stubDown{lo: 1, hi: 6, haveCaps: true}
	d := newTestDecoder(t, down, &stubEngine{}, WithRequestedChannels(dca.MaskMono))

	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f := down.formats[0]
	if f.Channels != 1 || f.Positions[0] != pcm.Mono {
		t.Errorf("format = %s, want mono", f)
	}
}

func TestRenegotiateOnlyOnChange(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	d := newTestDecoder(t, down, &stubEngine{})

	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(down.formats) != 1 {
		t.Fatalf("identical frames renegotiated: formats = %d", len(down.formats))
	}

	// Same layout at 44.1 kHz forces a format change.
	if err := d.Write(unit(testFrame(map[int]byte{8: 0x63}), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(down.formats) != 2 {
		t.Fatalf("rate change did not renegotiate: formats = %d", len(down.formats))
	}
	if down.formats[1].SampleRate != 44100 {
		t.Errorf("rate = %d, want 44100", down.formats[1].SampleRate)
	}
}

func TestInterleaveReordersChannels(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	d := newTestDecoder(t, down, &stubEngine{})

	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := down.frames[0].Samples

	// Native order FC FL FR RL RR LFE carries values 0,1000..5000 plus the
	// in-block sample index; canonical order is FL FR FC LFE RL RR.
	wantRow := func(n int) [6]pcm.Sample {
		i := pcm.Sample(n)
		return [6]pcm.Sample{1000 + i, 2000 + i, 0 + i, 5000 + i, 3000 + i, 4000 + i}
	}
	for _, row := range []int{0, 5, 255, 256, 300, 511} {
		want := wantRow(row % dca.BlockSamples)
		for c := 0; c < 6; c++ {
			if got := out[row*6+c]; got != want[c] {
				t.Fatalf("row %d slot %d = %v, want %v", row, c, got, want[c])
			}
		}
	}
}

func TestBlockErrorLeavesGapAndContinues(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	eng := &stubEngine{blockErrs: map[int]error{0: errors.New("corrupt block")}}
	d := newTestDecoder(t, down, eng)

	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(down.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(down.frames))
	}
	fr := down.frames[0]
	if !fr.Discontinuity {
		t.Error("block error should mark the frame discontinuous")
	}
	for i, s := range fr.Samples[:dca.BlockSamples*6] {
		if s != 0 {
			t.Fatalf("failed block leaked samples at %d: %v", i, s)
		}
	}
	if fr.Samples[dca.BlockSamples*6] == 0 {
		t.Error("second block should still decode")
	}
	if st := d.Stats(); st.BlockErrors != 1 || st.DroppedFrames != 0 {
		t.Errorf("stats = %+v", st)
	}

	// A clean frame afterwards is no longer discontinuous.
	eng.blockErrs = nil
	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if down.frames[1].Discontinuity {
		t.Error("clean frame after emitted frame should not be discontinuous")
	}
}

func TestUnrecoverableBlockDropsFrame(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	eng := &stubEngine{blockErrs: map[int]error{
		1: &dca.UnrecoverableError{Err: errors.New("engine poisoned")},
	}}
	d := newTestDecoder(t, down, eng)

	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(down.frames) != 0 {
		t.Fatal("unrecoverable block should drop the whole frame")
	}
	if st := d.Stats(); st.DroppedFrames != 1 || st.BlockErrors != 1 {
		t.Errorf("stats = %+v", st)
	}

	eng.blockErrs = nil
	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(down.frames) != 1 || !down.frames[0].Discontinuity {
		t.Error("next good frame should arrive with the discontinuity flag")
	}
}

func TestFrameErrorBudget(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	eng := &stubEngine{frameErr: errors.New("bad frame")}
	d := newTestDecoder(t, down, eng, WithMaxErrors(2))

	for i := 0; i < 2; i++ {
		if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
			t.Fatalf("write %d: budget spent too early: %v", i, err)
		}
	}
	err := d.Write(unit(testFrame(nil), media.NoPTS))
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want DecodeError after budget", err)
	}
	if derr.Block != -1 {
		t.Errorf("block = %d, want -1 for frame-level failure", derr.Block)
	}
	if st := d.Stats(); st.DroppedFrames != 3 || st.Frames != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestNegotiationFailureIsTerminal(t *testing.T) {
	t.Parallel()
	down := &stubDown{setFormatErr: errors.New("format refused")}
	d := newTestDecoder(t, down, &stubEngine{})

	err := d.Write(unit(testFrame(nil), media.NoPTS))
	if !errors.Is(err, ErrNegotiationFailed) {
		t.Fatalf("err = %v, want ErrNegotiationFailed", err)
	}
	if len(down.frames) != 0 {
		t.Error("no frame may be emitted without a negotiated format")
	}
}

func TestInvalidProducedLayoutDropsFrame(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	eng := &stubEngine{produced: func(dca.ChannelMask) dca.ChannelMask {
		return dca.MaskDualMono
	}}
	d := newTestDecoder(t, down, eng)

	if err := d.Write(unit(testFrame(nil), media.NoPTS)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(down.frames) != 0 || len(down.formats) != 0 {
		t.Error("unresolvable layout must not negotiate or emit")
	}
	if st := d.Stats(); st.DroppedFrames != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestWriteBeforeStart(t *testing.T) {
	t.Parallel()
	d := New(&stubDown{})
	if err := d.Write(unit(testFrame(nil), media.NoPTS)); !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestDVDModeSplitsAndTimestamps(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	d := newTestDecoder(t, down, &stubEngine{})
	d.SetFormat(InputFormat{DVD: true})

	frameA := testFrame(nil)
	frameB := testFrame(nil)

	// Packet 1: first access 1, payload starts frame A.
	pkt1 := append([]byte{0x00, 0x01}, frameA[:300]...)
	// Packet 2: the tail of frame A, then frame B starting at first access.
	tail := frameA[300:]
	fa := len(tail) + 1
	pkt2 := append([]byte{byte(fa >> 8), byte(fa)}, append(append([]byte(nil), tail...), frameB...)...)

	if err := d.Write(unit(pkt1, 1e9)); err != nil {
		t.Fatalf("Write pkt1: %v", err)
	}
	if err := d.Write(unit(pkt2, 2e9)); err != nil {
		t.Fatalf("Write pkt2: %v", err)
	}

	if len(down.frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(down.frames))
	}
	if got := down.frames[0].PTS; got != 1e9 {
		t.Errorf("frame A pts = %d, want 1e9", got)
	}
	if got := down.frames[1].PTS; got != 2e9 {
		t.Errorf("frame B pts = %d, want 2e9 from first access", got)
	}
}

func TestDVDModeBadPacketIsTerminal(t *testing.T) {
	t.Parallel()
	down := &stubDown{}
	d := newTestDecoder(t, down, &stubEngine{}, WithDVDMode(true))

	if err := d.Write(unit([]byte{0x00}, media.NoPTS)); !errors.Is(err, dvd.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestLifecycleObserver(t *testing.T) {
	t.Parallel()
	var states []Lifecycle
	d := New(&stubDown{}, WithLifecycleObserver(func(l Lifecycle) {
		states = append(states, l)
	}))
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(states) != 2 || states[0] != LifecycleStarted || states[1] != LifecycleStopped {
		t.Errorf("states = %v", states)
	}
}

func FuzzWrite(f *testing.F) {
	f.Add(testFrame(nil))
	f.Add(append([]byte{0x00, 0x01, 0x02}, testFrame(nil)...))
	f.Add([]byte{0x7f, 0xfe, 0x80, 0x01})
	f.Fuzz(func(t *testing.T, data []byte) {
		d := New(&stubDown{})
		if err := d.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer d.Stop()
		// Arbitrary input must never panic or lose byte accounting.
		d.Write(media.Unit{Data: data, PTS: media.NoPTS})
		if st := d.Stats(); st.BytesIn != int64(len(data)) {
			t.Errorf("bytes in = %d, want %d", st.BytesIn, len(data))
		}
	})
}
