package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/spf13/cobra"

	"github.com/zsiec/dcastream/internal/decode"
	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

var playFlags struct {
	drc      bool
	channels int
}

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Decode a DCA elementary stream and play it on the default audio device",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runPlay(args[0])
	},
}

func init() {
	playCmd.Flags().BoolVar(&playFlags.drc, "drc", false, "apply dynamic range compression")
	playCmd.Flags().IntVar(&playFlags.channels, "channels", 2, "largest channel count to play (1-6)")
}

func runPlay(path string) error {
	if playFlags.channels < 1 || playFlags.channels > 6 {
		return fmt.Errorf("--channels must be 1-6, got %d", playFlags.channels)
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	sink := &otoSink{maxCh: playFlags.channels}
	dec := decode.New(sink, decode.WithDynamicRange(playFlags.drc))
	if err := dec.Start(); err != nil {
		return err
	}

	feedErr := feedDecoder(dec, in)
	stopErr := dec.Stop()
	sink.drain()
	if feedErr != nil {
		return feedErr
	}
	if stopErr != nil {
		return stopErr
	}
	if dec.Stats().Frames == 0 {
		return fmt.Errorf("no frames found in %s", path)
	}
	return nil
}

// otoSink feeds decoded frames to the system audio device. Playback paces the
// decode loop: the pipe write blocks once the player's buffer is full.
type otoSink struct {
	maxCh  int
	ctx    *oto.Context
	player *oto.Player
	pw     *io.PipeWriter
	format pcm.Format
	buf    []byte
}

var _ decode.Downstream = (*otoSink)(nil)

func (s *otoSink) AcceptedChannelRange() (int, int, bool) {
	return 1, s.maxCh, true
}

func (s *otoSink) SetFormat(f pcm.Format) error {
	if s.ctx != nil {
		if f.Equal(s.format) {
			return nil
		}
		// oto allows one context per process, so a mid-stream rate or
		// channel change cannot be followed.
		return fmt.Errorf("playback format changed mid-stream (%s -> %s)", s.format, f)
	}
	op := &oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("audio device: %w", err)
	}
	<-ready

	pr, pw := io.Pipe()
	s.ctx = ctx
	s.pw = pw
	s.player = ctx.NewPlayer(pr)
	s.player.Play()
	s.format = f
	return nil
}

func (s *otoSink) WriteFrame(frame *media.PCMFrame) error {
	if s.player == nil {
		return errors.New("frame before format")
	}
	need := len(frame.Samples) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]
	for i, sample := range frame.Samples {
		binary.LittleEndian.PutUint16(s.buf[i*2:], uint16(pcm.SampleToInt16(sample)))
	}
	if _, err := s.pw.Write(s.buf); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

func (s *otoSink) Event(decode.Event) error { return nil }

// drain closes the feed and waits for buffered audio to finish playing.
func (s *otoSink) drain() {
	if s.player == nil {
		return
	}
	s.pw.Close()
	for s.player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	s.player.Close()
	s.ctx.Suspend()
}
