package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/dcastream/internal/decode"
	"github.com/zsiec/dcastream/internal/media"
	"github.com/zsiec/dcastream/internal/pcm"
)

var decodeFlags struct {
	output   string
	drc      bool
	channels int
}

var decodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "Decode a DCA elementary stream to a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecode(cmd, args[0])
	},
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeFlags.output, "output", "o", "", "output WAV path (default: input name with .wav)")
	decodeCmd.Flags().BoolVar(&decodeFlags.drc, "drc", false, "apply dynamic range compression")
	decodeCmd.Flags().IntVar(&decodeFlags.channels, "channels", 6, "largest channel count to decode to (1-6)")
}

func runDecode(cmd *cobra.Command, path string) error {
	if decodeFlags.channels < 1 || decodeFlags.channels > 6 {
		return fmt.Errorf("--channels must be 1-6, got %d", decodeFlags.channels)
	}
	out := decodeFlags.output
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".wav"
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	sink := &wavSink{path: out, maxCh: decodeFlags.channels}
	dec := decode.New(sink, decode.WithDynamicRange(decodeFlags.drc))
	if err := dec.Start(); err != nil {
		return err
	}

	if err := feedDecoder(dec, in); err != nil {
		_ = dec.Stop()
		_ = sink.Close()
		return err
	}
	if err := dec.Stop(); err != nil {
		return err
	}
	if err := sink.Close(); err != nil {
		return err
	}

	stats := dec.Stats()
	if stats.Frames == 0 {
		return fmt.Errorf("no frames found in %s", path)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "wrote %s: %s, %d frames (%s)\n", out, sink.format, stats.Frames, sink.duration())
	if stats.JunkBytes > 0 {
		fmt.Fprintf(w, "skipped %d junk bytes\n", stats.JunkBytes)
	}
	if stats.DroppedFrames > 0 {
		fmt.Fprintf(w, "dropped %d frames to decode errors\n", stats.DroppedFrames)
	}
	return nil
}

// feedDecoder streams r through dec in fixed-size units. The first unit is
// pinned to PTS zero so the decoder extrapolates a running clock.
func feedDecoder(dec *decode.Decoder, r io.Reader) error {
	buf := make([]byte, 4096)
	first := true
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pts := media.NoPTS
			if first {
				pts = 0
				first = false
			}
			if werr := dec.Write(media.Unit{Data: buf[:n], PTS: pts}); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// wavSink writes decoded frames to a WAV file. The file is created on the
// first format announcement; a format change mid-stream aborts the decode,
// since a WAV file carries a single format.
type wavSink struct {
	path    string
	maxCh   int
	file    *os.File
	wav     *pcm.WAVWriter
	format  pcm.Format
	samples int64
}

var _ decode.Downstream = (*wavSink)(nil)

func (s *wavSink) AcceptedChannelRange() (int, int, bool) {
	return 1, s.maxCh, true
}

func (s *wavSink) SetFormat(f pcm.Format) error {
	if s.wav != nil {
		if f.Equal(s.format) {
			return nil
		}
		return fmt.Errorf("output format changed mid-stream (%s -> %s)", s.format, f)
	}
	file, err := os.Create(s.path)
	if err != nil {
		return err
	}
	wav, err := pcm.NewWAVWriter(file, f)
	if err != nil {
		file.Close()
		return err
	}
	s.file = file
	s.wav = wav
	s.format = f
	return nil
}

func (s *wavSink) WriteFrame(frame *media.PCMFrame) error {
	if s.wav == nil {
		return errors.New("frame before format")
	}
	if err := s.wav.WriteSamples(frame.Samples); err != nil {
		return err
	}
	s.samples += int64(frame.SampleCount())
	return nil
}

func (s *wavSink) Event(decode.Event) error { return nil }

// Close patches the WAV header and closes the file. Safe to call when no
// frame was ever decoded.
func (s *wavSink) Close() error {
	if s.wav == nil {
		return nil
	}
	if err := s.wav.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *wavSink) duration() time.Duration {
	if s.format.SampleRate == 0 {
		return 0
	}
	return time.Duration(s.samples) * time.Second / time.Duration(s.format.SampleRate)
}
