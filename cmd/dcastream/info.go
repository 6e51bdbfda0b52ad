package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/dcastream/internal/dca"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Report the frame parameters of a DCA stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(cmd, args[0])
	},
	DisableFlagsInUseLine: true,
}

func runInfo(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	rep := scanStream(data)
	if rep.frames == 0 {
		return fmt.Errorf("no frames found in %s", path)
	}

	w := cmd.OutOrStdout()
	first := rep.first
	channels, err := first.Flags.Channels()
	if err != nil {
		channels = 0
	}
	fmt.Fprintf(w, "File              : %s (%d bytes)\n", path, len(data))
	fmt.Fprintf(w, "Packing           : %s\n", first.Format)
	fmt.Fprintf(w, "Channels          : %d (%s)\n", channels, first.Flags)
	fmt.Fprintf(w, "Sample rate       : %d Hz\n", first.SampleRate)
	fmt.Fprintf(w, "Bit rate          : %s\n", formatBitRate(first.BitRate))
	fmt.Fprintf(w, "Frame size        : %d bytes, %d samples (%d blocks)\n",
		first.FrameLength, first.SampleCount, first.BlockCount)
	fmt.Fprintf(w, "CRC               : %v\n", first.CRCPresent)
	fmt.Fprintf(w, "Frames            : %d\n", rep.frames)
	fmt.Fprintf(w, "Duration          : %s\n", durationOf(rep.samples, first.SampleRate))
	if rep.changes > 0 {
		fmt.Fprintf(w, "Parameter changes : %d\n", rep.changes)
	}
	if rep.junkBytes > 0 {
		fmt.Fprintf(w, "Junk bytes        : %d\n", rep.junkBytes)
	}
	if rep.truncated > 0 {
		fmt.Fprintf(w, "Trailing bytes    : %d (incomplete frame)\n", rep.truncated)
	}
	return nil
}

// streamReport summarizes a whole-file frame scan.
type streamReport struct {
	first     dca.FrameInfo
	frames    int
	junkBytes int
	truncated int // trailing bytes that never formed a complete frame
	changes   int // frames whose parameters differ from the first
	samples   int64
}

// scanStream walks data frame by frame the way the decoder does: probe,
// skip junk a byte at a time, and stop when the remainder cannot hold a
// complete frame.
func scanStream(data []byte) streamReport {
	var rep streamReport
	off := 0
	for off < len(data) {
		info, err := dca.SyncInfo(data[off:])
		switch {
		case err == nil:
			if info.FrameLength > len(data)-off {
				rep.truncated = len(data) - off
				return rep
			}
			if rep.frames == 0 {
				rep.first = info
			} else if !sameParams(rep.first, info) {
				rep.changes++
			}
			rep.frames++
			rep.samples += int64(info.SampleCount)
			off += info.FrameLength
		case errors.Is(err, dca.ErrTruncatedHeader):
			rep.truncated = len(data) - off
			return rep
		default:
			rep.junkBytes++
			off++
		}
	}
	return rep
}

func sameParams(a, b dca.FrameInfo) bool {
	return a.Format == b.Format && a.Flags == b.Flags &&
		a.SampleRate == b.SampleRate && a.BitRate == b.BitRate
}

func formatBitRate(rate int) string {
	switch rate {
	case dca.BitRateOpen:
		return "open"
	case dca.BitRateVariable:
		return "variable"
	case dca.BitRateLossless:
		return "lossless"
	}
	return fmt.Sprintf("%d bits/s", rate)
}

func durationOf(samples int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
