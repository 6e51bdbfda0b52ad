package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/zsiec/dcastream/internal/dca"
	"github.com/zsiec/dcastream/test/tools/dcautil"
)

// inject-errors damages a generated elementary stream in controlled ways so
// the decoder's junk hunting, concealment, and resync paths can be exercised
// with real ingest instead of unit fixtures.

func main() {
	corruptFlag := flag.Int("corrupt", 0, "Overwrite the sync word of every Nth frame")
	dropFlag := flag.Int("drop", 0, "Remove every Nth frame entirely")
	garbageFlag := flag.Int("garbage", 0, "Insert this many random bytes between every pair of frames")
	seedFlag := flag.Int64("seed", 42, "Seed for the garbage bytes")
	flag.Parse()

	if flag.NArg() != 2 || (*corruptFlag == 0 && *dropFlag == 0 && *garbageFlag == 0) {
		fmt.Fprintf(os.Stderr, "Usage: inject-errors [flags] <input.dca> <output.dca>\n")
		fmt.Fprintf(os.Stderr, "Damages an elementary stream to exercise decoder error recovery.\n")
		fmt.Fprintf(os.Stderr, "At least one of --corrupt, --drop, or --garbage is required.\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	inData, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read input: %v\n", err)
		os.Exit(1)
	}

	frames, prefix, err := splitFrames(inData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse input: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Input: %d frames, %d prefix bytes\n", len(frames), len(prefix))

	rng := rand.New(rand.NewSource(*seedFlag))
	out := append([]byte(nil), prefix...)
	corrupted, dropped, inserted := 0, 0, 0

	for i, frame := range frames {
		n := i + 1
		if *dropFlag > 0 && n%*dropFlag == 0 {
			dropped++
			continue
		}
		if *corruptFlag > 0 && n%*corruptFlag == 0 {
			frame = append([]byte(nil), frame...)
			frame[0], frame[1], frame[2], frame[3] = 0x00, 0x00, 0x00, 0x00
			corrupted++
		}
		out = append(out, frame...)
		if *garbageFlag > 0 && i < len(frames)-1 {
			junk := make([]byte, *garbageFlag)
			rng.Read(junk)
			out = append(out, junk...)
			inserted += len(junk)
		}
	}

	if err := os.WriteFile(flag.Arg(1), out, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Wrote %d bytes to %s (%d frames corrupted, %d dropped, %d garbage bytes)\n",
		len(out), flag.Arg(1), corrupted, dropped, inserted)
}

// splitFrames cuts an elementary stream into whole frames, returning any
// leading bytes before the first sync separately.
func splitFrames(data []byte) ([][]byte, []byte, error) {
	_, off, err := dcautil.ProbeFirstFrame(data)
	if err != nil {
		return nil, nil, err
	}
	prefix := data[:off]

	var frames [][]byte
	for off < len(data) {
		info, err := dca.SyncInfo(data[off:])
		if err != nil || info.FrameLength > len(data)-off {
			// Trailing partial frame or junk tail; keep whole frames only.
			break
		}
		frames = append(frames, data[off:off+info.FrameLength])
		off += info.FrameLength
	}
	if len(frames) == 0 {
		return nil, nil, fmt.Errorf("no complete frames in %d bytes", len(data))
	}
	return frames, prefix, nil
}
