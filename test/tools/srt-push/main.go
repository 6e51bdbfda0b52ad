package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/dcastream/internal/dca"
	"github.com/zsiec/dcastream/test/tools/dcautil"
)

// elementaryChunkSize is how many bytes of a raw elementary stream go into
// each SRT message. 1316 bytes is the standard SRT payload size.
const elementaryChunkSize = 1316

type streamManifestEntry struct {
	Number  int    `json:"number"`
	Key     string `json:"key"`
	File    string `json:"file"`
	DVD     bool   `json:"dvd"`
	SubSize int    `json:"subSize"`
}

type manifest struct {
	Streams []streamManifestEntry `json:"streams"`
}

func main() {
	allFlag := flag.Bool("all", false, "Push all generated streams simultaneously")
	fileFlag := flag.String("file", "", "Single .dca file to push")
	keyFlag := flag.String("key", "", "Full streamid (default: live/<filename> or dvd/<filename>)")
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	dvdFlag := flag.Bool("dvd", false, "File holds DVD sub-packets; push one sub-packet per message")
	subSizeFlag := flag.Int("sub-size", dcautil.SubPacketSize, "Stored sub-packet size for --dvd")
	flag.Parse()

	if *allFlag {
		pushAll(*addrFlag)
		return
	}

	filePath := *fileFlag
	if filePath == "" && flag.NArg() > 0 {
		filePath = flag.Arg(0)
	}
	if filePath == "" {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  srt-push --all                             Push every stream in the manifest\n")
		fmt.Fprintf(os.Stderr, "  srt-push --file tone.dca --key live/mykey  Push a single stream\n")
		fmt.Fprintf(os.Stderr, "  srt-push <file.dca> [streamid] [host:port]   (legacy positional args)\n")
		os.Exit(1)
	}

	streamID := *keyFlag
	if streamID == "" && flag.NArg() > 1 {
		streamID = flag.Arg(1)
	}
	if streamID == "" {
		base := filepath.Base(filePath)
		key := base[:len(base)-len(filepath.Ext(base))]
		if *dvdFlag {
			streamID = "dvd/" + key
		} else {
			streamID = "live/" + key
		}
	}

	addr := *addrFlag
	if flag.NArg() > 2 {
		addr = flag.Arg(2)
	}

	pushSingle(filePath, streamID, addr, *dvdFlag, *subSizeFlag)
}

func pushAll(addr string) {
	streamsDir := dcautil.StreamsDir()
	manifestPath := filepath.Join(streamsDir, "manifest.json")

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot read manifest at %s: %v\n", manifestPath, err)
		fmt.Fprintf(os.Stderr, "Run 'go run ./test/tools/gen-dca --all' first.\n")
		os.Exit(1)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid manifest: %v\n", err)
		os.Exit(1)
	}

	if len(m.Streams) == 0 {
		fmt.Fprintf(os.Stderr, "No streams in manifest\n")
		os.Exit(1)
	}

	fmt.Printf("Pushing %d streams to %s\n", len(m.Streams), addr)

	var wg sync.WaitGroup
	for _, s := range m.Streams {
		dcaFile := filepath.Join(streamsDir, s.File)
		if !dcautil.FileExists(dcaFile) {
			fmt.Printf("  Skipping stream %d (%s): file not found\n", s.Number, s.Key)
			continue
		}

		prefix := "live/"
		if s.DVD {
			prefix = "dvd/"
		}
		subSize := s.SubSize
		if subSize == 0 {
			subSize = dcautil.SubPacketSize
		}

		wg.Add(1)
		go func(file, streamID string, num int, dvd bool, subSize int) {
			defer wg.Done()
			fmt.Printf("  Stream %d: %s\n", num, streamID)
			pushSingle(file, streamID, addr, dvd, subSize)
		}(dcaFile, prefix+s.Key, s.Number, s.DVD, subSize)

		time.Sleep(200 * time.Millisecond)
	}

	wg.Wait()
}

func pushSingle(filePath, streamID, addr string, dvd bool, subSize int) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		return
	}

	es := data
	chunkSize := elementaryChunkSize
	if dvd {
		es = dcautil.StripSubPackets(data, subSize)
		chunkSize = subSize
	}

	info, _, err := dcautil.ProbeFirstFrame(es)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No frames in %s: %v\n", filePath, err)
		return
	}

	bytesPerSec := paceRate(info, len(data), len(es))

	units := dcautil.SplitUnits(data, chunkSize)

	frames := len(es) / info.FrameLength
	duration := float64(len(data)) / bytesPerSec
	fmt.Printf("File: %s (%d frames, %.1fs, %.0f bytes/sec)\n", filePath, frames, duration, bytesPerSec)

	for {
		fmt.Printf("[%s] Connecting to SRT %s...\n", streamID, addr)

		cfg := srt.DefaultConfig()
		cfg.StreamID = streamID

		conn, err := srt.Dial(addr, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] SRT connect failed: %v, retrying...\n", streamID, err)
			time.Sleep(time.Second)
			continue
		}

		fmt.Printf("[%s] Connected, streaming continuously\n", streamID)
		writeErr := streamLoop(conn, units, bytesPerSec, streamID)
		conn.Close()

		if writeErr != nil {
			fmt.Fprintf(os.Stderr, "[%s] Connection lost: %v, reconnecting...\n", streamID, writeErr)
			time.Sleep(time.Second)
		}
	}
}

// paceRate returns the send rate in file bytes per second. The header's
// nominal bit rate can disagree with the stored frame size (14-bit packing,
// padded frames), so the rate comes from stored frame bytes over frame
// duration, inflated by the file/elementary size ratio when sub-packet
// wrapping adds overhead.
func paceRate(info dca.FrameInfo, fileLen, esLen int) float64 {
	esPerSec := float64(info.FrameLength*info.SampleRate) / float64(info.SampleCount)
	return esPerSec * float64(fileLen) / float64(esLen)
}

func streamLoop(conn *srt.Conn, units [][]byte, bytesPerSec float64, streamID string) error {
	globalStart := time.Now()
	var totalBytesSent int64
	lastLog := time.Now()
	const logInterval = 10 * time.Second

	for loop := 1; ; loop++ {
		if loop > 1 {
			fmt.Printf("[%s] Loop %d complete, restarting from offset 0 (total sent: %.1f MB, elapsed: %s)\n",
				streamID, loop-1,
				float64(totalBytesSent)/(1024*1024),
				time.Since(globalStart).Truncate(time.Second))
		}

		for i, unit := range units {
			if _, err := conn.Write(unit); err != nil {
				return err
			}
			totalBytesSent += int64(len(unit))

			// Pace against the global clock so timing is continuous across
			// loop boundaries -- no burst/gap at the seam.
			expectedTime := float64(totalBytesSent) / bytesPerSec
			elapsed := time.Since(globalStart).Seconds()
			if expectedTime > elapsed {
				time.Sleep(time.Duration((expectedTime - elapsed) * float64(time.Second)))
			}

			if time.Since(lastLog) >= logInterval {
				actualRate := float64(totalBytesSent) / time.Since(globalStart).Seconds()
				loopOffset := float64(i) / float64(len(units)) * 100
				fmt.Printf("[%s] loop=%d offset=%.1f%% rate=%.0f B/s (target=%.0f) total=%.1f MB\n",
					streamID, loop, loopOffset, actualRate, bytesPerSec,
					float64(totalBytesSent)/(1024*1024))
				lastLog = time.Now()
			}
		}
	}
}
