package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/icza/bitio"

	"github.com/zsiec/dcastream/internal/dca"
	"github.com/zsiec/dcastream/test/tools/dcautil"
)

type StreamConfig struct {
	Number     int    `json:"number"`
	Key        string `json:"key"`
	File       string `json:"file"`
	Packing    string `json:"packing"`
	Layout     string `json:"layout"`
	LFE        bool   `json:"lfe"`
	SampleRate int    `json:"sampleRate"`
	BitRate    int    `json:"bitRate"`
	Frames     int    `json:"frames"`
	DVD        bool   `json:"dvd"`
	SubSize    int    `json:"subSize,omitempty"`
}

type Manifest struct {
	Generated string         `json:"generated"`
	Streams   []StreamConfig `json:"streams"`
}

// Every frame carries 512 samples per channel, two 256-sample decode blocks,
// the sizing disc rips use.
const (
	frameSamples = 512
	nblksCode    = 15 // (15+1)*32 = 512 samples
)

var streams = []StreamConfig{
	{Number: 1, Key: "surround_a", Packing: "16be", Layout: "3f2r", LFE: true,
		SampleRate: 48000, BitRate: 1536000, Frames: 938},
	{Number: 2, Key: "surround_b", Packing: "16le", Layout: "3f2r", LFE: true,
		SampleRate: 48000, BitRate: 768000, Frames: 938},
	{Number: 3, Key: "stereo_a", Packing: "16be", Layout: "stereo",
		SampleRate: 48000, BitRate: 192000, Frames: 938},
	{Number: 4, Key: "cd_dts", Packing: "14be", Layout: "stereo",
		SampleRate: 44100, BitRate: 1411200, Frames: 862},
	{Number: 5, Key: "mono_legacy", Packing: "16be", Layout: "mono",
		SampleRate: 32000, BitRate: 64000, Frames: 625},
	{Number: 6, Key: "quad", Packing: "16be", Layout: "2f2r",
		SampleRate: 48000, BitRate: 512000, Frames: 938},
	{Number: 7, Key: "theatrical", Packing: "14le", Layout: "3f2r", LFE: true,
		SampleRate: 48000, BitRate: 1536000, Frames: 938},
	{Number: 8, Key: "dvd_main", Packing: "16be", Layout: "3f2r", LFE: true,
		SampleRate: 48000, BitRate: 768000, Frames: 938, DVD: true, SubSize: dcautil.SubPacketSize},
	{Number: 9, Key: "dvd_dialog", Packing: "16be", Layout: "stereo",
		SampleRate: 48000, BitRate: 192000, Frames: 938, DVD: true, SubSize: dcautil.SubPacketSize},
}

var layoutCodes = map[string]int{
	"mono":   0,
	"dual":   1,
	"stereo": 2,
	"3f":     5,
	"2f1r":   6,
	"3f1r":   7,
	"2f2r":   8,
	"3f2r":   9,
	"4f2r":   10,
}

var sampleRateCodes = map[int]int{
	8000: 1, 16000: 2, 32000: 3, 11025: 6, 22050: 7,
	44100: 8, 12000: 11, 24000: 12, 48000: 13, 96000: 14, 192000: 15,
}

var bitRateCodes = map[int]int{
	32000: 0, 56000: 1, 64000: 2, 96000: 3, 112000: 4, 128000: 5,
	192000: 6, 224000: 7, 256000: 8, 320000: 9, 384000: 10, 448000: 11,
	512000: 12, 576000: 13, 640000: 14, 768000: 15, 896000: 16,
	1024000: 17, 1152000: 18, 1280000: 19, 1344000: 20, 1408000: 21,
	1411200: 22, 1472000: 23, 1536000: 24, 1920000: 25, 2048000: 26,
	3072000: 27, 3840000: 28,
}

func main() {
	allFlag := flag.Bool("all", false, "Generate the standard 9-stream test set with a manifest")
	outFlag := flag.String("out", "", "Output file (default: test/streams/tone.dca)")
	framesFlag := flag.Int("frames", 938, "Frames to generate (938 is about 10s at 48 kHz)")
	packingFlag := flag.String("packing", "16be", "Frame packing: 16be, 16le, 14be, 14le")
	layoutFlag := flag.String("layout", "3f2r", "Speaker layout: mono, dual, stereo, 3f, 2f1r, 3f1r, 2f2r, 3f2r, 4f2r")
	lfeFlag := flag.Bool("lfe", true, "Include an LFE channel")
	rateFlag := flag.Int("sample-rate", 48000, "Sample rate in Hz")
	bitRateFlag := flag.Int("bit-rate", 1536000, "Bit rate in bits/s (table rates only)")
	dvdFlag := flag.Bool("dvd", false, "Wrap the stream in DVD private-stream sub-packets")
	subSizeFlag := flag.Int("sub-size", dcautil.SubPacketSize, "Stored sub-packet size for --dvd, first-access field included")
	junkFlag := flag.Int("junk", 0, "Prepend this many junk bytes")
	flag.Parse()

	if *allFlag {
		genAll()
		return
	}

	out := *outFlag
	if out == "" {
		out = filepath.Join(dcautil.StreamsDir(), "tone.dca")
	}
	cfg := StreamConfig{
		Packing:    *packingFlag,
		Layout:     *layoutFlag,
		LFE:        *lfeFlag,
		SampleRate: *rateFlag,
		BitRate:    *bitRateFlag,
		Frames:     *framesFlag,
		DVD:        *dvdFlag,
		SubSize:    *subSizeFlag,
	}
	writeStream(cfg, out, *junkFlag)
}

func genAll() {
	streamsDir := dcautil.StreamsDir()
	if err := os.MkdirAll(streamsDir, 0755); err != nil {
		fatal("create streams dir: %v", err)
	}

	fmt.Println("=== DCA Stream Generator ===")
	fmt.Printf("Generating %d test streams in %s\n\n", len(streams), streamsDir)

	for i := range streams {
		streams[i].File = fmt.Sprintf("stream_%d.dca", streams[i].Number)
		writeStream(streams[i], filepath.Join(streamsDir, streams[i].File), 0)
	}

	manifestFile := filepath.Join(streamsDir, "manifest.json")
	if err := writeManifest(manifestFile); err != nil {
		fatal("write manifest: %v", err)
	}

	fmt.Printf("\n=== Done! %d streams generated in %s ===\n", len(streams), streamsDir)
}

func writeStream(cfg StreamConfig, path string, junk int) {
	data, err := buildStream(cfg, junk)
	if err != nil {
		fatal("%s: %v", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fatal("create output dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fatal("write %s: %v", path, err)
	}

	desc := cfg.Layout
	if cfg.LFE {
		desc += "+lfe"
	}
	mode := "elementary"
	if cfg.DVD {
		mode = "dvd"
	}
	fmt.Printf("  %s: %d frames, %s %s, %d Hz, %d bits/s, %s (%.1f KB)\n",
		filepath.Base(path), cfg.Frames, cfg.Packing, desc,
		cfg.SampleRate, cfg.BitRate, mode, float64(len(data))/1024)
}

// buildStream produces the full stored stream: junk prefix, frames, and the
// DVD sub-packet wrapping when requested.
func buildStream(cfg StreamConfig, junk int) ([]byte, error) {
	frame, err := buildFrame(cfg)
	if err != nil {
		return nil, err
	}

	// Parse back what was written; a generator emitting frames the decoder
	// cannot read is worse than useless.
	info, err := dca.SyncInfo(frame)
	if err != nil {
		return nil, fmt.Errorf("self-check: %w", err)
	}
	if info.FrameLength != len(frame) {
		return nil, fmt.Errorf("self-check: built %d byte frame, header says %d", len(frame), info.FrameLength)
	}
	if info.SampleCount != frameSamples {
		return nil, fmt.Errorf("self-check: built %d sample frame, header says %d", frameSamples, info.SampleCount)
	}

	es := make([]byte, 0, junk+len(frame)*cfg.Frames)
	es = append(es, bytes.Repeat([]byte{0xAA}, junk)...)
	starts := make([]int, 0, cfg.Frames)
	for i := 0; i < cfg.Frames; i++ {
		starts = append(starts, len(es))
		es = append(es, frame...)
	}

	if !cfg.DVD {
		return es, nil
	}
	subSize := cfg.SubSize
	if subSize == 0 {
		subSize = dcautil.SubPacketSize
	}
	return wrapSubPackets(es, starts, subSize), nil
}

// buildFrame builds one complete frame in the stored packing: a core header
// over a zero body, sized from the bit rate the way fixed-rate encoders size
// their frames.
func buildFrame(cfg StreamConfig) ([]byte, error) {
	amode, ok := layoutCodes[cfg.Layout]
	if !ok {
		return nil, fmt.Errorf("unknown layout %q", cfg.Layout)
	}
	sfreq, ok := sampleRateCodes[cfg.SampleRate]
	if !ok {
		return nil, fmt.Errorf("unsupported sample rate %d", cfg.SampleRate)
	}
	rate, ok := bitRateCodes[cfg.BitRate]
	if !ok {
		return nil, fmt.Errorf("unsupported bit rate %d", cfg.BitRate)
	}

	packed := cfg.BitRate * frameSamples / (cfg.SampleRate * 8)
	if is14Bit(cfg.Packing) {
		// 14-bit packing spreads 7 packed bytes over 8 stored ones, so the
		// packed length must divide evenly.
		packed -= packed % 7
	} else {
		packed -= packed % 2
	}
	if packed < 96 || packed > 16384 {
		return nil, fmt.Errorf("frame size %d out of range for %d bits/s at %d Hz", packed, cfg.BitRate, cfg.SampleRate)
	}

	lff := uint64(0)
	if cfg.LFE {
		lff = 2
	}

	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	w.TryWriteBits(0x7ffe8001, 32)
	w.TryWriteBits(1, 1)  // normal frame
	w.TryWriteBits(31, 5) // no samples deficit
	w.TryWriteBits(0, 1)  // no CRC
	w.TryWriteBits(nblksCode, 7)
	w.TryWriteBits(uint64(packed-1), 14)
	w.TryWriteBits(uint64(amode), 6)
	w.TryWriteBits(uint64(sfreq), 4)
	w.TryWriteBits(uint64(rate), 5)
	w.TryWriteBits(0, 10) // mix, DRC, timestamp, aux, HDCD, ext audio, ASPF
	w.TryWriteBits(lff, 2)
	if w.TryError != nil {
		return nil, fmt.Errorf("write header: %w", w.TryError)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	frame := make([]byte, packed)
	copy(frame, buf.Bytes())
	return packFrame(frame, cfg.Packing), nil
}

func is14Bit(packing string) bool {
	return packing == "14be" || packing == "14le"
}

// packFrame converts a canonical big-endian frame into its stored packing.
func packFrame(canonical []byte, packing string) []byte {
	switch packing {
	case "16le":
		out := make([]byte, len(canonical))
		for i := 0; i < len(out); i += 2 {
			out[i], out[i+1] = canonical[i+1], canonical[i]
		}
		return out
	case "14be", "14le":
		return pack14(canonical, packing == "14le")
	}
	return canonical
}

// pack14 spreads the canonical stream across 16-bit words of 14 significant
// bits each. The two dead bits replicate the word's sign bit, which is what
// makes the stored sync pattern read 1F FF E8 00.
func pack14(canonical []byte, le bool) []byte {
	r := bitio.NewReader(bytes.NewReader(canonical))
	groups := len(canonical) * 8 / 14
	out := make([]byte, 0, groups*2)
	for i := 0; i < groups; i++ {
		word := uint16(r.TryReadBits(14))
		if word&0x2000 != 0 {
			word |= 0xc000
		}
		hi, lo := byte(word>>8), byte(word)
		if le {
			hi, lo = lo, hi
		}
		out = append(out, hi, lo)
	}
	return out
}

// wrapSubPackets splits es into DVD private-stream sub-packets: a two-byte
// first-access field pointing at the first frame start inside the payload,
// then the payload. Packets holding only the middle of a large frame carry
// first-access zero.
func wrapSubPackets(es []byte, starts []int, subSize int) []byte {
	payload := subSize - 2
	out := make([]byte, 0, len(es)+2*(len(es)/payload+1))
	next := 0
	for base := 0; base < len(es); base += payload {
		end := base + payload
		if end > len(es) {
			end = len(es)
		}
		for next < len(starts) && starts[next] < base {
			next++
		}
		firstAccess := 0
		if next < len(starts) && starts[next] < end {
			firstAccess = starts[next] - base + 1
		}
		out = append(out, byte(firstAccess>>8), byte(firstAccess))
		out = append(out, es[base:end]...)
	}
	return out
}

func writeManifest(path string) error {
	m := Manifest{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Streams:   streams,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Manifest written to %s\n", path)
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
