package dca

import (
	"bytes"
	"fmt"

	"github.com/icza/bitio"
)

// SyncFormat identifies how a stream packs its coded words: full 16-bit words
// or 14 significant bits per word, each in either byte order. All four appear
// in the wild; DVDs typically carry 16-bit big-endian.
type SyncFormat int

const (
	Sync16BE SyncFormat = iota
	Sync16LE
	Sync14BE
	Sync14LE
)

func (s SyncFormat) String() string {
	switch s {
	case Sync16BE:
		return "16-bit BE"
	case Sync16LE:
		return "16-bit LE"
	case Sync14BE:
		return "14-bit BE"
	case Sync14LE:
		return "14-bit LE"
	}
	return fmt.Sprintf("SyncFormat(%d)", int(s))
}

// FrameInfo is the result of probing a frame header: everything needed to
// delimit the frame and negotiate its output without decoding it.
type FrameInfo struct {
	Format      SyncFormat
	FrameLength int         // whole frame size in stream bytes, sync included
	Flags       ChannelMask // configuration code plus LFE when present
	SampleRate  int
	BitRate     int // bits/s, or the open/variable/lossless codes 1..3
	SampleCount int // PCM samples per channel
	BlockCount  int // 256-sample decode blocks (SampleCount / 256)
	CRCPresent  bool
}

// Header byte requirements per packing: every field through the LFE flag is
// 87 bits into the normalized stream.
const (
	syncDetectBytes = 6
	headerBytes16   = 12
	headerBytes14   = 14
)

// MinHeaderWindow is the smallest window worth probing for a header. Shorter
// windows cannot even establish a sync pattern.
const MinHeaderWindow = 7

var sampleRates = [16]int{
	0, 8000, 16000, 32000, 0, 0, 11025, 22050,
	44100, 0, 0, 12000, 24000, 48000, 96000, 192000,
}

// Bit-rate table in bits/s. The last three codes are the open, variable, and
// lossless markers; callers treat values <= BitRateLossless as "no fixed
// rate".
var bitRates = [32]int{
	32000, 56000, 64000, 96000, 112000, 128000, 192000, 224000,
	256000, 320000, 384000, 448000, 512000, 576000, 640000, 768000,
	896000, 1024000, 1152000, 1280000, 1344000, 1408000, 1411200, 1472000,
	1536000, 1920000, 2048000, 3072000, 3840000, BitRateOpen, BitRateVariable, BitRateLossless,
}

// Sentinel bit-rate codes reported instead of a fixed bits/s value.
const (
	BitRateOpen     = 1
	BitRateVariable = 2
	BitRateLossless = 3
)

// detectSync identifies the packing of a sync pattern at offset 0. It needs
// 4 bytes for the 16-bit patterns and 6 for the 14-bit ones; a partial match
// that runs out of bytes reports ErrTruncatedHeader so callers wait for more
// input instead of skipping a real frame boundary.
func detectSync(data []byte) (SyncFormat, error) {
	if len(data) < 4 {
		return 0, ErrTruncatedHeader
	}
	b0, b1, b2, b3 := data[0], data[1], data[2], data[3]
	switch {
	case b0 == 0x7f && b1 == 0xfe && b2 == 0x80 && b3 == 0x01:
		return Sync16BE, nil
	case b0 == 0xfe && b1 == 0x7f && b2 == 0x01 && b3 == 0x80:
		return Sync16LE, nil
	case b0 == 0x1f && b1 == 0xff && b2 == 0xe8 && b3 == 0x00:
		if len(data) < syncDetectBytes {
			return 0, ErrTruncatedHeader
		}
		if data[4] == 0x07 && data[5]&0xf0 == 0xf0 {
			return Sync14BE, nil
		}
	case b0 == 0xff && b1 == 0x1f && b2 == 0x00 && b3 == 0xe8:
		if len(data) < syncDetectBytes {
			return 0, ErrTruncatedHeader
		}
		if data[4]&0xf0 == 0xf0 && data[5] == 0x07 {
			return Sync14LE, nil
		}
	}
	return 0, ErrNoSync
}

// normalizeHeader rewrites the header region as a plain big-endian bitstream:
// byte-swapped for the little-endian packings, with the two dead bits of each
// word dropped for the 14-bit packings.
func normalizeHeader(data []byte, format SyncFormat) ([]byte, error) {
	switch format {
	case Sync16BE:
		if len(data) < headerBytes16 {
			return nil, ErrTruncatedHeader
		}
		return data[:headerBytes16], nil
	case Sync16LE:
		if len(data) < headerBytes16 {
			return nil, ErrTruncatedHeader
		}
		out := make([]byte, headerBytes16)
		for i := 0; i < headerBytes16; i += 2 {
			out[i], out[i+1] = data[i+1], data[i]
		}
		return out, nil
	case Sync14BE, Sync14LE:
		if len(data) < headerBytes14 {
			return nil, ErrTruncatedHeader
		}
		var buf bytes.Buffer
		w := bitio.NewWriter(&buf)
		for i := 0; i < headerBytes14; i += 2 {
			hi, lo := data[i], data[i+1]
			if format == Sync14LE {
				hi, lo = lo, hi
			}
			word := uint64(hi)<<8 | uint64(lo)
			w.TryWriteBits(word&0x3fff, 14)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("dca: repack 14-bit header: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, ErrNoSync
}

// SyncInfo probes data for a frame header starting at offset 0. It returns
// ErrNoSync when no valid header starts there, and ErrTruncatedHeader when a
// sync pattern is present but the window is too short to read the header
// fields; callers treat the latter as "need more data" rather than skipping.
//
// A header is only reported when its sample-rate and bit-rate codes are legal,
// which filters most false sync patterns inside compressed payloads.
func SyncInfo(data []byte) (FrameInfo, error) {
	format, err := detectSync(data)
	if err != nil {
		return FrameInfo{}, err
	}
	norm, err := normalizeHeader(data, format)
	if err != nil {
		return FrameInfo{}, err
	}

	r := bitio.NewReader(bytes.NewReader(norm))
	r.TryReadBits(32) // sync pattern, already matched
	r.TryReadBits(1)  // frame type
	r.TryReadBits(5)  // samples deficit
	crc := r.TryReadBool()
	nblks := r.TryReadBits(7)
	fsize := r.TryReadBits(14)
	amode := r.TryReadBits(6)
	sfreq := r.TryReadBits(4)
	rate := r.TryReadBits(5)
	r.TryReadBits(10) // mix, dynamic range, timestamp, aux, HDCD, ext audio, ASPF
	lff := r.TryReadBits(2)
	if r.TryError != nil {
		return FrameInfo{}, ErrTruncatedHeader
	}

	// Frames are at least 96 packed bytes; smaller values mean the sync
	// pattern was a payload coincidence.
	if fsize < 95 {
		return FrameInfo{}, ErrNoSync
	}
	sampleRate := sampleRates[sfreq]
	if sampleRate == 0 {
		return FrameInfo{}, ErrNoSync
	}
	bitRate := bitRates[rate]
	if bitRate == 0 {
		return FrameInfo{}, ErrNoSync
	}

	frameLength := int(fsize) + 1
	if format == Sync14BE || format == Sync14LE {
		// 14 significant bits per stored 16-bit word.
		frameLength = frameLength * 8 / 14 * 2
	}

	info := FrameInfo{
		Format:      format,
		FrameLength: frameLength,
		Flags:       ChannelMask(amode),
		SampleRate:  sampleRate,
		BitRate:     bitRate,
		SampleCount: (int(nblks) + 1) * 32,
		CRCPresent:  crc,
	}
	info.BlockCount = info.SampleCount / blockSamples
	if lff != 0 {
		info.Flags |= MaskLFE
	}
	return info, nil
}
