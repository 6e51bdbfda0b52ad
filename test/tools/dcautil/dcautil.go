// Package dcautil provides shared stream-file infrastructure used by the
// gen-dca, srt-push, and related test utilities.
package dcautil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zsiec/dcastream/internal/dca"
)

// SubPacketSize is the stored size of one DVD sub-packet as written by
// gen-dca: the two-byte first-access field plus its payload. 1316 bytes is
// the standard SRT payload size, so srt-push can send one sub-packet per
// message.
const SubPacketSize = 1316

// ErrNoFrame means no valid frame header was found anywhere in the data.
var ErrNoFrame = errors.New("dcautil: no frame found")

// ProbeFirstFrame hunts for the first valid frame header in data and returns
// its parameters and byte offset.
func ProbeFirstFrame(data []byte) (dca.FrameInfo, int, error) {
	for off := 0; len(data)-off >= dca.MinHeaderWindow; off++ {
		info, err := dca.SyncInfo(data[off:])
		if err == nil {
			return info, off, nil
		}
	}
	return dca.FrameInfo{}, 0, ErrNoFrame
}

// SplitUnits cuts data into units of unitSize bytes. The final unit keeps
// whatever remains, so nothing is dropped.
func SplitUnits(data []byte, unitSize int) [][]byte {
	if unitSize <= 0 {
		return [][]byte{data}
	}
	units := make([][]byte, 0, (len(data)+unitSize-1)/unitSize)
	for off := 0; off < len(data); off += unitSize {
		end := off + unitSize
		if end > len(data) {
			end = len(data)
		}
		units = append(units, data[off:end])
	}
	return units
}

// StripSubPackets reassembles the elementary stream from a DVD sub-packet
// file by dropping the two-byte first-access field of each stored unit.
func StripSubPackets(data []byte, unitSize int) []byte {
	es := make([]byte, 0, len(data))
	for _, unit := range SplitUnits(data, unitSize) {
		if len(unit) < 2 {
			break
		}
		es = append(es, unit[2:]...)
	}
	return es
}

// FindProjectRoot walks up from the working directory until it finds go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	for {
		if FileExists(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("no go.mod found in any parent directory")
		}
		dir = parent
	}
}

// StreamsDir returns the test stream directory under the project root,
// falling back to a relative path when no root is found.
func StreamsDir() string {
	root, err := FindProjectRoot()
	if err != nil {
		return filepath.Join("test", "streams")
	}
	return filepath.Join(root, "test", "streams")
}

// FileExists returns true if the path exists (and is stat-able).
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
