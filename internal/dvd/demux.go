// Package dvd splits DVD private-stream sub-packets on their first-access
// field, so each side of a frame boundary reaches the decoder as its own
// correctly timestamped unit.
package dvd

import (
	"errors"
	"fmt"

	"github.com/zsiec/dcastream/internal/media"
)

var (
	// ErrInsufficientData means the sub-packet is too short to carry the
	// two-byte first-access field.
	ErrInsufficientData = errors.New("dvd: sub-packet shorter than first-access field")

	// ErrBadFirstAccess means the first-access value points outside the
	// sub-packet.
	ErrBadFirstAccess = errors.New("dvd: bad first-access value")
)

// Split demultiplexes one sub-packet into one or two payload units. The
// first-access field counts bytes (one-based, from just past the field) to
// the start of a new frame: anything before it is the tail of a frame begun in
// an earlier sub-packet and carries no timestamp, while the unit starting at
// it inherits the sub-packet's timestamp. Values 0 and 1 mean the payload
// begins directly on a frame boundary.
//
// On error the whole sub-packet is dropped; callers treat that as fatal for
// the stream, not just the unit.
func Split(unit media.Unit) ([]media.Unit, error) {
	size := len(unit.Data)
	if size < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInsufficientData, size)
	}
	firstAccess := int(unit.Data[0])<<8 | int(unit.Data[1])

	const offset = 2
	if firstAccess <= 1 {
		return []media.Unit{{Data: unit.Data[offset:], PTS: unit.PTS}}, nil
	}

	length := firstAccess - 1
	if length <= 0 || offset+length > size {
		return nil, fmt.Errorf("%w: first access %d in %d byte sub-packet", ErrBadFirstAccess, firstAccess, size)
	}

	out := []media.Unit{{Data: unit.Data[offset : offset+length], PTS: media.NoPTS}}
	if offset+length < size {
		out = append(out, media.Unit{Data: unit.Data[offset+length:], PTS: unit.PTS})
	}
	return out, nil
}
