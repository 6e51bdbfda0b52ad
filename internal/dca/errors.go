package dca

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSync means no valid frame header starts at the probed offset.
	ErrNoSync = errors.New("dca: no frame sync")

	// ErrTruncatedHeader means a sync pattern is present but the window ends
	// before the header fields do.
	ErrTruncatedHeader = errors.New("dca: truncated frame header")

	// ErrInvalidMask means a channel mask does not resolve to a known
	// speaker configuration.
	ErrInvalidMask = errors.New("dca: invalid channel mask")
)

// UnrecoverableError marks a block decode failure that poisons the rest of
// the frame. The decoder stops attempting remaining blocks when it sees one.
type UnrecoverableError struct {
	Err error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("dca: unrecoverable: %v", e.Err)
}

func (e *UnrecoverableError) Unwrap() error { return e.Err }

// IsUnrecoverable reports whether err carries an UnrecoverableError.
func IsUnrecoverable(err error) bool {
	var ue *UnrecoverableError
	return errors.As(err, &ue)
}
