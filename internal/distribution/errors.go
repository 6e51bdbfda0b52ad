package distribution

import "errors"

// Sentinel errors for subscribe and wire handling, so callers can branch
// with errors.Is.
var (
	ErrStreamNotFound  = errors.New("distribution: stream not found")
	ErrMessageTooLarge = errors.New("distribution: message exceeds size limit")
	ErrNegativePTS     = errors.New("distribution: negative timestamp")
)
