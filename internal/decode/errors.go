package decode

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMoreData reports that the accumulated input does not yet hold a
	// complete frame. It is scanner state, not a failure.
	ErrNeedMoreData = errors.New("decode: need more data")

	// ErrNotStarted is returned by Write before Start has created the engine.
	ErrNotStarted = errors.New("decode: decoder not started")

	// ErrInvalidChannelLayout means a channel mask did not resolve to a
	// usable speaker layout. The offending frame is dropped.
	ErrInvalidChannelLayout = errors.New("decode: invalid channel layout")

	// ErrNegotiationFailed means the downstream consumer rejected the output
	// format. Unlike per-frame decode errors this is terminal for the stream.
	ErrNegotiationFailed = errors.New("decode: output negotiation failed")
)

// DecodeError is a mid-frame failure. Block is the failing decode block, or
// -1 when the frame failed before block decoding began. Recoverable failures
// drop at most the frame; Write only returns a DecodeError once the error
// budget is spent without a successful frame in between.
type DecodeError struct {
	Block         int
	Unrecoverable bool
	Err           error
}

func (e *DecodeError) Error() string {
	if e.Block < 0 {
		return fmt.Sprintf("decode: frame failed: %v", e.Err)
	}
	return fmt.Sprintf("decode: block %d failed: %v", e.Block, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
