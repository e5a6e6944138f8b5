// Package playerr defines the error taxonomy of §7: a fixed set of sentinel
// kinds plus wrapped detail types for parse and state errors, so callers can
// classify failures with errors.Is/errors.As the way internal/moq/errors.go
// does for MoQ session handling.
package playerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds from §7's taxonomy. Wrap one of these with fmt.Errorf's
// %w, or with ParseError/StateError below, to add detail while preserving
// errors.Is classification.
var (
	ErrInvalidState    = errors.New("playback: invalid state")
	ErrUnsupportedType = errors.New("playback: unsupported type")
	ErrQuota           = errors.New("playback: quota exceeded")
	ErrTypeError       = errors.New("playback: type error")
	ErrParse           = errors.New("playback: parse error")
	ErrInit            = errors.New("playback: initialization error")
	ErrDecode          = errors.New("playback: decode error")
	ErrAbort           = errors.New("playback: aborted")
)

// StateError reports a synchronous API misuse: calling an operation while
// the owning object is in a state that forbids it (§7 InvalidState).
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("playback: %s: invalid in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// NewStateError builds a StateError for operation op attempted in state.
func NewStateError(op, state string) error {
	return &StateError{Op: op, State: state}
}

// ParseError reports a byte-stream format violation encountered while
// parsing a fragmented MP4 box or field (§7 ParseError).
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("playback: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// NewParseError wraps err as a ParseError naming the field being parsed.
func NewParseError(field string, err error) error {
	return &ParseError{Field: field, Err: err}
}

// InitError reports an init-segment violation: missing tracks, unsupported
// codec, or a structural mismatch across init segments (§7 InitError).
type InitError struct {
	Reason string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("playback: init segment: %s", e.Reason)
}

func (e *InitError) Unwrap() error { return ErrInit }

// NewInitError builds an InitError with the given reason.
func NewInitError(reason string) error {
	return &InitError{Reason: reason}
}

// EndOfStreamKind is the (intentionally minimal) taxonomy for
// endOfStream(error?), per §7's "currently only taxonomy placeholders" and
// DESIGN.md's Open Question decision: propagation beyond the sourceended
// event is a no-op.
type EndOfStreamKind int

const (
	// EOSNone indicates a clean end of stream with no error.
	EOSNone EndOfStreamKind = iota
	EOSNetwork
	EOSDecode
)

func (k EndOfStreamKind) String() string {
	switch k {
	case EOSNetwork:
		return "network"
	case EOSDecode:
		return "decode"
	default:
		return "none"
	}
}
