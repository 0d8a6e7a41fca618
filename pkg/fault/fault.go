// Package fault classifies vault failures so that callers can tell a
// transient condition (retry later) from a permanent one.
package fault

import "errors"

// Kind is the failure category of an engine error.
type Kind uint8

const (
	Unknown Kind = iota
	// Timing means the operation is valid but not yet: a round has not
	// closed, an option is not ready, an oracle price is not final.
	Timing
	InsufficientBalance
	SlippageViolation
	StateConflict
	InvalidArgument
	Unauthorized
	Reentrancy
)

func (k Kind) String() string {
	switch k {
	case Timing:
		return "timing"
	case InsufficientBalance:
		return "insufficient_balance"
	case SlippageViolation:
		return "slippage"
	case StateConflict:
		return "state_conflict"
	case InvalidArgument:
		return "invalid_argument"
	case Unauthorized:
		return "unauthorized"
	case Reentrancy:
		return "reentrancy"
	default:
		return "unknown"
	}
}

// Error is a categorised sentinel. Compare with errors.Is.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// New creates a sentinel error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the kind of the first categorised error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
