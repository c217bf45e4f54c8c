package models

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindCapacityExceeded
	KindNotFound
	KindBackendUnavailable
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindNotFound:
		return "not_found"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	switch s {
	case "validation":
		return KindValidation
	case "capacity_exceeded":
		return KindCapacityExceeded
	case "not_found":
		return KindNotFound
	case "backend_unavailable":
		return KindBackendUnavailable
	case "conflict":
		return KindConflict
	case "rate_limited":
		return KindRateLimited
	default:
		return KindUnknown
	}
}

// Error is the typed failure returned by the directory, engine, presence and
// relay packages.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) and friends match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrCapacityExceeded   = &Error{Kind: KindCapacityExceeded}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrConflict           = &Error{Kind: KindConflict}
)

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func CapacityExceeded(op, roomID string) error {
	return &Error{Kind: KindCapacityExceeded, Op: op, Message: "room " + roomID + " is full"}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Conflict(op string, err error) error {
	return &Error{Kind: KindConflict, Op: op, Message: "concurrent update", Err: err}
}

func Unavailable(op string, err error) error {
	return &Error{Kind: KindBackendUnavailable, Op: op, Message: "backend unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the caller may try again: capacity races (via a
// fresh next-room call), sequence conflicts, rate limiting and backend
// outages.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindCapacityExceeded, KindConflict, KindBackendUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// ErrRoomLimitReached is returned by room creation when the global room limit
// is hit. It is the end-of-flow signal, not a failure.
var ErrRoomLimitReached = errors.New("room limit reached")
