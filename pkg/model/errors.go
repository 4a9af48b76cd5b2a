package model

import "errors"

// Error kinds surfaced to the requester at the command boundary.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrNoChange         = errors.New("no change")
)

// Kind classifies an error for reporting.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindPermissionDenied
	KindNotFound
	KindNoChange
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindNoChange:
		return "no_change"
	default:
		return "internal"
	}
}

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNoChange):
		return KindNoChange
	default:
		return KindInternal
	}
}
