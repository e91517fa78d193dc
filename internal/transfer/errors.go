package transfer

import (
	"errors"
	"fmt"
)

// Kind classifies a failed transfer.
type Kind int

const (
	KindValidation Kind = iota // Bad source, destination or unresolved name conflict
	KindSpace                  // Not enough free space at the destination
	KindJob                    // Management job ended unsuccessfully
	KindWorker                 // The platform call itself failed
	KindIntegrity              // Post-transfer checks failed after a nominal success
	KindCancelled              // Caller cancelled the transfer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindSpace:
		return "SpaceError"
	case KindJob:
		return "JobError"
	case KindWorker:
		return "WorkerError"
	case KindIntegrity:
		return "IntegrityError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "UnknownError"
	}
}

// Error is the single top-level error surfaced for a failed transfer.
type Error struct {
	Kind   Kind
	Detail string
	Err    error // Underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil && e.Detail != e.Err.Error() {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of a transfer error and whether err is one.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// ErrConflictCancelled is returned by a ConflictResolver that declines to rename.
var ErrConflictCancelled = errors.New("transfer: name conflict cancelled")

// relocationError marks a failed post-import storage move inside the worker.
// It is reported as an integrity failure, never as a worker failure.
type relocationError struct {
	err error
}

func (e *relocationError) Error() string {
	return "relocate storage: " + e.err.Error()
}

func (e *relocationError) Unwrap() error {
	return e.err
}
