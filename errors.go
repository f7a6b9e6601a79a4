package timercore

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (possibly wrapped) by this package. Use errors.Is
// to test for them.
var (
	// ErrBadUnit is returned when a time unit suffix could not be resolved to
	// a known Unit, or was ambiguous between two or more long forms.
	ErrBadUnit = errors.New("timercore: bad time unit")

	// ErrBadOption is the bad-option error kind. No function in this package
	// returns it; errorCategory (bgerror.go) buckets errors that wrap it.
	ErrBadOption = errors.New("timercore: bad option")

	// ErrBadIndex is returned by ParseIndex when an id string is not of the
	// form "after#<N>". An id that parses but names no pending event yields
	// ErrNoSuchEvent instead.
	ErrBadIndex = errors.New("timercore: bad event index")

	// ErrNoSuchEvent is returned by Cancel/Info when the id names an event
	// that is not currently pending (already fired, already cancelled, or
	// never existed).
	ErrNoSuchEvent = errors.New("timercore: no such event")

	// ErrTimeTooFar is returned when a requested deadline would overflow the
	// internal microsecond representation.
	ErrTimeTooFar = errors.New("timercore: requested time too far in the future")

	// ErrCancelled is returned by Sleep/blocking waits when the owning
	// Interpreter's cancellation was triggered before the wait completed.
	ErrCancelled = errors.New("timercore: cancelled")

	// ErrLimitExceeded is returned by Sleep/blocking waits when the
	// Interpreter's wall-clock resource limit elapsed before the wait
	// completed.
	ErrLimitExceeded = errors.New("timercore: resource limit exceeded")

	// ErrClosed is returned by Scheduler.Run when the Scheduler is no longer
	// in its initial state (already running, shutting down, or torn down).
	ErrClosed = errors.New("timercore: closed")
)

// wrongThreadError is panicked (not returned) by operations that detect they
// are being called from a goroutine other than the one that owns the
// Scheduler. Per spec, cross-thread misuse of thread-affine operations is a
// programming error, not a recoverable condition.
type wrongThreadError struct {
	op string
}

func (e *wrongThreadError) Error() string {
	return fmt.Sprintf("timercore: %s called from a goroutine that does not own this scheduler", e.op)
}

func panicWrongThread(op string) {
	panic(&wrongThreadError{op: op})
}

// causeError wraps an error with additional context while preserving the
// original via Unwrap, mirroring the teacher's cause-chain error idiom.
type causeError struct {
	msg   string
	cause error
}

// wrap returns an error whose Error() combines msg and cause.Error(), and
// whose Unwrap() returns cause so errors.Is/errors.As keep working through
// the chain.
func wrap(msg string, cause error) error {
	if cause == nil {
		return errors.New(msg)
	}
	return &causeError{msg: msg, cause: cause}
}

func (e *causeError) Error() string {
	return fmt.Sprintf("%s: %v", e.msg, e.cause)
}

func (e *causeError) Unwrap() error {
	return e.cause
}

// IndexError reports a malformed or unknown event identifier, carrying the
// offending string for diagnostics.
type IndexError struct {
	Id    string
	cause error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("timercore: invalid event id %q: %v", e.Id, e.cause)
}

func (e *IndexError) Unwrap() error {
	return e.cause
}

func badIndex(id string, cause error) error {
	return &IndexError{Id: id, cause: cause}
}

// isErr is a thin errors.Is wrapper, used by bgerror.go to bucket errors by
// sentinel for rate-limiting purposes.
func isErr(err, target error) bool {
	return errors.Is(err, target)
}
