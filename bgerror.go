package timercore

import (
	"fmt"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// backgroundErrorReporter is spec §7's background-error propagation policy:
// an error raised from a callback the event loop invoked on the script's
// behalf (rather than one returned synchronously to a caller) is logged
// instead of thrown across the dispatch boundary, and throttled per
// category so a callback that fails every tick cannot flood the log.
// Grounded on original_source's Tcl_BackgroundError path and rate-limited
// with go-catrate, the same way the teacher throttles its own noisy
// internal error paths.
type backgroundErrorReporter struct {
	limiter *catrate.Limiter
	logger  *logiface.Logger[*stumpy.Event]
}

func newBackgroundErrorReporter(limiter *catrate.Limiter, logger *logiface.Logger[*stumpy.Event]) *backgroundErrorReporter {
	return &backgroundErrorReporter{limiter: limiter, logger: logger}
}

// BackgroundError routes err through in's background-error facility, the
// same path a panicking scheduled script takes via fire. Exposed so
// embedders integrating their own script-evaluation errors (rather than a
// Script.Run panic) can still report through the throttled facility.
func (in *Interpreter) BackgroundError(err error) {
	in.bg.report(err)
}

// report logs err under CategoryCommand, throttled by the reporter's
// limiter keyed on errorCategory(err), so errors of one category cannot
// suppress reports of another.
func (r *backgroundErrorReporter) report(err error) {
	if err == nil {
		return
	}
	category := errorCategory(err)
	if r.limiter != nil {
		if _, allowed := r.limiter.Allow(category); !allowed {
			return
		}
	}
	logErr(r.logger, CategoryCommand, "background error", err)
}

// errorCategory buckets err for rate-limiting purposes. Errors wrapping one
// of this package's sentinels are bucketed by that sentinel; everything
// else is bucketed by its dynamic type, so distinct callers failing with
// distinct causes are throttled independently.
func errorCategory(err error) any {
	switch {
	case isErr(err, ErrCancelled):
		return ErrCancelled
	case isErr(err, ErrTimeTooFar):
		return ErrTimeTooFar
	case isErr(err, ErrNoSuchEvent):
		return ErrNoSuchEvent
	case isErr(err, ErrBadIndex):
		return ErrBadIndex
	case isErr(err, ErrBadUnit):
		return ErrBadUnit
	case isErr(err, ErrBadOption):
		return ErrBadOption
	case isErr(err, ErrLimitExceeded):
		return ErrLimitExceeded
	case isErr(err, ErrClosed):
		return ErrClosed
	default:
		return fmt.Sprintf("%T", err)
	}
}
