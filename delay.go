package timercore

import (
	"context"
	"sync"
	"time"
)

// Delay engine constants from spec §4.7: blocking sleeps are serviced in
// slices rather than a single timer, so a cancellation or limit expiry is
// noticed promptly instead of only after the whole requested duration has
// elapsed.
const (
	maxSleepSlice   = 500 * time.Millisecond
	minLimitSlice   = time.Millisecond
	recheckSkipFloor = 20 * time.Millisecond
)

// interruptState is a one-shot, broadcastable cancellation flag - the Go
// equivalent of the source's AbortController/AbortSignal pair, re-expressed
// as a closable channel so Sleep can select on it instead of polling.
type interruptState struct {
	mu sync.Mutex
	ch chan struct{}
}

func newInterruptState() *interruptState {
	return &interruptState{ch: make(chan struct{})}
}

// Trigger fires the signal, waking any goroutine blocked in Sleep. Idempotent.
func (s *interruptState) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
	default:
		close(s.ch)
	}
}

// Reset clears a previously-triggered signal so the Interpreter can be
// reused for further Sleep calls.
func (s *interruptState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
		s.ch = make(chan struct{})
	default:
	}
}

func (s *interruptState) C() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Triggered reports whether the signal has fired, without blocking.
func (s *interruptState) Triggered() bool {
	select {
	case <-s.C():
		return true
	default:
		return false
	}
}

// limitState is an optional wall-clock deadline a Sleep call must also
// respect, modeled on spec §4.7's resource-limit check. Zero means no limit.
type limitState struct {
	mu       sync.Mutex
	deadline time.Time
	active   bool
}

func (l *limitState) Set(deadline time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deadline = deadline
	l.active = true
}

func (l *limitState) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
}

func (l *limitState) Get() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deadline, l.active
}

// Signal triggers in's interrupt state, causing any goroutine currently
// blocked in Sleep to return ErrCancelled at its next recheck point (which,
// for the channel-based signal, is immediate). Distinct from the
// id-scoped Cancel method already defined in command.go for after-records.
func (in *Interpreter) Signal() {
	in.cancel.Trigger()
}

// ResetSignal clears a previous Signal call, so the Interpreter can be
// reused for subsequent Sleep calls.
func (in *Interpreter) ResetSignal() {
	in.cancel.Reset()
}

// SetLimit installs a wall-clock deadline that Sleep will respect in
// addition to its requested duration, per spec §4.7's resource-limit
// collaborator.
func (in *Interpreter) SetLimit(deadline time.Time) {
	in.limit.Set(deadline)
}

// ClearLimit removes any previously-installed limit.
func (in *Interpreter) ClearLimit() {
	in.limit.Clear()
}

// Sleep blocks the calling goroutine for d, or until ctx is cancelled, the
// Interpreter's signal fires, or its resource limit elapses - whichever
// comes first. It services the wait in bounded slices (maxSleepSlice) so a
// limit deadline closer than that is honoured promptly rather than only
// after the full d has elapsed, matching spec §4.7's slice-driven recheck
// loop. Unlike the timer/idle/async operations, Sleep is not thread-affine:
// it may be called from any goroutine, since it does not touch the
// Scheduler's queues at all.
func (in *Interpreter) Sleep(ctx context.Context, d time.Duration) error {
	if err := in.serviceAsync(); err != nil {
		return err
	}
	if in.cancel.Triggered() {
		return ErrCancelled
	}

	deadline := time.Now().Add(d)
	limitDriven := false
	if limitDeadline, ok := in.limit.Get(); ok && limitDeadline.Before(deadline) {
		if time.Now().After(limitDeadline) || time.Now().Equal(limitDeadline) {
			return ErrLimitExceeded
		}
		deadline = limitDeadline
		limitDriven = true
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if limitDeadline, ok := in.limit.Get(); ok && !time.Now().Before(limitDeadline) {
				return ErrLimitExceeded
			}
			return nil
		}

		slice := remaining
		if slice > maxSleepSlice {
			slice = maxSleepSlice
		}
		if slice < minLimitSlice {
			slice = minLimitSlice
		}

		timer := time.NewTimer(slice)
		select {
		case <-timer.C:
		case <-in.cancel.C():
			timer.Stop()
			return ErrCancelled
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		if !limitDriven && slice < recheckSkipFloor {
			continue
		}

		if limitDeadline, ok := in.limit.Get(); ok && !time.Now().Before(limitDeadline) {
			return ErrLimitExceeded
		}

		if err := in.serviceAsync(); err != nil {
			return err
		}
		if in.cancel.Triggered() {
			return ErrCancelled
		}
	}
}

// serviceAsync implements spec §4.7 step 1: "if the interpreter has
// asynchronous work ready, service it; if that returns an error code, abort
// the sleep with that code". Only the Scheduler's owning goroutine may drain
// the async registry (async.go's InvokeAsync is thread-affine), so a Sleep
// call made from any other goroutine simply skips this step - it has no
// owned async handlers to race with in that case anyway.
func (in *Interpreter) serviceAsync() error {
	if in.sched.isOwner() && in.sched.AsyncReady() {
		return in.sched.InvokeAsync()
	}
	return nil
}
