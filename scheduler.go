package timercore

import (
	"context"
	"sync/atomic"
)

// Scheduler is the per-thread timer/idle/async core described by spec §2:
// one Scheduler maps to one owning goroutine, the same way the source maps
// one notifier/event-loop instance to one OS thread. All of a Scheduler's
// timer and idle operations are thread-affine (spec §5's "per-thread
// single-threaded cooperative" scheduling model); only the async registry
// (async.go) is process-wide shared state.
type Scheduler struct {
	state  *FastState
	poller FastPoller

	wakeReadFd  int
	wakeWriteFd int

	monotonicQueue *timerQueue
	wallQueue      *timerQueue
	idleQueue      *idleQueue

	calibration *calibrator

	config schedulerConfig

	ownerGoroutine atomic.Uint64

	asyncAnyReady atomic.Bool
	asyncInvoking atomic.Bool

	bg *backgroundErrorReporter

	metricFires         atomic.Int64
	metricCancellations atomic.Int64
	metricIdleDrains    atomic.Int64
}

// SchedulerMetrics is a snapshot of the counters WithMetrics enables. All
// three are zero for the lifetime of a Scheduler constructed without that
// option.
type SchedulerMetrics struct {
	Fires         int64 // completed timer/idle callback invocations
	Cancellations int64 // successful Interpreter.Cancel calls
	IdleDrains    int64 // Run-loop idle passes (serviceIdle) that ran at least one handler
}

// Metrics reports s's current counters. Always safe to call; reads zero
// values when WithMetrics(true) was never supplied.
func (s *Scheduler) Metrics() SchedulerMetrics {
	return SchedulerMetrics{
		Fires:         s.metricFires.Load(),
		Cancellations: s.metricCancellations.Load(),
		IdleDrains:    s.metricIdleDrains.Load(),
	}
}

// NewScheduler constructs a Scheduler ready to have Run called on it. The
// goroutine that calls Run becomes the owner for the purposes of the
// thread-affinity checks in delay.go and command.go.
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	cfg := newSchedulerConfig(opts)

	s := &Scheduler{
		state:          NewFastState(),
		monotonicQueue: newTimerQueue(),
		wallQueue:      newTimerQueue(),
		idleQueue:      newIdleQueue(),
		config:         cfg,
	}
	s.bg = newBackgroundErrorReporter(cfg.bgErrorLimiter, cfg.logger)

	if err := s.poller.Init(); err != nil {
		return nil, wrap("timercore: poller init", err)
	}

	readFd, writeFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		_ = s.poller.Close()
		return nil, wrap("timercore: wake fd init", err)
	}
	s.wakeReadFd = readFd
	s.wakeWriteFd = writeFd

	if readFd >= 0 {
		if err := s.poller.RegisterFD(readFd, EventRead, func(IOEvents) {
			_ = drainWakeUpPipe(readFd)
		}); err != nil {
			_ = closeWakeFd(readFd, writeFd)
			_ = s.poller.Close()
			return nil, wrap("timercore: wake fd register", err)
		}
	}

	if cfg.calibrationPeriod > 0 {
		s.calibration = newCalibrator(nil, cfg.wallClock)
		s.calibration.interval = cfg.calibrationPeriod
	}

	return s, nil
}

// submitWakeup performs the self-pipe write that wakes a blocked PollIO
// call. It is the single operation shared by the ordinary and signal-safe
// marking paths (async.go): one syscall, one small stack buffer, no lock.
func (s *Scheduler) submitWakeup() {
	if s.wakeWriteFd >= 0 {
		var buf [8]byte
		buf[0] = 1
		_, _ = writeFD(s.wakeWriteFd, buf[:])
		return
	}
	_ = submitGenericWakeup(0)
}

func (s *Scheduler) wakeup()           { s.submitWakeup() }
func (s *Scheduler) wakeupFromSignal() { s.submitWakeup() }

func (s *Scheduler) isOwner() bool {
	return s.ownerGoroutine.Load() == currentGoroutineID()
}

func (s *Scheduler) checkOwner(op string) {
	if !s.isOwner() {
		panicWrongThread(op)
	}
}

// RegisterFD exposes the Scheduler's I/O poller directly, for embedders that
// want this Scheduler to double as their outer event loop (spec treats the
// outer loop as an external collaborator; this package supplies a real one
// so it is runnable standalone - see SPEC_FULL.md's notifier section).
func (s *Scheduler) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	return s.poller.RegisterFD(fd, events, cb)
}

func (s *Scheduler) UnregisterFD(fd int) error { return s.poller.UnregisterFD(fd) }

func (s *Scheduler) ModifyFD(fd int, events IOEvents) error { return s.poller.ModifyFD(fd, events) }

// Run drives the Scheduler's event loop until ctx is cancelled or Shutdown
// is called. It must be called from the goroutine that is to become the
// Scheduler's owner; all subsequent thread-affine operations check against
// it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ownerGoroutine.Store(currentGoroutineID())

	if !s.state.TryTransition(StateAwake, StateRunning) {
		return ErrClosed
	}
	logInfo(s.config.logger, CategoryNotifier, "scheduler started", nil)

	if s.calibration != nil {
		go s.calibration.run()
	}

	for {
		if ctx.Err() != nil || s.state.Load() == StateTerminating {
			break
		}

		timeoutMs := s.setupProc()

		s.state.TryTransition(StateRunning, StateSleeping)
		_, pollErr := s.poller.PollIO(timeoutMs)
		s.state.TryTransition(StateSleeping, StateRunning)
		if pollErr != nil {
			logErr(s.config.logger, CategoryNotifier, "poll error", pollErr)
		}

		s.markFromNotifier()
		if s.AsyncReady() {
			// The run loop has no caller to propagate a completion code to,
			// so a non-nil code from a marked handler is reported the same
			// way a panicking scheduled script is: through background-error.
			if err := s.InvokeAsync(); err != nil {
				s.bg.report(err)
			}
		}

		monoExpired, wallExpired := s.checkProc()
		if monoExpired {
			s.monotonicQueue.service(s.MonotonicMicros())
		}
		if wallExpired {
			s.wallQueue.service(s.WallMicros())
		}

		if n := s.idleQueue.serviceIdle(); n > 0 && s.config.metricsEnabled {
			s.metricIdleDrains.Add(1)
		}
	}

	return s.teardown()
}

func (s *Scheduler) teardown() error {
	if s.calibration != nil {
		s.calibration.Stop()
	}
	deleteAsyncOwnedBy(s)
	_ = closeWakeFd(s.wakeReadFd, s.wakeWriteFd)
	err := s.poller.Close()
	s.state.Store(StateTerminated)
	logInfo(s.config.logger, CategoryNotifier, "scheduler stopped", nil)
	return err
}

// Shutdown requests that Run return once its current iteration completes.
// Safe to call from any goroutine.
func (s *Scheduler) Shutdown() {
	s.state.TransitionAny([]SchedulerState{StateRunning, StateSleeping, StateAwake}, StateTerminating)
	s.wakeup()
}

// Closed reports whether the Scheduler has finished tearing down.
func (s *Scheduler) Closed() bool { return s.state.IsTerminal() }
