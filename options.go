package timercore

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// schedulerConfig collects the result of applying SchedulerOption values,
// following the teacher's functional-option pattern (options.go's LoopOption).
type schedulerConfig struct {
	logger            *logiface.Logger[*stumpy.Event]
	metricsEnabled    bool
	bgErrorLimiter    *catrate.Limiter
	wallClock         func() time.Time
	calibrationPeriod time.Duration
}

// SchedulerOption configures a Scheduler at construction time.
type SchedulerOption interface {
	apply(*schedulerConfig)
}

type schedulerOptionFunc func(*schedulerConfig)

func (f schedulerOptionFunc) apply(c *schedulerConfig) { f(c) }

// WithLogger overrides the structured logger used by a single Scheduler,
// rather than going through the package-level SetLogger.
func WithLogger(l *logiface.Logger[*stumpy.Event]) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.logger = l
	})
}

// WithMetrics enables the lightweight counters a Scheduler maintains
// internally (fires, cancellations, idle drains) and exposes through
// Metrics. When disabled (the default), the counters are never incremented,
// so a Scheduler that does not ask for metrics pays nothing for them beyond
// the zero-value fields.
func WithMetrics(enabled bool) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.metricsEnabled = enabled
	})
}

// WithBackgroundErrorLimiter installs a rate limiter used to throttle
// repeated BackgroundError reports from a single misbehaving callback. See
// bgerror.go.
func WithBackgroundErrorLimiter(l *catrate.Limiter) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.bgErrorLimiter = l
	})
}

// WithWallClock overrides the wall-clock reader, for deterministic tests of
// the wall-clock timer queue and the calibration loop.
func WithWallClock(now func() time.Time) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.wallClock = now
	})
}

// WithCalibrationPeriod sets the calibration loop's initial interval (default
// 1s). Zero (or a negative value) disables the calibration loop entirely.
// After each cycle the loop adapts the interval itself: it doubles, up to
// 10s, while drift stays under 10ms, and drops back to 1s otherwise.
func WithCalibrationPeriod(d time.Duration) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.calibrationPeriod = d
	})
}

func newSchedulerConfig(opts []SchedulerOption) schedulerConfig {
	c := schedulerConfig{
		wallClock:         time.Now,
		calibrationPeriod: time.Second,
	}
	for _, o := range opts {
		if o != nil {
			o.apply(&c)
		}
	}
	if c.logger == nil {
		c.logger = currentLogger()
	}
	if c.bgErrorLimiter == nil {
		c.bgErrorLimiter = catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 30,
		})
	}
	return c
}
