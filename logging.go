package timercore

import (
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Category tags a log line with the subsystem that produced it, mirroring the
// teacher's category-tagged LogEvent shape.
type Category string

const (
	CategoryClock       Category = "clock"
	CategoryCalibration Category = "calibration"
	CategoryAsync       Category = "async"
	CategoryTimer       Category = "timer"
	CategoryIdle        Category = "idle"
	CategoryNotifier    Category = "notifier"
	CategoryDelay       Category = "delay"
	CategoryCommand     Category = "command"
)

var (
	loggerMu sync.RWMutex
	logger   = defaultLogger()
)

func defaultLogger() *logiface.Logger[*stumpy.Event] {
	return stumpy.L.New(
		stumpy.L.WithOptions(
			stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		),
		stumpy.L.WithLevel(logiface.LevelInformational),
	)
}

// SetLogger replaces the package-level logger. A Scheduler not given its own
// via WithLogger captures the package-level logger when it is constructed,
// so the change applies to Schedulers created afterwards, not to existing
// ones. Passing nil restores the default stderr JSON logger.
func SetLogger(l *logiface.Logger[*stumpy.Event]) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		logger = defaultLogger()
		return
	}
	logger = l
}

func currentLogger() *logiface.Logger[*stumpy.Event] {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// logEvent emits a structured line tagged with cat, running build only when
// the configured level would actually write the event.
func logEvent(l *logiface.Logger[*stumpy.Event], level func(*logiface.Logger[*stumpy.Event]) *logiface.Builder[*stumpy.Event], cat Category, msg string, build func(*logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event]) {
	if l == nil {
		l = currentLogger()
	}
	b := level(l)
	if b == nil {
		return
	}
	b = b.Str("category", string(cat))
	if build != nil {
		b = build(b)
	}
	b.Log(msg)
}

func logInfo(l *logiface.Logger[*stumpy.Event], cat Category, msg string, build func(*logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event]) {
	logEvent(l, (*logiface.Logger[*stumpy.Event]).Info, cat, msg, build)
}

func logDebug(l *logiface.Logger[*stumpy.Event], cat Category, msg string, build func(*logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event]) {
	logEvent(l, (*logiface.Logger[*stumpy.Event]).Debug, cat, msg, build)
}

func logWarning(l *logiface.Logger[*stumpy.Event], cat Category, msg string, build func(*logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event]) {
	logEvent(l, (*logiface.Logger[*stumpy.Event]).Warning, cat, msg, build)
}

func logErr(l *logiface.Logger[*stumpy.Event], cat Category, msg string, err error) {
	logEvent(l, (*logiface.Logger[*stumpy.Event]).Err, cat, msg, func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event] {
		return b.Err(err)
	})
}
