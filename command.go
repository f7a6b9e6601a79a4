package timercore

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Unit is a recognized time unit suffix, per spec §6's "recognized units".
type Unit int

const (
	UnitMicroseconds Unit = iota
	UnitMilliseconds
	UnitSeconds
)

// unitWords pairs every accepted spelling with its Unit, used both for exact
// lookup and for the unambiguous-prefix matching spec §6 requires.
var unitWords = []struct {
	word string
	unit Unit
}{
	{"us", UnitMicroseconds},
	{"microseconds", UnitMicroseconds},
	{"ms", UnitMilliseconds},
	{"milliseconds", UnitMilliseconds},
	{"s", UnitSeconds},
	{"seconds", UnitSeconds},
}

// ParseUnit resolves a unit suffix, accepting unambiguous prefixes of the
// long forms (e.g. "mil" -> milliseconds, "mic" -> microseconds) in
// addition to the exact short and long spellings.
func ParseUnit(s string) (Unit, error) {
	for _, c := range unitWords {
		if c.word == s {
			return c.unit, nil
		}
	}
	var match *Unit
	for _, c := range unitWords {
		if strings.HasPrefix(c.word, s) {
			if match != nil && *match != c.unit {
				return 0, wrap(fmt.Sprintf("timercore: ambiguous unit %q", s), ErrBadUnit)
			}
			u := c.unit
			match = &u
		}
	}
	if match == nil {
		return 0, wrap(fmt.Sprintf("timercore: unrecognized unit %q", s), ErrBadUnit)
	}
	return *match, nil
}

// Duration converts a count of Units into a time.Duration.
func (u Unit) Duration(count int64) time.Duration {
	switch u {
	case UnitMicroseconds:
		return time.Duration(count) * time.Microsecond
	case UnitMilliseconds:
		return time.Duration(count) * time.Millisecond
	default:
		return time.Duration(count) * time.Second
	}
}

// Script is anything schedulable by After/At/Idle. ScriptFunc adapts a plain
// func() to satisfy it.
type Script interface {
	Run()
}

// ScriptFunc adapts a func() into a Script.
type ScriptFunc func()

// Run invokes the wrapped function.
func (f ScriptFunc) Run() { f() }

// eventKind distinguishes the three underlying queues an after-record may be
// backed by, matching the two- vs four-element `info` shapes of spec §4.8.
type eventKind int

const (
	kindTimerMonotonic eventKind = iota
	kindTimerWall
	kindIdle
)

// afterRecord is spec §3's after-record: the binding between a scheduled
// script and its owning Interpreter.
type afterRecord struct {
	id     string
	kind   eventKind
	token  int64
	script Script
	interp *Interpreter
}

// Interpreter models the host interpreter collaborator from spec §3/§7: it
// owns a list of after-records for teardown cascading cancellation, a
// cancellation flag and wall-clock limit for the delay engine (delay.go),
// and a background-error facility for callbacks that fail.
type Interpreter struct {
	sched *Scheduler

	mu        sync.Mutex
	afterList map[string]*afterRecord
	nextID    int64

	cancel *interruptState
	limit  *limitState

	bg *backgroundErrorReporter
}

// NewInterpreter creates an Interpreter bound to sched. All scheduling calls
// made through the Interpreter run on sched and are subject to its
// thread-affinity checks.
func NewInterpreter(sched *Scheduler) *Interpreter {
	return &Interpreter{
		sched:     sched,
		afterList: make(map[string]*afterRecord),
		cancel:    newInterruptState(),
		limit:     &limitState{},
		bg:        newBackgroundErrorReporter(sched.config.bgErrorLimiter, sched.config.logger),
	}
}

func (in *Interpreter) allocID() string {
	in.nextID++
	return fmt.Sprintf("after#%d", in.nextID)
}

// overflowCheckedMicros adds a duration (in microseconds) to base, returning
// ErrTimeTooFar if the result would overflow an int64 microsecond value.
func overflowCheckedMicros(base, deltaMicros int64) (int64, error) {
	if deltaMicros > 0 && base > math.MaxInt64-deltaMicros {
		return 0, ErrTimeTooFar
	}
	if deltaMicros < 0 && base < math.MinInt64-deltaMicros {
		return 0, ErrTimeTooFar
	}
	return base + deltaMicros, nil
}

// After schedules script to run once, d after now, on the monotonic clock -
// this is the engine behind both `after <N> script` and `timer in`. Returns
// the textual id.
func (in *Interpreter) After(d time.Duration, script Script) (string, error) {
	in.sched.checkOwner("Interpreter.After")

	deadline, err := overflowCheckedMicros(in.sched.MonotonicMicros(), int64(d/time.Microsecond))
	if err != nil {
		return "", err
	}

	id := in.allocID()
	rec := &afterRecord{id: id, kind: kindTimerMonotonic, script: script, interp: in}
	rec.token = in.sched.monotonicQueue.schedule(deadline, func() { in.fire(rec) })
	in.mu.Lock()
	in.afterList[id] = rec
	in.mu.Unlock()
	return id, nil
}

// At schedules script to run once at the given wall-clock time - the engine
// behind `timer at`.
func (in *Interpreter) At(t time.Time, script Script) (string, error) {
	in.sched.checkOwner("Interpreter.At")

	deadline := t.UnixMicro()

	id := in.allocID()
	rec := &afterRecord{id: id, kind: kindTimerWall, script: script, interp: in}
	rec.token = in.sched.wallQueue.schedule(deadline, func() { in.fire(rec) })
	in.mu.Lock()
	in.afterList[id] = rec
	in.mu.Unlock()
	return id, nil
}

// Idle enqueues script onto the idle queue - the engine behind `after idle`
// and `timer idle`.
func (in *Interpreter) Idle(script Script) string {
	in.sched.checkOwner("Interpreter.Idle")

	id := in.allocID()
	rec := &afterRecord{id: id, kind: kindIdle, script: script, interp: in}
	rec.token = in.sched.idleQueue.enqueue(func() { in.fire(rec) })
	in.mu.Lock()
	in.afterList[id] = rec
	in.mu.Unlock()
	return id
}

// fire unlinks rec from the after-list, runs its script, and routes any
// panic through the background-error facility, matching spec §4.8's
// "evaluates the script...reports background errors...frees the record".
func (in *Interpreter) fire(rec *afterRecord) {
	in.mu.Lock()
	delete(in.afterList, rec.id)
	in.mu.Unlock()

	if in.sched.config.metricsEnabled {
		in.sched.metricFires.Add(1)
	}

	defer func() {
		if r := recover(); r != nil {
			in.bg.report(fmt.Errorf("timercore: panic in scheduled script %s: %v", rec.id, r))
		}
	}()
	rec.script.Run()
}

// Cancel cancels id, which may be an "after#<N>" string or (matching spec
// §4.8's script-cancel path) a Script value equal (by interface equality) to
// one currently scheduled. Returns ErrNoSuchEvent if nothing matched -
// callers implementing the silent `after cancel` behaviour should ignore
// that specific error; `timer cancel`'s error-on-no-match behaviour is this
// method's default.
func (in *Interpreter) Cancel(idOrScript any) error {
	in.sched.checkOwner("Interpreter.Cancel")

	var rec *afterRecord
	in.mu.Lock()
	if id, ok := idOrScript.(string); ok {
		rec = in.afterList[id]
	} else {
		for _, r := range in.afterList {
			if r.script == idOrScript {
				rec = r
				break
			}
		}
	}
	if rec != nil {
		delete(in.afterList, rec.id)
	}
	in.mu.Unlock()

	if rec == nil {
		return badIndex(fmt.Sprint(idOrScript), ErrNoSuchEvent)
	}

	switch rec.kind {
	case kindTimerMonotonic:
		in.sched.monotonicQueue.cancel(rec.token)
	case kindTimerWall:
		in.sched.wallQueue.cancel(rec.token)
	case kindIdle:
		in.sched.idleQueue.cancel(rec.token)
	}
	if in.sched.config.metricsEnabled {
		in.sched.metricCancellations.Add(1)
	}
	return nil
}

// EventInfo is the result of Info for a single id, covering both the
// two-element (`after info`) and four-element (`timer info`) description
// shapes of spec §4.8.
type EventInfo struct {
	Id      string
	Script  Script
	IsIdle  bool
	Clock   string // "monotonic" or "wallclock", empty when IsIdle
	Pending bool
}

// Info with no id lists every id currently outstanding for in, matching
// spec's round-trip property: exactly the ids whose scheduling call has
// returned, whose callback has not completed, and which have not been
// cancelled.
func (in *Interpreter) Info() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	ids := make([]string, 0, len(in.afterList))
	for id := range in.afterList {
		ids = append(ids, id)
	}
	return ids
}

// InfoOne describes a single id.
func (in *Interpreter) InfoOne(id string) (EventInfo, error) {
	in.mu.Lock()
	rec, ok := in.afterList[id]
	in.mu.Unlock()
	if !ok {
		return EventInfo{}, badIndex(id, ErrNoSuchEvent)
	}
	info := EventInfo{Id: rec.id, Script: rec.script, Pending: true}
	switch rec.kind {
	case kindTimerMonotonic:
		info.Clock = "monotonic"
	case kindTimerWall:
		info.Clock = "wallclock"
	case kindIdle:
		info.IsIdle = true
	}
	return info, nil
}

// Close cancels every outstanding after-record for in, cascading into the
// underlying timer/idle entries - spec §3's interpreter lifecycle
// coupling, grounded on original_source's AfterCleanupProc.
func (in *Interpreter) Close() {
	in.sched.checkOwner("Interpreter.Close")

	in.mu.Lock()
	recs := make([]*afterRecord, 0, len(in.afterList))
	for _, r := range in.afterList {
		recs = append(recs, r)
	}
	in.afterList = make(map[string]*afterRecord)
	in.mu.Unlock()

	for _, rec := range recs {
		switch rec.kind {
		case kindTimerMonotonic:
			in.sched.monotonicQueue.cancel(rec.token)
		case kindTimerWall:
			in.sched.wallQueue.cancel(rec.token)
		case kindIdle:
			in.sched.idleQueue.cancel(rec.token)
		}
	}
}

// ParseIndex validates an "after#<N>" id string per spec §6: exact prefix,
// no leading sign, no trailing non-digits.
func ParseIndex(s string) (int64, error) {
	const prefix = "after#"
	if !strings.HasPrefix(s, prefix) {
		return 0, badIndex(s, ErrBadIndex)
	}
	digits := s[len(prefix):]
	if digits == "" || digits[0] == '+' || digits[0] == '-' {
		return 0, badIndex(s, ErrBadIndex)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, badIndex(s, ErrBadIndex)
	}
	return n, nil
}
