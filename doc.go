// Package timercore implements a per-thread cooperative timer, idle-callback
// and process-wide async-signal dispatch core, modeled on the notifier layer
// of a Tcl-style embeddable scripting runtime: a monotonic and a wall-clock
// timer queue serviced with fence-token deferral, a generation-barriered
// idle queue, a mutex-guarded process-wide async handler registry whose
// MarkFromSignal entry point takes no lock and is safe to call from a true
// signal handler, a drift-correcting clock calibration loop, and
// a cooperative blocking sleep engine.
//
// A Scheduler owns exactly one of each queue and must have Run called from
// the single goroutine that is to be its owner; timer, idle and async
// operations that touch that Scheduler's own state panic if called from any
// other goroutine, mirroring the thread-affinity rules of the runtime this
// package is modeled on. Only the async registry (CreateAsync/Mark/
// MarkFromSignal) and the Interpreter-scoped Sleep engine are safe to use
// from outside the owner.
//
// An Interpreter binds an after/timer command surface (After, At, Idle,
// Cancel, Info) and a background-error facility to a Scheduler, cascading
// cancellation of every outstanding after-record on Close.
package timercore
