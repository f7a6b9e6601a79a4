package timercore

import (
	"bytes"
	"runtime"
	"strconv"
)

// currentGoroutineID extracts the calling goroutine's id from its own stack
// trace header ("goroutine 123 [running]:"). This is the standard technique
// used by goroutine-local-state libraries in the absence of a supported
// runtime API; it is used here only for the Scheduler's cheap, best-effort
// affinity check (panicWrongThread), never on a hot path.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
