package timercore

// setupProc implements spec §4.6's setup_proc: consulted immediately before
// the event loop blocks in PollIO, it returns the millisecond timeout to
// request, or -1 to block indefinitely.
func (s *Scheduler) setupProc() int {
	if s.idleQueue.l.Len() > 0 {
		return 0
	}
	if s.monotonicQueue.pendingEvent || s.wallQueue.pendingEvent {
		return 0
	}

	have := false
	var minMicros int64

	if d, ok := s.monotonicQueue.headDeadline(); ok {
		rem := d - s.MonotonicMicros()
		if rem < 0 {
			rem = 0
		}
		if !have || rem < minMicros {
			minMicros, have = rem, true
		}
	}
	if d, ok := s.wallQueue.headDeadline(); ok {
		rem := d - s.WallMicros()
		if rem < 0 {
			rem = 0
		}
		if !have || rem < minMicros {
			minMicros, have = rem, true
		}
	}

	if !have {
		return -1
	}
	ms := int(minMicros / 1000)
	if minMicros%1000 != 0 {
		ms++
	}
	return ms
}

// checkProc implements spec §4.6's check_proc: consulted after the event
// loop wakes, it reports which of the two queues has an expired head and
// has no service-timers event already pending, setting the pending marker
// for each one it reports. Scheduler.Run services exactly those queues this
// tick, which is what keeps only one service-timers pass in flight per
// queue at a time.
func (s *Scheduler) checkProc() (monoExpired, wallExpired bool) {
	if d, ok := s.monotonicQueue.headDeadline(); ok && !s.monotonicQueue.pendingEvent && d <= s.MonotonicMicros() {
		s.monotonicQueue.pendingEvent = true
		monoExpired = true
	}
	if d, ok := s.wallQueue.headDeadline(); ok && !s.wallQueue.pendingEvent && d <= s.WallMicros() {
		s.wallQueue.pendingEvent = true
		wallExpired = true
	}
	return
}
