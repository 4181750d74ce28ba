package wdcap

import "sync/atomic"

// runState holds the process-wide mutable flags shared between the main
// goroutine, the signal-handling goroutine, the processing goroutines, and
// the merge goroutine. The original implementation kept these as volatile
// globals (corsaro_halted, corsaro_restart, threads_ended); this is the
// re-architected form described in the design notes: atomic values inside
// a single value shared by pointer, with signal handling setting them and
// every goroutine polling at well-defined points.
type runState struct {
	halted           atomic.Bool
	restartRequested atomic.Bool
	threadsEnded     atomic.Int32
}

func newRunState() *runState {
	return &runState{}
}

func (rs *runState) setHalted() {
	rs.halted.Store(true)
}

func (rs *runState) isHalted() bool {
	return rs.halted.Load()
}

func (rs *runState) requestRestart() {
	rs.restartRequested.Store(true)
}

// restartPending reports whether a restart is pending without clearing
// it: every processing goroutine must observe the same signal until all of
// them have drained into ENDING.
func (rs *runState) restartPending() bool {
	return rs.restartRequested.Load()
}

// threadEnded records that one more processing goroutine has reached its
// terminal ENDING state, returning true exactly once: when the last of
// threads goroutines has ended, halting the whole worker.
func (rs *runState) threadEnded(threads int) (allEnded bool) {
	n := rs.threadsEnded.Add(1)
	return int(n) == threads
}
