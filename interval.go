package wdcap

// intervalStage is the per-processing-thread interval state machine stage:
// UNSTARTED -> ACTIVE(k) for k >= 0 -> ENDING (terminal). No other
// transitions are legal.
type intervalStage int

const (
	stageUnstarted intervalStage = iota
	stageActive
	stageEnding
)

// threadState is the per-processing-thread interval state. It is owned
// exclusively by its processing goroutine; nothing else may read or write
// it.
type threadState struct {
	stage intervalStage

	// currentIntervalStart is 0 until the first packet is observed.
	currentIntervalStart uint32

	// nextReport is the unix-seconds boundary at which the current
	// interval ends. For the first interval it is the first multiple of I
	// above the first packet timestamp; after every rotation it is
	// currentIntervalStart + I.
	nextReport uint32

	// intervalNumber is a monotone counter starting at 0.
	intervalNumber uint64

	// interimPath is the path of the currently open interim file, empty
	// if none is open for the current interval.
	interimPath string

	writer *fastWriter

	// ending is set once this thread has drained its final interval
	// after a restart request.
	ending bool

	lastSeenStats SourceStats
	lastMissing   int64
}

func newThreadState() *threadState {
	return &threadState{
		stage:         stageUnstarted,
		lastSeenStats: unsetStats(),
	}
}

// beginFirstInterval transitions UNSTARTED -> ACTIVE(0) using firstTS, the
// timestamp of the first packet observed by any thread on this input (a
// value the packet source guarantees is stable and globally consistent).
// currentIntervalStart is set to firstTS itself, unaligned: the first
// interval's label is the raw first-packet timestamp, matching
// tls->current_interval.time = firsttv->tv_sec in the original. Only
// nextReport, the boundary at which this first interval ends, is aligned
// to a multiple of interval.
func (ts *threadState) beginFirstInterval(firstTS uint32, interval uint32) {
	ts.currentIntervalStart = firstTS
	ts.nextReport = firstTS - (firstTS % interval) + interval
	ts.stage = stageActive
}

// rotate advances to the next interval, matching ACTIVE(k) -> ACTIVE(k+1).
func (ts *threadState) rotate(interval uint32) {
	ts.currentIntervalStart = ts.nextReport
	ts.nextReport += interval
	ts.intervalNumber++
}

// markEnding transitions ACTIVE(k) -> ENDING. Terminal: no further
// transitions are legal afterwards.
func (ts *threadState) markEnding() {
	ts.stage = stageEnding
	ts.ending = true
}
