package wdcap

import "os"

// messageType distinguishes the two kinds of control message that flow
// from processing threads (and the main goroutine) to the merge goroutine.
type messageType int

const (
	msgIntervalDone messageType = iota
	msgStop
)

// mainThreadSender is the sender_thread_id used for the STOP message sent
// by the main goroutine during shutdown; it is outside the range of valid
// processing-thread indices [0, T).
const mainThreadSender = -1

// SourceStats is a cumulative per-thread packet-source counters snapshot.
// A value of -1 in any field means the source did not populate that
// counter, matching the stats file schema in the external interfaces
// section.
type SourceStats struct {
	Accepted int64
	Filtered int64
	Received int64
	Dropped  int64
	Captured int64
	Missing  int64
	Errors   int64
}

// unsetStats is the zero value to use when statistics are disabled or not
// yet available: every field reports "not populated".
func unsetStats() SourceStats {
	return SourceStats{
		Accepted: -1, Filtered: -1, Received: -1,
		Dropped: -1, Captured: -1, Missing: -1, Errors: -1,
	}
}

// addValid adds from into to, field by field, treating -1 as "not valid"
// and skipping it rather than corrupting the sum. A field becomes valid in
// to as soon as any contributing from has it valid.
func addValid(to *SourceStats, from SourceStats) {
	addField(&to.Accepted, from.Accepted)
	addField(&to.Filtered, from.Filtered)
	addField(&to.Received, from.Received)
	addField(&to.Dropped, from.Dropped)
	addField(&to.Captured, from.Captured)
	addField(&to.Missing, from.Missing)
	addField(&to.Errors, from.Errors)
}

func addField(to *int64, from int64) {
	if from < 0 {
		return
	}
	if *to < 0 {
		*to = 0
	}
	*to += from
}

// message is the fixed-shape control message carried over the message
// channel between processing goroutines and the merge goroutine. It is
// the Go analogue of the fixed-size wire message in the original design:
// a plain struct value rather than framed bytes, since the channel
// transport needs no wire format of its own.
type message struct {
	kind           messageType
	senderThreadID int
	intervalStart  uint32
	detachedFile   *detachedFile // nil means "no file descriptor"
	stats          SourceStats
	statsValid     bool
	sequenceNo     uint64
}

// detachedFile carries a file handle whose close has been deferred from a
// processing goroutine to the merge goroutine, because close can block on
// outstanding asynchronous writes and processing goroutines must never
// block on I/O.
type detachedFile struct {
	path   string
	closer *os.File
}

// messageChannel is a multi-producer, single-consumer queue of fixed-shape
// control messages. It is sized so that, in practice, a processing
// goroutine's send never blocks on the merge goroutine's consumption rate:
// a full channel is treated as the fatal "channel send" failure from the
// error handling design rather than silently blocking, because blocking in
// the packet path risks dropped frames.
type messageChannel struct {
	ch chan message
}

// newMessageChannel constructs a channel sized for T processing threads.
// The returned channel must be fully constructed (and its consumer bound)
// before any producer is created, matching the channel setup rule.
func newMessageChannel(threads int) *messageChannel {
	capacity := 4*threads + 4
	return &messageChannel{ch: make(chan message, capacity)}
}

// trySend attempts a non-blocking enqueue. ok is false if the channel was
// full; the caller must treat that as fatal and not retry.
func (mc *messageChannel) trySend(m message) (ok bool) {
	select {
	case mc.ch <- m:
		return true
	default:
		return false
	}
}

// receive blocks until a message is available.
func (mc *messageChannel) receive() message {
	return <-mc.ch
}
