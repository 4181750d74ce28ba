package wdcap

import (
	"container/list"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/gopacket"
)

// maxBadMessages is the number of malformed or out-of-protocol messages the
// merge goroutine tolerates on its channel before giving up and reporting a
// fatal error, rather than looping forever on a producer that keeps
// emitting garbage.
const maxBadMessages = 100

// pendingInterval accumulates INTERVAL_DONE reports for one wall-clock
// interval until every processing thread has reported in, at which point
// the merge goroutine merges it and discards the entry. The merge
// goroutine is this list's only owner: no locking is needed.
type pendingInterval struct {
	intervalStart uint32
	threadsDone   int
	files         map[int]*detachedFile
	stats         map[int]SourceStats
	statsValid    bool
}

func newPendingInterval(intervalStart uint32) *pendingInterval {
	return &pendingInterval{
		intervalStart: intervalStart,
		files:         make(map[int]*detachedFile),
		stats:         make(map[int]SourceStats),
	}
}

// mergeWorker consumes control messages from every processing thread and
// produces exactly one chronologically-ordered output file per completed
// interval, by k-way merging that interval's per-thread interim files.
type mergeWorker struct {
	cfg     *Config
	mc      *messageChannel
	threads int
	logger  *log.Logger

	pending     *list.List // of *pendingInterval, ordered by intervalStart ascending
	badMessages int
}

func newMergeWorker(cfg *Config, mc *messageChannel, logger *log.Logger) *mergeWorker {
	return &mergeWorker{
		cfg:     cfg,
		mc:      mc,
		threads: cfg.Threads,
		logger:  logger.With("component", "merge"),
		pending: list.New(),
	}
}

// run processes messages until it sees STOP, then returns. It is the only
// goroutine that ever touches pending, interimReader, or mergeWriter.
func (mw *mergeWorker) run() error {
	for {
		msg := mw.mc.receive()
		switch msg.kind {
		case msgStop:
			return mw.drainRemaining()
		case msgIntervalDone:
			if err := mw.handleIntervalDone(msg); err != nil {
				return err
			}
		default:
			if mw.countBad() {
				return ErrTooManyMalformedMessages
			}
		}
	}
}

// drainRemaining merges whatever pending intervals sit in the list at
// shutdown time, oldest first, even if one never fully completed, so that
// no interim data captured before a clean STOP is silently lost.
func (mw *mergeWorker) drainRemaining() error {
	for e := mw.pending.Front(); e != nil; e = mw.pending.Front() {
		pi := e.Value.(*pendingInterval)
		if err := mw.mergeInterval(pi); err != nil {
			mw.logger.Error("merging interval during shutdown", "interval", pi.intervalStart, "err", err)
		}
		mw.pending.Remove(e)
	}
	return nil
}

func (mw *mergeWorker) countBad() (fatal bool) {
	mw.badMessages++
	return mw.badMessages >= maxBadMessages
}

func (mw *mergeWorker) handleIntervalDone(msg message) error {
	if msg.senderThreadID < 0 || msg.senderThreadID >= mw.threads {
		return boolToErr(mw.countBad())
	}

	pi := mw.findOrCreate(msg.intervalStart)
	if _, seen := pi.files[msg.senderThreadID]; seen {
		// A thread reported the same interval twice; count it as malformed
		// but keep the later report so merging can still proceed.
		if mw.countBad() {
			return ErrTooManyMalformedMessages
		}
	}
	pi.files[msg.senderThreadID] = msg.detachedFile
	if msg.statsValid {
		pi.stats[msg.senderThreadID] = msg.stats
		pi.statsValid = true
	}
	pi.threadsDone++

	if front := mw.pending.Front(); front != nil && front.Value.(*pendingInterval) != pi && pi.threadsDone == mw.threads {
		mw.logger.Warn("interval finished out of order, waiting for earlier intervals", "interval", pi.intervalStart)
	}

	return mw.mergeReadyHead()
}

func boolToErr(fatal bool) error {
	if fatal {
		return ErrTooManyMalformedMessages
	}
	return nil
}

// findOrCreate returns the pendingInterval for intervalStart, inserting it
// in sorted position if this is the first report seen for it.
func (mw *mergeWorker) findOrCreate(intervalStart uint32) *pendingInterval {
	for e := mw.pending.Front(); e != nil; e = e.Next() {
		pi := e.Value.(*pendingInterval)
		if pi.intervalStart == intervalStart {
			return pi
		}
		if pi.intervalStart > intervalStart {
			pi2 := newPendingInterval(intervalStart)
			mw.pending.InsertBefore(pi2, e)
			return pi2
		}
	}
	pi := newPendingInterval(intervalStart)
	mw.pending.PushBack(pi)
	return pi
}

// mergeReadyHead merges and removes the front of the pending list for as
// long as it has every thread's report. A later interval that finishes all
// its reports first is left in place until its predecessors have drained,
// so output files are always produced in interval order.
func (mw *mergeWorker) mergeReadyHead() error {
	for {
		front := mw.pending.Front()
		if front == nil {
			return nil
		}
		pi := front.Value.(*pendingInterval)
		if pi.threadsDone < mw.threads {
			return nil
		}
		if err := mw.mergeInterval(pi); err != nil {
			return err
		}
		mw.pending.Remove(front)
	}
}

// mergeInterval performs the k-way merge of one interval's interim files
// into a single chronologically-ordered output file, then removes the
// interim files and writes the completion sentinel (and, if enabled, the
// statistics file).
func (mw *mergeWorker) mergeInterval(pi *pendingInterval) error {
	start := time.Now()

	readers := make(map[int]*interimReader)
	for threadID, df := range pi.files {
		if df == nil {
			mw.logger.Warn("merging interval", "thread", threadID, "err", ErrNoInterimData)
			continue
		}
		if err := df.closer.Close(); err != nil {
			mw.logger.Error("closing detached interim file handle", "path", df.path, "err", err)
		}
		r, err := openInterimReader(df.path)
		if err != nil {
			mw.logger.Error("opening interim file for merge", "path", df.path, "err", err)
			continue
		}
		readers[threadID] = r
	}

	outPath, err := renderFilename(mw.cfg, pi.intervalStart, -1, true, extNone)
	if err != nil {
		return err
	}
	out, err := openMergeWriter(stripFormatPrefix(outPath))
	if err != nil {
		return err
	}

	slots := newMergeSlots(readers)
	for {
		ci, data, ok, err := slots.next()
		if err != nil {
			mw.logger.Error("reading interim packet during merge", "err", err)
			continue
		}
		if !ok {
			break
		}
		if err := out.append(ci, data); err != nil {
			out.close()
			return err
		}
	}

	if err := out.close(); err != nil {
		return err
	}

	for threadID, r := range readers {
		if err := r.closeAndRemove(); err != nil {
			mw.logger.Error("removing interim file after merge", "thread", threadID, "err", err)
		}
	}

	if err := mw.writeSentinel(pi.intervalStart); err != nil {
		mw.logger.Error("writing completion sentinel", "interval", pi.intervalStart, "err", err)
	}

	if mw.cfg.WriteStats && pi.statsValid {
		if err := mw.writeStatsFile(pi, time.Since(start)); err != nil {
			mw.logger.Error("writing stats file", "interval", pi.intervalStart, "err", err)
		}
	}

	return nil
}

func (mw *mergeWorker) writeSentinel(intervalStart uint32) error {
	path, err := renderFilename(mw.cfg, intervalStart, -1, false, extDone)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wdcap: creating completion sentinel %q: %w", path, err)
	}
	return f.Close()
}

// slotState is one interim reader's lookahead buffer for the k-way merge:
// the Go expression of the original's per-input NO_PACKET/HAS_PACKET/EOF
// states, refilled lazily one packet at a time.
type slotState struct {
	reader *interimReader
	have   bool
	done   bool
	data   []byte
	ci     gopacket.CaptureInfo
}

// mergeSlots drives the k-way merge across every reader for one interval,
// always choosing the earliest timestamp currently buffered and, on ties,
// the lowest thread id, matching choose_next_merge_packet's tie-break rule.
type mergeSlots struct {
	order []int
	byID  map[int]*slotState
}

func newMergeSlots(readers map[int]*interimReader) *mergeSlots {
	ms := &mergeSlots{byID: make(map[int]*slotState, len(readers))}
	for threadID, r := range readers {
		ms.order = append(ms.order, threadID)
		ms.byID[threadID] = &slotState{reader: r}
	}
	for i := 1; i < len(ms.order); i++ {
		for j := i; j > 0 && ms.order[j] < ms.order[j-1]; j-- {
			ms.order[j], ms.order[j-1] = ms.order[j-1], ms.order[j]
		}
	}
	return ms
}

// next fills every slot's lookahead as needed, then returns the packet with
// the earliest timestamp. ok is false once every reader has reached EOF.
func (ms *mergeSlots) next() (ci gopacket.CaptureInfo, data []byte, ok bool, err error) {
	for _, id := range ms.order {
		s := ms.byID[id]
		if s.done || s.have {
			continue
		}
		d, gci, rerr := s.reader.next()
		if rerr != nil {
			if rerr != io.EOF {
				err = fmt.Errorf("wdcap: thread %d interim read: %w", id, rerr)
			}
			s.done = true
			continue
		}
		s.have = true
		s.data = d
		s.ci = gci
	}
	if err != nil {
		return gopacket.CaptureInfo{}, nil, false, err
	}

	best := -1
	for _, id := range ms.order {
		s := ms.byID[id]
		if !s.have {
			continue
		}
		if best < 0 || s.ci.Timestamp.Before(ms.byID[best].ci.Timestamp) {
			best = id
		}
	}
	if best < 0 {
		return gopacket.CaptureInfo{}, nil, false, nil
	}

	s := ms.byID[best]
	ci, data = s.ci, s.data
	s.have = false
	s.data = nil
	return ci, data, true, nil
}
