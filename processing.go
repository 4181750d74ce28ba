package wdcap

import (
	"encoding/binary"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/gopacket"
)

// etherTypeVLAN and etherTypeOffset describe the 802.1Q tag this package
// knows how to strip: a four byte tag immediately after the two six-byte
// MAC addresses, with ethertype 0x8100.
const (
	etherTypeOffset = 12
	vlanTagLength   = 4
	etherTypeVLAN   = 0x8100
)

// processingWorker runs one processing thread: it drives a PacketSource for
// a single thread index, writes accepted packets to a rotating interim
// file, and reports finished intervals to the merge goroutine over a
// messageChannel. All file I/O is delegated to a fastWriter's background
// goroutine; this goroutine waits on it only when it opens an interim file
// and when it detaches and destroys one at a rotation.
type processingWorker struct {
	cfg      *Config
	threadID int
	source   PacketSource
	mc       *messageChannel
	rs       *runState
	logger   *log.Logger

	state *threadState
	seq   uint64
}

func newProcessingWorker(cfg *Config, threadID int, source PacketSource, mc *messageChannel, rs *runState, logger *log.Logger) *processingWorker {
	return &processingWorker{
		cfg:      cfg,
		threadID: threadID,
		source:   source,
		mc:       mc,
		rs:       rs,
		logger:   logger.With("thread", threadID),
		state:    newThreadState(),
	}
}

// run drives this thread's share of the packet source until it stops or is
// exhausted, then finalizes whatever interval was still open.
func (pw *processingWorker) run() error {
	err := pw.source.Run(pw.threadID, pw.perPacket, pw.tick)
	if err != nil {
		pw.logger.Error("packet source run loop ended with error", "err", err)
	}
	pw.finalize()
	return err
}

// perPacket is the per-packet callback, grounded on the original
// per_packet()/process_tick() pairing: every packet first checks whether
// the thread has already begun shutting down, then aligns the first
// interval boundary against the first packet timestamp observed on the
// whole input, then rotates the interim file across every interval
// boundary the packet's timestamp has crossed, or once when a restart has
// been requested (that rotation moves the thread to ENDING, and the packet
// is not written). The interim file itself is
// opened lazily, on demand, right before this packet is actually written:
// a thread whose current interval has not yet seen a packet has no writer
// and must not create one just to immediately detach it empty.
func (pw *processingWorker) perPacket(ci gopacket.CaptureInfo, data []byte) error {
	if pw.state.stage == stageEnding {
		return nil
	}

	if pw.state.stage == stageUnstarted {
		firstTS, err := pw.source.FirstPacketTimestamp()
		if err != nil {
			return fmt.Errorf("wdcap: thread %d: determining first packet timestamp: %w", pw.threadID, err)
		}
		pw.state.beginFirstInterval(firstTS, pw.cfg.Interval)
	}

	ts := uint32(ci.Timestamp.Unix())
	for ts >= pw.state.nextReport || pw.rs.restartPending() {
		if err := pw.rotate(); err != nil {
			return err
		}
		if pw.state.stage == stageEnding {
			return nil
		}
	}

	if pw.cfg.StripVLANs {
		data = stripVLANTag(data)
		ci.CaptureLength = len(data)
	}

	if pw.state.writer == nil {
		if err := pw.openInterimFile(); err != nil {
			return err
		}
	}

	return pw.state.writer.append(ci, data)
}

// tick samples cumulative source statistics roughly once a second,
// independent of packet arrival, matching process_tick's role of noticing
// dropped-packet counts climbing even during a lull in traffic.
func (pw *processingWorker) tick() {
	if pw.rs.isHalted() && pw.state.stage != stageEnding {
		pw.state.markEnding()
	}

	stats := pw.source.Stats(pw.threadID)
	if stats.Missing > pw.state.lastMissing {
		pw.logger.Warn("packets missing since last tick", "missing_delta", stats.Missing-pw.state.lastMissing)
	}
	pw.state.lastMissing = stats.Missing
	pw.state.lastSeenStats = stats
}

// rotate closes out the current interval's interim file, if this thread
// ever wrote one, hands the detached file descriptor to the merge
// goroutine (nil if it never saw a packet this interval, matching the
// original's src_fd = -1), and advances to the next interval. The next
// interval's interim file is not opened here: it is opened lazily, on
// demand, by perPacket the first time a packet actually needs writing.
func (pw *processingWorker) rotate() error {
	var detached *detachedFile
	if pw.state.writer != nil {
		detached = pw.state.writer.reset()
		pw.state.writer.destroy()
		pw.state.writer = nil
	}

	msg := message{
		kind:           msgIntervalDone,
		senderThreadID: pw.threadID,
		intervalStart:  pw.state.currentIntervalStart,
		detachedFile:   detached,
		stats:          pw.state.lastSeenStats,
		statsValid:     pw.cfg.WriteStats,
		sequenceNo:     pw.nextSeq(),
	}
	if !pw.mc.trySend(msg) {
		return ErrChannelFull
	}

	pw.state.rotate(pw.cfg.Interval)

	if pw.rs.isHalted() || pw.rs.restartPending() {
		pw.state.markEnding()
	}
	return nil
}

// finalize runs once when the packet source's Run loop for this thread
// returns: it flushes whatever interval was open, reports it exactly like
// any other rotation, and tells the shared run state this thread is done.
func (pw *processingWorker) finalize() {
	if pw.state.writer != nil {
		detached := pw.state.writer.reset()
		msg := message{
			kind:           msgIntervalDone,
			senderThreadID: pw.threadID,
			intervalStart:  pw.state.currentIntervalStart,
			detachedFile:   detached,
			stats:          pw.state.lastSeenStats,
			statsValid:     pw.cfg.WriteStats,
			sequenceNo:     pw.nextSeq(),
		}
		if detached != nil && !pw.mc.trySend(msg) {
			pw.logger.Error("failed to report final interval, message channel full")
		}
		pw.state.writer.destroy()
	}
	pw.state.markEnding()
	if allEnded := pw.rs.threadEnded(pw.cfg.Threads); allEnded {
		pw.rs.setHalted()
	}
}

func (pw *processingWorker) openInterimFile() error {
	path, err := renderFilename(pw.cfg, pw.state.currentIntervalStart, pw.threadID, true, extNone)
	if err != nil {
		return err
	}
	pw.state.interimPath = path
	pw.state.writer = newFastWriter()
	return pw.state.writer.open(stripFormatPrefix(path))
}

func (pw *processingWorker) nextSeq() uint64 {
	pw.seq++
	return pw.seq
}

// stripVLANTag removes one 802.1Q tag from an Ethernet frame, if present,
// shifting the ethertype field down and truncating the four now-unused
// bytes. Frames without a VLAN tag, or too short to safely inspect, are
// returned unmodified.
func stripVLANTag(data []byte) []byte {
	if len(data) < etherTypeOffset+vlanTagLength+2 {
		return data
	}
	if binary.BigEndian.Uint16(data[etherTypeOffset:etherTypeOffset+2]) != etherTypeVLAN {
		return data
	}

	out := make([]byte, len(data)-vlanTagLength)
	copy(out[:etherTypeOffset], data[:etherTypeOffset])
	copy(out[etherTypeOffset:], data[etherTypeOffset+vlanTagLength:])
	return out
}
