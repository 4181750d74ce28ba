package wdcap

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a minimal PacketSource stub that only needs to answer
// FirstPacketTimestamp: the rest of processingWorker's behaviour is driven
// directly, by calling perPacket/tick/finalize by hand, so these tests can
// assert on rotation and alignment without racing a real background reader.
type fakeSource struct {
	threads int
	firstTS uint32
	stats   SourceStats
}

func (s *fakeSource) Threads() int                                { return s.threads }
func (s *fakeSource) FirstPacketTimestamp() (uint32, error)       { return s.firstTS, nil }
func (s *fakeSource) Run(int, PacketCallback, TickCallback) error { return nil }
func (s *fakeSource) Stats(int) SourceStats                       { return s.stats }
func (s *fakeSource) Stop()                                       {}
func (s *fakeSource) Close() error                                { return nil }

func ci(tsSec int64) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{Timestamp: time.Unix(tsSec, 0), CaptureLength: 14, Length: 14}
}

func newTestProcessingWorker(t *testing.T, threadID int, threads int, interval uint32, firstTS uint32, mc *messageChannel, rs *runState) *processingWorker {
	t.Helper()
	cfg := testConfig()
	cfg.Threads = threads
	cfg.Interval = interval
	cfg.Template = filepath.Join(t.TempDir(), "%P-%s")
	src := &fakeSource{threads: threads, firstTS: firstTS, stats: unsetStats()}
	return newProcessingWorker(cfg, threadID, src, mc, rs, noopLogger())
}

// Scenario 2 (skewed first packets) and property 6 (all processing threads
// agree on current_interval_start of their first active interval, equal to
// the earliest packet timestamp observed on the input): I=10, thread 0's
// first packet arrives at t=95, thread 1's at t=103; both must align on
// current_interval_start=95, next_report=100, because FirstPacketTimestamp
// reports the earliest timestamp on the whole input, not this thread's own
// first packet.
func TestPerPacketSkewedFirstPacketsAlignOnEarliestTimestamp(t *testing.T) {
	mc := newMessageChannel(2)
	rs := newRunState()

	pw0 := newTestProcessingWorker(t, 0, 2, 10, 95, mc, rs)
	pw1 := newTestProcessingWorker(t, 1, 2, 10, 95, mc, rs)

	require.NoError(t, pw0.perPacket(ci(95), make([]byte, 14)))
	assert.Equal(t, uint32(95), pw0.state.currentIntervalStart)
	assert.Equal(t, uint32(100), pw0.state.nextReport)

	// Thread 1's first packet (t=103) is past next_report=100, so by the
	// time perPacket returns it has already rotated synchronously through
	// the empty interval [95,100) and landed in [100,110).
	require.NoError(t, pw1.perPacket(ci(103), make([]byte, 14)))
	// through the empty interval [95,100) before writing its packet into
	// [100,110).
	msg := mc.receive()
	assert.Equal(t, uint32(95), msg.intervalStart)
	assert.Nil(t, msg.detachedFile)
	assert.Equal(t, uint32(100), pw1.state.currentIntervalStart)
	assert.Equal(t, uint32(110), pw1.state.nextReport)
}

// Property 7: next_report = current_interval_start + I after initialisation
// and after every rotation, exercised across several rotations driven by
// perPacket rather than by calling threadState methods directly. The first
// packet here lands exactly on an interval boundary (t=100, I=10) so the
// property holds from initialisation on; the skewed, not-yet-aligned first
// packet case is covered separately by
// TestPerPacketSkewedFirstPacketsAlignOnEarliestTimestamp, where next_report
// is the floor-aligned boundary rather than current_interval_start + I.
func TestPerPacketNextReportTracksIntervalAfterEachRotation(t *testing.T) {
	mc := newMessageChannel(1)
	rs := newRunState()
	pw := newTestProcessingWorker(t, 0, 1, 10, 100, mc, rs)

	require.NoError(t, pw.perPacket(ci(100), make([]byte, 14)))
	assert.Equal(t, pw.state.currentIntervalStart+10, pw.state.nextReport)

	require.NoError(t, pw.perPacket(ci(125), make([]byte, 14)))
	assert.Equal(t, pw.state.currentIntervalStart+10, pw.state.nextReport)
	assert.Equal(t, uint32(120), pw.state.currentIntervalStart)
}

// Scenario 6 (rotation on boundary): a packet at exactly t=next_report
// triggers rotation first, then is written into the new interval, not the
// one that just closed.
func TestPerPacketBoundaryPacketRotatesBeforeWriting(t *testing.T) {
	mc := newMessageChannel(1)
	rs := newRunState()
	pw := newTestProcessingWorker(t, 0, 1, 10, 100, mc, rs)

	require.NoError(t, pw.perPacket(ci(100), make([]byte, 14)))
	assert.Equal(t, uint32(100), pw.state.currentIntervalStart)
	assert.Equal(t, uint32(110), pw.state.nextReport)
	require.NotNil(t, pw.state.writer)

	require.NoError(t, pw.perPacket(ci(110), make([]byte, 14)))

	msg := mc.receive()
	assert.Equal(t, uint32(100), msg.intervalStart)
	require.NotNil(t, msg.detachedFile)
	msg.detachedFile.closer.Close()

	assert.Equal(t, uint32(110), pw.state.currentIntervalStart)
	assert.Equal(t, uint32(120), pw.state.nextReport)
	require.NotNil(t, pw.state.writer)
}

// Boundary behaviour: a thread that never saw a packet for an interval must
// not produce an interim file for it, i.e. rotate() must report a nil
// detachedFile for every interval crossed without a write, matching the
// original's src_fd = -1. This also covers the lazy-open fix: multiple
// interim-less intervals can be crossed in a single perPacket call without
// ever calling openInterimFile for them.
func TestPerPacketEmptyIntervalsProduceNilDetachedFile(t *testing.T) {
	mc := newMessageChannel(1)
	rs := newRunState()
	pw := newTestProcessingWorker(t, 0, 1, 10, 95, mc, rs)

	require.NoError(t, pw.perPacket(ci(95), make([]byte, 14))) // no message yet; 95 does not cross next_report=100

	// Next packet lands far later, crossing several empty intervals:
	// [100,110) and [110,120) see no packets at all.
	require.NoError(t, pw.perPacket(ci(125), make([]byte, 14)))

	m1 := mc.receive()
	assert.Equal(t, uint32(95), m1.intervalStart)
	require.NotNil(t, m1.detachedFile) // thread wrote one packet at t=95
	m1.detachedFile.closer.Close()

	m2 := mc.receive()
	assert.Equal(t, uint32(100), m2.intervalStart)
	assert.Nil(t, m2.detachedFile)

	m3 := mc.receive()
	assert.Equal(t, uint32(110), m3.intervalStart)
	assert.Nil(t, m3.detachedFile)

	assert.Equal(t, uint32(120), pw.state.currentIntervalStart)
	require.NotNil(t, pw.state.writer) // t=125 packet was written into [120,130)
}

// Scenario 5 / property 8: on a restart request (the SIGHUP path, modelled
// here via runState directly rather than an actual signal), a processing
// thread finishes the interval it is in, reports it, and transitions to
// ENDING exactly once.
func TestRotateEntersEndingExactlyOnceOnRestartRequest(t *testing.T) {
	mc := newMessageChannel(1)
	rs := newRunState()
	pw := newTestProcessingWorker(t, 0, 1, 60, 120, mc, rs)

	require.NoError(t, pw.perPacket(ci(125), make([]byte, 14)))
	assert.Equal(t, stageActive, pw.state.stage)

	rs.requestRestart()

	require.NoError(t, pw.rotate())
	msg := mc.receive()
	assert.Equal(t, uint32(120), msg.intervalStart)
	require.NotNil(t, msg.detachedFile)
	msg.detachedFile.closer.Close()

	assert.Equal(t, stageEnding, pw.state.stage)
	assert.True(t, pw.state.ending)

	// A further call must not flip it again or emit anything further: the
	// top of perPacket is a no-op once ENDING, so the transition happened
	// exactly once.
	require.NoError(t, pw.perPacket(ci(500), make([]byte, 14)))
	assert.Equal(t, stageEnding, pw.state.stage)
}

// Property 8, worker-exit half: once every processing thread has reported
// ended, runState must become halted so the main goroutine's poll loop
// stops, and finalize must not attach a file descriptor for a thread that
// never wrote a packet in its final, partial interval.
func TestFinalizeEndsThreadAndHaltsOnLastOne(t *testing.T) {
	mc := newMessageChannel(2)
	rs := newRunState()
	pw0 := newTestProcessingWorker(t, 0, 2, 60, 120, mc, rs)
	pw1 := newTestProcessingWorker(t, 1, 2, 60, 120, mc, rs)

	// pw0 never receives a packet before finalize: no interim file, no
	// message.
	pw0.finalize()
	assert.Equal(t, stageEnding, pw0.state.stage)
	assert.False(t, rs.isHalted())

	require.NoError(t, pw1.perPacket(ci(125), make([]byte, 14)))
	pw1.finalize()
	assert.Equal(t, stageEnding, pw1.state.stage)
	assert.True(t, rs.isHalted())

	msg := mc.receive()
	assert.Equal(t, 1, msg.senderThreadID)
	require.NotNil(t, msg.detachedFile)
	msg.detachedFile.closer.Close()
}

// tick observes a halt request (the path a real SIGHUP/SIGINT reaches
// through runState.setHalted, exercised here without going through the
// worker's signal handler) and transitions the thread to ENDING immediately,
// without waiting for the next interval boundary.
func TestTickEntersEndingOnHalt(t *testing.T) {
	mc := newMessageChannel(1)
	rs := newRunState()
	pw := newTestProcessingWorker(t, 0, 1, 60, 120, mc, rs)
	require.NoError(t, pw.perPacket(ci(125), make([]byte, 14)))

	rs.setHalted()
	pw.tick()
	assert.Equal(t, stageEnding, pw.state.stage)

	// Calling tick again must be a harmless no-op: ENDING is terminal.
	pw.tick()
	assert.Equal(t, stageEnding, pw.state.stage)
}
