package wdcap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageChannelCapacityMatchesThreadCount(t *testing.T) {
	mc := newMessageChannel(4)
	assert.Equal(t, 4*4+4, cap(mc.ch))
}

func TestMessageChannelTrySendNeverBlocksWhenFull(t *testing.T) {
	mc := newMessageChannel(1) // capacity 8
	for i := 0; i < cap(mc.ch); i++ {
		ok := mc.trySend(message{kind: msgIntervalDone, senderThreadID: 0})
		assert.True(t, ok)
	}
	// One more send must fail immediately rather than block, since this is
	// the only goroutine and a blocking send here would deadlock the test.
	ok := mc.trySend(message{kind: msgIntervalDone, senderThreadID: 0})
	assert.False(t, ok)
}

func TestMessageChannelReceiveInOrder(t *testing.T) {
	mc := newMessageChannel(2)
	mc.trySend(message{sequenceNo: 1})
	mc.trySend(message{sequenceNo: 2})
	assert.Equal(t, uint64(1), mc.receive().sequenceNo)
	assert.Equal(t, uint64(2), mc.receive().sequenceNo)
}

func TestAddValidSkipsUnsetFields(t *testing.T) {
	agg := unsetStats()

	first := unsetStats()
	first.Accepted = 10
	addValid(&agg, first)

	second := unsetStats()
	second.Accepted, second.Missing = 5, 3
	addValid(&agg, second)

	assert.Equal(t, int64(15), agg.Accepted)
	assert.Equal(t, int64(3), agg.Missing)
	assert.Equal(t, int64(-1), agg.Filtered)
}

func TestRunStateThreadEndedReportsOnlyOnLast(t *testing.T) {
	rs := newRunState()
	assert.False(t, rs.threadEnded(3))
	assert.False(t, rs.threadEnded(3))
	assert.True(t, rs.threadEnded(3))
}

func TestRunStateFlags(t *testing.T) {
	rs := newRunState()
	assert.False(t, rs.isHalted())
	assert.False(t, rs.restartPending())

	rs.requestRestart()
	rs.setHalted()

	assert.True(t, rs.isHalted())
	assert.True(t, rs.restartPending())
}

func TestThreadStateLifecycle(t *testing.T) {
	ts := newThreadState()
	assert.Equal(t, stageUnstarted, ts.stage)

	ts.beginFirstInterval(125, 60)
	assert.Equal(t, stageActive, ts.stage)
	assert.Equal(t, uint32(125), ts.currentIntervalStart)
	assert.Equal(t, uint32(180), ts.nextReport)

	ts.rotate(60)
	assert.Equal(t, uint32(180), ts.currentIntervalStart)
	assert.Equal(t, uint32(240), ts.nextReport)
	assert.Equal(t, uint64(1), ts.intervalNumber)

	ts.markEnding()
	assert.Equal(t, stageEnding, ts.stage)
	assert.True(t, ts.ending)
}
