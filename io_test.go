package wdcap

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastWriterRoundTripsThroughInterimReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interim.pcap")

	w := newFastWriter()
	require.NoError(t, w.open(path))

	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0).UTC(), CaptureLength: 4, Length: 4}
	require.NoError(t, w.append(ci, []byte{1, 2, 3, 4}))

	detached := w.reset()
	require.NotNil(t, detached)
	require.Equal(t, path, detached.path)
	require.NoError(t, detached.closer.Close())

	w.destroy()

	r, err := openInterimReader(path)
	require.NoError(t, err)

	data, gotCI, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	assert.Equal(t, int64(1700000000), gotCI.Timestamp.Unix())

	_, _, err = r.next()
	assert.Equal(t, io.EOF, err)

	require.NoError(t, r.closeAndRemove())
}

func TestFastWriterResetReturnsNilOnlyWhenNeverOpened(t *testing.T) {
	w := newFastWriter()
	require.NoError(t, w.open(filepath.Join(t.TempDir(), "empty.pcap")))
	detached := w.reset()
	require.NotNil(t, detached) // a header-only file was still created by open
	require.NoError(t, detached.closer.Close())
	w.destroy()

	// A reset on a writer that was never opened reports no file at all.
	w2 := newFastWriter()
	defer w2.destroy()
	assert.Nil(t, w2.reset())
}

func TestMergeWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.pcap")
	mw, err := openMergeWriter(path)
	require.NoError(t, err)

	ci := gopacket.CaptureInfo{Timestamp: time.Unix(42, 0).UTC(), CaptureLength: 2, Length: 2}
	require.NoError(t, mw.append(ci, []byte{9, 9}))
	require.NoError(t, mw.close())

	r, err := openInterimReader(path)
	require.NoError(t, err)
	data, gotCI, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, data)
	assert.Equal(t, int64(42), gotCI.Timestamp.Unix())
	require.NoError(t, r.closeAndRemove())
}

func TestStripVLANTagRemovesFourBytesAndShiftsEtherType(t *testing.T) {
	// dst(6) src(6) 0x8100 tag(2) inner-ethertype(2) payload
	frame := make([]byte, 18)
	for i := 0; i < 12; i++ {
		frame[i] = byte(i)
	}
	frame[12], frame[13] = 0x81, 0x00
	frame[14], frame[15] = 0x00, 0x01 // vlan id
	frame[16], frame[17] = 0x08, 0x00 // inner ethertype IPv4

	out := stripVLANTag(frame)
	require.Len(t, out, 14)
	assert.Equal(t, byte(0x08), out[12])
	assert.Equal(t, byte(0x00), out[13])
}

func TestStripVLANTagLeavesNonTaggedFrameUntouched(t *testing.T) {
	frame := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 0x08, 0x00, 1, 2}
	out := stripVLANTag(frame)
	assert.Equal(t, frame, out)
}
