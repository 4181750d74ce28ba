package wdcap

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	fallocate "github.com/detailyang/go-fallocate"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// preallocateBytes is how much disk space the fast writer asks the
// filesystem to reserve when it opens a new interim file. This is a
// best-effort hint sized for a few seconds of high-rate telescope traffic;
// failure to preallocate is silently ignored.
const preallocateBytes = 32 << 20

// snapshotLength is the snaplen recorded in every trace file header and
// passed to the live capture handle. It is the common 262144-byte maximum,
// so in practice packets are written at their full captured length; the
// writers in this package do not truncate packets to it.
const snapshotLength = 262144

// writerOp is the union of work items accepted by a fastWriter's
// background goroutine. Using a single ordered channel for both packet
// appends and control operations (open/reset/destroy) guarantees that a
// reset is only acted on once every append queued ahead of it for the
// current file has actually been issued to the OS.
type writerOp interface {
	isWriterOp()
}

type appendOp struct {
	ci   gopacket.CaptureInfo
	data []byte
}

type openOp struct {
	path   string
	result chan error
}

type resetOp struct {
	result chan *detachedFile
}

type destroyOp struct {
	result chan struct{}
}

func (appendOp) isWriterOp()  {}
func (openOp) isWriterOp()    {}
func (resetOp) isWriterOp()   {}
func (destroyOp) isWriterOp() {}

// writerErr boxes a possibly-nil error so it can be stored in an
// atomic.Value: storing a literal nil error interface directly panics
// ("store of nil value into Value"), since the first successful Store fixes
// the concrete type atomic.Value will accept from then on.
type writerErr struct{ err error }

// countingWriter tracks how many bytes have actually been written through
// it, so the file's real extent is known independent of however much the
// filesystem was asked to preallocate.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// fastWriter is a write-only handle to one trace file. append() merely
// enqueues a packet for a dedicated background goroutine to write; the
// goroutine is the only thing that ever calls into the OS for this file.
// open(), reset() and destroy() do wait for that goroutine: each returns
// only after every op queued ahead of it, including pending packet writes,
// has been carried out, together with its own file work (create,
// preallocate and header write for open; truncate for reset). reset()
// detaches the underlying file so a different goroutine (the merge
// goroutine) can close it, so close(2) itself never runs in the packet
// path, matching the deferred-close design.
type fastWriter struct {
	ops     chan writerOp
	lastErr atomic.Value // stores writerErr
}

// newFastWriter creates an unopened writer. Call open before append.
func newFastWriter() *fastWriter {
	w := &fastWriter{
		ops: make(chan writerOp, 4096),
	}
	go w.loop()
	return w
}

// open begins writing to a new file at path. The I/O is done by the
// background goroutine, but open waits until that goroutine has worked
// through its existing queue and has created the file, preallocated it and
// written the pcap header.
func (w *fastWriter) open(path string) error {
	result := make(chan error, 1)
	w.ops <- openOp{path: path, result: result}
	return <-result
}

// append enqueues a packet for asynchronous writing. It returns promptly;
// any failure surfaces on a later call (including this one, if a previous
// write already failed), never by blocking until the write completes.
func (w *fastWriter) append(ci gopacket.CaptureInfo, data []byte) error {
	if we, ok := w.lastErr.Load().(writerErr); ok && we.err != nil {
		return we.err
	}
	// Copy: the caller's packet buffer may be reused by the packet source
	// as soon as the callback returns.
	cp := make([]byte, len(data))
	copy(cp, data)
	w.ops <- appendOp{ci: ci, data: cp}
	return nil
}

// reset detaches the currently open file from this writer so that another
// goroutine can close it, and returns a handle describing that detachment.
// The writer itself is left ready to open() a new file for the next
// interval. reset never calls close(2): that is deferred to whoever
// consumes the returned detachedFile, per the deferred-close design.
func (w *fastWriter) reset() *detachedFile {
	result := make(chan *detachedFile, 1)
	w.ops <- resetOp{result: result}
	return <-result
}

// destroy stops the background goroutine and closes any file still open.
// Processing goroutines call it right after reset, on every rotation and in
// finalize; no file is open at that point, so nothing is closed there.
func (w *fastWriter) destroy() {
	result := make(chan struct{}, 1)
	w.ops <- destroyOp{result: result}
	<-result
}

func (w *fastWriter) loop() {
	var (
		file  *os.File
		cw    *countingWriter
		pcapW *pcapgo.Writer
		path  string
	)

	for op := range w.ops {
		switch o := op.(type) {
		case appendOp:
			if pcapW == nil {
				w.lastErr.Store(writerErr{err: fmt.Errorf("wdcap: append before open on interim writer")})
				continue
			}
			if err := pcapW.WritePacket(o.ci, o.data); err != nil {
				w.lastErr.Store(writerErr{err: fmt.Errorf("wdcap: writing packet to %q: %w", path, err)})
			}

		case openOp:
			f, err := os.Create(o.path)
			if err != nil {
				o.result <- fmt.Errorf("wdcap: creating interim file %q: %w", o.path, err)
				continue
			}
			_ = fallocate.Fallocate(f, 0, preallocateBytes) // best effort

			c := &countingWriter{w: f}
			pw := pcapgo.NewWriter(c)
			if err := pw.WriteFileHeader(snapshotLength, layers.LinkTypeEthernet); err != nil {
				f.Close()
				o.result <- fmt.Errorf("wdcap: writing pcap header for %q: %w", o.path, err)
				continue
			}

			file, cw, pcapW, path = f, c, pw, o.path
			w.lastErr.Store(writerErr{})
			o.result <- nil

		case resetOp:
			var df *detachedFile
			if file != nil {
				// Fallocate grows the file's apparent size beyond whatever
				// was actually written; truncate back to the real extent
				// before handing the descriptor off, so a pcapgo reader
				// stops at the last real record instead of decoding the
				// zero-filled reservation as further packets.
				_ = file.Truncate(cw.n)
				df = &detachedFile{path: path, closer: file}
			}
			file, cw, pcapW, path = nil, nil, nil, ""
			o.result <- df

		case destroyOp:
			if file != nil {
				_ = file.Truncate(cw.n)
				file.Close()
				file = nil
			}
			o.result <- struct{}{}
			return
		}
	}
}
