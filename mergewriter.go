package wdcap

import (
	"fmt"
	"os"

	fallocate "github.com/detailyang/go-fallocate"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// mergeWriter is a synchronous trace file writer for the final merged
// output of one interval. Unlike fastWriter, it is only ever used by the
// merge goroutine, which is allowed to block on ordinary file I/O.
type mergeWriter struct {
	file *os.File
	cw   *countingWriter
	w    *pcapgo.Writer
	path string
}

func openMergeWriter(path string) (*mergeWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wdcap: creating merged output file %q: %w", path, err)
	}
	_ = fallocate.Fallocate(f, 0, preallocateBytes)

	cw := &countingWriter{w: f}
	w := pcapgo.NewWriter(cw)
	if err := w.WriteFileHeader(snapshotLength, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("wdcap: writing pcap header for %q: %w", path, err)
	}

	return &mergeWriter{file: f, cw: cw, w: w, path: path}, nil
}

func (mw *mergeWriter) append(ci gopacket.CaptureInfo, data []byte) error {
	if err := mw.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("wdcap: writing packet to %q: %w", mw.path, err)
	}
	return nil
}

func (mw *mergeWriter) close() error {
	// See fastWriter.loop's resetOp case: fallocate grows the file past
	// whatever was actually written, so truncate to the real extent before
	// closing or a reader would decode the zero-filled tail as bogus
	// packets.
	if err := mw.file.Truncate(mw.cw.n); err != nil {
		return fmt.Errorf("wdcap: truncating merged output file %q: %w", mw.path, err)
	}
	if err := mw.file.Close(); err != nil {
		return fmt.Errorf("wdcap: closing merged output file %q: %w", mw.path, err)
	}
	return nil
}
