package wdcap

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// interimReader is a sequential packet iterator over one finished interim
// file. It is used only by the merge goroutine, which may block freely on
// synchronous I/O.
type interimReader struct {
	uri  string
	file *os.File
	r    *pcapgo.Reader
}

// openInterimReader opens the interim file for (thread, interval). uri may
// carry a "<format>:" prefix (as produced by renderFilename with
// needFormatPrefix=true); that prefix is stripped before the filesystem
// path is used, and preserved for error messages.
func openInterimReader(uri string) (*interimReader, error) {
	path := stripFormatPrefix(uri)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wdcap: opening interim file %q: %w", uri, err)
	}

	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wdcap: reading pcap header from %q: %w", uri, err)
	}

	return &interimReader{uri: uri, file: f, r: r}, nil
}

// next returns the next packet's data and capture metadata, or io.EOF once
// the interim file is exhausted.
func (ir *interimReader) next() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := ir.r.ReadPacketData()
	if err != nil {
		return nil, gopacket.CaptureInfo{}, err
	}
	return data, ci, nil
}

// closeAndRemove closes the backing file and deletes the interim file from
// disk. Errors are returned so the caller can log them; per the error
// handling design, an unlink failure here is non-fatal.
func (ir *interimReader) closeAndRemove() error {
	cerr := ir.file.Close()
	rerr := os.Remove(stripFormatPrefix(ir.uri))
	if cerr != nil {
		return fmt.Errorf("wdcap: closing interim file %q: %w", ir.uri, cerr)
	}
	if rerr != nil {
		return fmt.Errorf("wdcap: removing interim file %q: %w", ir.uri, rerr)
	}
	return nil
}

// stripFormatPrefix removes a leading "<format>:" prefix from a trace URI,
// as required before the path is used with the filesystem, matching the
// handling in the merge procedure's cleanup step.
func stripFormatPrefix(uri string) string {
	if idx := strings.IndexByte(uri, ':'); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}
