package wdcap

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
)

// PacketCallback is invoked once per packet delivered to a processing
// thread. Returning an error halts that thread's run loop.
type PacketCallback func(ci gopacket.CaptureInfo, data []byte) error

// TickCallback is invoked at roughly one-second cadence, independent of
// packet arrival, so a processing thread can sample cumulative statistics.
type TickCallback func()

// PacketSource is the interface a parallel packet-capture backend must
// implement to be driven by a Worker. It stands in for the packet-source
// library described as an external collaborator: a parallel packet
// iterator, per-thread packet callbacks, tick callbacks, and cumulative
// per-thread statistics counters.
type PacketSource interface {
	// Threads reports the number of parallel processing threads this
	// source was configured for.
	Threads() int

	// FirstPacketTimestamp blocks until the timestamp of the first packet
	// observed on the whole input is known and returns it. Every
	// processing thread calls this to align on the same first interval
	// boundary, even if an individual thread's own first packet arrives
	// later.
	FirstPacketTimestamp() (uint32, error)

	// Run delivers packets assigned to threadID to onPacket, in capture
	// order, until the source is stopped or exhausted. onTick fires from
	// the same goroutine at roughly one-second intervals.
	Run(threadID int, onPacket PacketCallback, onTick TickCallback) error

	// Stats returns a cumulative counters snapshot for threadID.
	Stats(threadID int) SourceStats

	// Stop requests every Run call to return as soon as possible.
	Stop()

	// Close releases resources. Must be called after every Run call has
	// returned.
	Close() error
}

// pcapPacketSource is a PacketSource backed by google/gopacket. It reads
// packets from a single live interface or offline capture file and fans
// them out to per-thread channels round-robin, which is the faithful
// approximation of a parallel capture library available without a
// dedicated multi-queue NIC driver: each processing thread still sees its
// own packets in strict capture order, which is all the merge procedure
// relies on.
type pcapPacketSource struct {
	threads int

	handle interface {
		ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
		Close()
	}

	perThread []chan capturedPacket
	stopOnce  sync.Once
	stopCh    chan struct{}

	firstTSOnce sync.Once
	firstTSCh   chan uint32
	firstTS     atomic.Uint32

	statsMu    sync.Mutex
	statsDelta []SourceStats

	distributeErr atomic.Value
}

type capturedPacket struct {
	ci   gopacket.CaptureInfo
	data []byte
}

// OpenPacketSource opens the input URI named by cfg. URIs of the form
// "pcapfile:<path>" are read with the offline, cgo-free pcapgo reader;
// URIs of the form "int:<interface>" are opened live with the
// libpcap-backed reader. Any other URI, including a bare path, is rejected
// with an error.
func OpenPacketSource(cfg *Config) (PacketSource, error) {
	src := &pcapPacketSource{
		threads:    cfg.Threads,
		perThread:  make([]chan capturedPacket, cfg.Threads),
		stopCh:     make(chan struct{}),
		firstTSCh:  make(chan uint32, 1),
		statsDelta: make([]SourceStats, cfg.Threads),
	}
	for i := range src.perThread {
		src.perThread[i] = make(chan capturedPacket, 1024)
		// Only Accepted is counted by this source; every other counter
		// reports -1, "not populated".
		src.statsDelta[i] = unsetStats()
		src.statsDelta[i].Accepted = 0
	}

	uri := cfg.InputURI
	switch {
	case strings.HasPrefix(uri, "pcapfile:"):
		path := strings.TrimPrefix(uri, "pcapfile:")
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("wdcap: opening input file %q: %w", path, err)
		}
		r, err := pcapgo.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("wdcap: reading pcap header from %q: %w", path, err)
		}
		src.handle = &fileHandle{f: f, r: r}

	case strings.HasPrefix(uri, "int:"):
		iface := strings.TrimPrefix(uri, "int:")
		h, err := pcap.OpenLive(iface, snapshotLength, true, pcap.BlockForever)
		if err != nil {
			return nil, fmt.Errorf("wdcap: opening live interface %q: %w", iface, err)
		}
		src.handle = h

	default:
		return nil, fmt.Errorf("wdcap: unrecognised input URI %q", uri)
	}

	go src.distribute()

	return src, nil
}

func (s *pcapPacketSource) Threads() int { return s.threads }

func (s *pcapPacketSource) distribute() {
	var i int
	for {
		select {
		case <-s.stopCh:
			s.closePerThread()
			return
		default:
		}

		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			if err != io.EOF {
				s.distributeErr.Store(err)
			}
			s.closePerThread()
			return
		}

		s.firstTSOnce.Do(func() {
			ts := uint32(ci.Timestamp.Unix())
			s.firstTS.Store(ts)
			s.firstTSCh <- ts
		})

		thread := i % s.threads
		i++

		select {
		case s.perThread[thread] <- capturedPacket{ci: ci, data: data}:
			s.statsMu.Lock()
			s.statsDelta[thread].Accepted++
			s.statsMu.Unlock()
		case <-s.stopCh:
			s.closePerThread()
			return
		}
	}
}

func (s *pcapPacketSource) closePerThread() {
	for _, ch := range s.perThread {
		close(ch)
	}
}

func (s *pcapPacketSource) FirstPacketTimestamp() (uint32, error) {
	ts, ok := <-s.firstTSCh
	if ok {
		// Buffer of 1: put it back for any other thread still waiting.
		select {
		case s.firstTSCh <- ts:
		default:
		}
		return ts, nil
	}
	return s.firstTS.Load(), nil
}

func (s *pcapPacketSource) Run(threadID int, onPacket PacketCallback, onTick TickCallback) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ch := s.perThread[threadID]
	for {
		select {
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			onTick()
		case pkt, ok := <-ch:
			if !ok {
				if err, _ := s.distributeErr.Load().(error); err != nil {
					return err
				}
				return nil
			}
			if err := onPacket(pkt.ci, pkt.data); err != nil {
				return err
			}
		}
	}
}

func (s *pcapPacketSource) Stats(threadID int) SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.statsDelta[threadID]
}

func (s *pcapPacketSource) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *pcapPacketSource) Close() error {
	s.handle.Close()
	return nil
}

// fileHandle adapts a pcapgo.Reader (offline, cgo-free) to the small
// ReadPacketData/Close surface pcapPacketSource needs, so the same
// distributor code serves both live and offline inputs.
type fileHandle struct {
	f interface{ Close() error }
	r *pcapgo.Reader
}

func (fh *fileHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return fh.r.ReadPacketData()
}

func (fh *fileHandle) Close() {
	fh.f.Close()
}
