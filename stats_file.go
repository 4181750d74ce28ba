package wdcap

import (
	"fmt"
	"os"
	"time"
)

// writeStatsFile renders the plain-text statistics file for one merged
// interval: a time header, one line per counter for every processing
// thread, an aggregate block under thread id -1, and the wall-clock
// duration the merge itself took.
func (mw *mergeWorker) writeStatsFile(pi *pendingInterval, mergeDuration time.Duration) error {
	path, err := renderFilename(mw.cfg, pi.intervalStart, -1, false, extStats)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wdcap: creating stats file %q: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "time:%d\n", pi.intervalStart); err != nil {
		return err
	}

	aggregate := unsetStats()
	for threadID := 0; threadID < mw.threads; threadID++ {
		s, ok := pi.stats[threadID]
		if !ok {
			s = unsetStats()
		}
		if err := writeThreadStatsBlock(f, threadID, s); err != nil {
			return err
		}
		addValid(&aggregate, s)
	}
	if err := writeThreadStatsBlock(f, -1, aggregate); err != nil {
		return err
	}

	_, err = fmt.Fprintf(f, "merge_duration_msec:%d\n", mergeDuration.Milliseconds())
	return err
}

// writeThreadStatsBlock emits all seven counters for threadID, in the
// original's LOG_FIELD order, writing -1 for any counter the source did
// not populate rather than omitting the line.
func writeThreadStatsBlock(f *os.File, threadID int, s SourceStats) error {
	fields := []struct {
		name string
		val  int64
	}{
		{"accepted", s.Accepted},
		{"filtered", s.Filtered},
		{"received", s.Received},
		{"dropped", s.Dropped},
		{"captured", s.Captured},
		{"missing", s.Missing},
		{"errors", s.Errors},
	}
	for _, fld := range fields {
		if _, err := fmt.Fprintf(f, "thread:%d %s_pkts:%d\n", threadID, fld.name, fld.val); err != nil {
			return err
		}
	}
	return nil
}
