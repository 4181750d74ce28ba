package wdcap

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// Worker owns the lifecycle of one capture process: opening the packet
// source, running every processing goroutine and the merge goroutine,
// handling signals, and writing/removing the pidfile. It is the Go
// analogue of run_wdcap's body, minus the fork/exec step that belongs to
// the supervisor.
type Worker struct {
	cfg    *Config
	logger *log.Logger

	rs     *runState
	source PacketSource
	mc     *messageChannel
}

// NewWorker constructs a Worker. The packet source is opened lazily by
// Run, since opening it can fail and Run is the place that reports errors.
func NewWorker(cfg *Config, logger *log.Logger) *Worker {
	return &Worker{
		cfg:    cfg,
		logger: logger,
		rs:     newRunState(),
	}
}

// Run executes one capture session: it blocks until a termination signal
// is received or the packet source is exhausted, then shuts down cleanly.
// RestartRequested reports whether the caller should start a fresh Worker
// afterwards (a SIGHUP was received).
func (w *Worker) Run() (restartRequested bool, err error) {
	if err := writePidFile(w.cfg.PidFile); err != nil {
		return false, err
	}
	defer func() {
		if rerr := os.Remove(w.cfg.PidFile); rerr != nil {
			w.logger.Error("removing pidfile", "path", w.cfg.PidFile, "err", rerr)
		}
	}()

	source, err := OpenPacketSource(w.cfg)
	if err != nil {
		return false, err
	}
	w.source = source
	defer source.Close()

	// The message channel's consumer must exist before any producer does:
	// construct it and start the merge goroutine first.
	w.mc = newMessageChannel(w.cfg.Threads)
	mw := newMergeWorker(w.cfg, w.mc, w.logger)

	var mergeWG sync.WaitGroup
	mergeWG.Add(1)
	var mergeErr error
	go func() {
		defer mergeWG.Done()
		mergeErr = mw.run()
	}()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	signal.Ignore(syscall.SIGPIPE)
	defer signal.Stop(sigCh)

	var workersWG sync.WaitGroup
	for t := 0; t < w.cfg.Threads; t++ {
		pw := newProcessingWorker(w.cfg, t, w.source, w.mc, w.rs, w.logger)
		workersWG.Add(1)
		go func() {
			defer workersWG.Done()
			if err := pw.run(); err != nil {
				w.logger.Error("processing thread ended with error", "err", err)
			}
		}()
	}

	w.pollUntilHalted(sigCh)

	workersWG.Wait()

	w.mc.ch <- message{kind: msgStop, senderThreadID: mainThreadSender}
	mergeWG.Wait()

	if mergeErr != nil {
		return w.rs.restartPending(), mergeErr
	}
	return w.rs.restartPending(), nil
}

// pollUntilHalted is the main goroutine's run loop: it polls for an
// incoming signal and for the run state going halted (which a processing
// thread can also trigger on its own once every thread has naturally
// ended) on a 100 microsecond cadence, matching the sleep-poll the rest of
// this package's design preserves rather than replacing with a blocking
// channel receive.
func (w *Worker) pollUntilHalted(sigCh <-chan os.Signal) {
	for !w.rs.isHalted() {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				w.logger.Info("received SIGHUP, requesting restart")
				w.rs.requestRestart()
			default:
				w.logger.Info("received termination signal, shutting down", "signal", sig)
			}
			w.rs.setHalted()
			w.source.Stop()
		default:
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func writePidFile(path string) error {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0o644); err != nil {
		return fmt.Errorf("wdcap: writing pidfile %q: %w", path, err)
	}
	return nil
}
