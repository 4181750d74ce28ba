// Command wdcap is the capture worker binary: it loads a configuration
// file, opens a packet source, and runs the processing and merge
// goroutines until told to stop. It is meant to be run under
// wdcap-supervisor, which restarts it across SIGHUP-triggered
// reconfigurations, but can be run standalone for a single capture
// session.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/caida/wdcap"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = pflag.StringP("config", "c", "", "path to the YAML configuration file")
		logModeStr = pflag.StringP("log", "l", "terminal", "log destination: terminal, file, syslog, disabled")
		logFile    = pflag.StringP("logfile", "f", "", "path to the log file when --log=file")
		help       = pflag.BoolP("help", "h", false, "print usage and exit")
	)
	pflag.Parse()

	if *help {
		pflag.Usage()
		return 0
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "wdcap: -c/--config is required")
		pflag.Usage()
		return 1
	}

	logMode, err := wdcap.ParseLogMode(*logModeStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wdcap: %v\n", err)
		return 1
	}
	logger, err := wdcap.NewLogger(logMode, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wdcap: %v\n", err)
		return 1
	}

	cfg, err := wdcap.Load(*configPath)
	if err != nil {
		logger.Error("loading configuration", "err", err)
		return 1
	}

	w := wdcap.NewWorker(cfg, logger)
	restart, err := w.Run()
	if err != nil {
		logger.Error("worker exited with error", "err", err)
		return 1
	}

	// Exit code 2 tells wdcap-supervisor to start a fresh worker rather
	// than treating this as a final exit; any other process manager can
	// safely ignore the distinction and just restart on nonzero.
	if restart {
		return 2
	}
	return 0
}
