// Command wdcap-supervisor keeps a stable capture process running across
// SIGHUP-triggered reconfiguration restarts, the same role corsarowdcap's
// own main() plays by forking and monitoring a child. Since Go cannot
// safely fork a running runtime, the supervisor execs a fresh wdcap
// process instead of cloning its own address space, and reaps it with
// os.Process.Wait in a goroutine rather than a SIGCHLD handler.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		workerBin  = pflag.String("worker-bin", "wdcap", "path to the wdcap worker binary")
		configPath = pflag.StringP("config", "c", "", "path to the YAML configuration file, forwarded to the worker")
		logModeStr = pflag.StringP("log", "l", "terminal", "log destination, forwarded to the worker")
		logFile    = pflag.StringP("logfile", "f", "", "log file path, forwarded to the worker")
		help       = pflag.BoolP("help", "h", false, "print usage and exit")
	)
	pflag.Parse()

	if *help {
		pflag.Usage()
		return 0
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "wdcap-supervisor: -c/--config is required")
		pflag.Usage()
		return 1
	}

	args := []string{"-c", *configPath, "-l", *logModeStr}
	if *logFile != "" {
		args = append(args, "-f", *logFile)
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	signal.Ignore(syscall.SIGPIPE)

	for {
		cmd := exec.Command(*workerBin, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "wdcap-supervisor: starting worker: %v\n", err)
			return 1
		}

		waitCh := make(chan error, 1)
		go func() { waitCh <- cmd.Wait() }()

		restart, exitErr := superviseOne(cmd, sigCh, waitCh)
		if exitErr != nil {
			if _, ok := exitErr.(*exec.ExitError); !ok {
				fmt.Fprintf(os.Stderr, "wdcap-supervisor: worker wait failed: %v\n", exitErr)
				return 1
			}
		}
		if !restart {
			return 0
		}
	}
}

// superviseOne waits for the running worker to exit, forwarding
// SIGINT/SIGTERM as a request to terminate and SIGHUP as a request to
// reconfigure and restart. restart is true only when the worker itself
// asked to be restarted (exit code 2, matching cmd/wdcap's convention) or
// a SIGHUP arrived while it was still running.
func superviseOne(cmd *exec.Cmd, sigCh <-chan os.Signal, waitCh <-chan error) (restart bool, err error) {
	for {
		select {
		case sig := <-sigCh:
			_ = cmd.Process.Signal(translateSignal(sig))
			if sig == syscall.SIGHUP {
				restart = true
			}
			// Keep waiting for the worker to actually exit before acting
			// further; a second signal of the same kind while waiting is
			// simply forwarded again on the next loop iteration.
		case err := <-waitCh:
			if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == 2 {
				restart = true
			}
			return restart, err
		}
	}
}

func translateSignal(sig os.Signal) os.Signal {
	if sig == syscall.SIGHUP {
		return syscall.SIGHUP
	}
	return syscall.SIGTERM
}
