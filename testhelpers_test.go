package wdcap

import (
	"io"

	"github.com/charmbracelet/log"
)

// noopLogger returns a logger that discards everything, for tests that
// need a *log.Logger but don't care about its output.
func noopLogger() *log.Logger {
	return log.New(io.Discard)
}
