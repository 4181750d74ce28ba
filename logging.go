// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wdcap

import (
	"fmt"
	"io"
	"log/syslog"
	"os"

	"github.com/charmbracelet/log"
)

// LogMode selects where log output is sent. The four modes are the ones
// accepted by the -l/--log command line flag.
type LogMode int

const (
	LogModeStderr LogMode = iota
	LogModeFile
	LogModeSyslog
	LogModeDisabled
)

// ParseLogMode maps the -l/--log flag value onto a LogMode. Accepted
// spellings match the original tool's usage text exactly.
func ParseLogMode(s string) (LogMode, error) {
	switch s {
	case "", "terminal", "stderr":
		return LogModeStderr, nil
	case "file":
		return LogModeFile, nil
	case "syslog":
		return LogModeSyslog, nil
	case "disabled", "off", "none":
		return LogModeDisabled, nil
	default:
		return 0, fmt.Errorf("wdcap: unrecognised logmode %q", s)
	}
}

// NewLogger builds the logger used throughout a worker process. logFile is
// only consulted when mode is LogModeFile.
func NewLogger(mode LogMode, logFile string) (*log.Logger, error) {
	var w io.Writer

	switch mode {
	case LogModeStderr:
		w = os.Stderr
	case LogModeDisabled:
		w = io.Discard
	case LogModeFile:
		if logFile == "" {
			return nil, fmt.Errorf("wdcap: logmode file requires a log file path")
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("wdcap: opening log file %q: %w", logFile, err)
		}
		w = f
	case LogModeSyslog:
		sw, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "wdcap")
		if err != nil {
			return nil, fmt.Errorf("wdcap: connecting to syslog: %w", err)
		}
		w = sw
	default:
		return nil, fmt.Errorf("wdcap: unknown logmode %v", mode)
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Prefix:          "wdcap",
	})

	return logger, nil
}
