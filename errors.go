// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package wdcap

import "errors"

// Sentinel errors returned by the capture pipeline. Callers that need to
// distinguish a failure kind should compare with errors.Is.
var (
	// ErrFilenameOverflow is returned by renderFilename when the rendered
	// name would exceed maxFilenameLength bytes. Per the filename
	// templating design, this is always a fatal configuration error for
	// the caller.
	ErrFilenameOverflow = errors.New("wdcap: rendered filename exceeds maximum length")

	// ErrChannelFull is returned when a processing goroutine could not
	// enqueue a control message without blocking. Treated as fatal: it
	// sets the shared halted flag rather than retrying.
	ErrChannelFull = errors.New("wdcap: message channel is full")

	// ErrTooManyMalformedMessages is returned by the merge goroutine once
	// it has seen 100 messages it does not understand.
	ErrTooManyMalformedMessages = errors.New("wdcap: too many malformed messages on merge channel")

	// ErrNoInterimData is logged by the merge goroutine when a processing
	// thread reported an interval without an interim file. It is not
	// returned and not a failure: that thread simply gets no reader slot.
	ErrNoInterimData = errors.New("wdcap: no interim file for thread/interval")
)
