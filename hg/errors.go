// Package hg implements the RPC engine: the per-process Class registry, the
// per-thread Context progress/completion engine, the per-exchange Handle,
// the tag allocator, and the send/recv state machine that ties two
// unreliable na.Context messages into one request/response exchange.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package hg

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the engine's closed error taxonomy. Every completion - local or
// delivered from the network - carries exactly one of these.
type Status int

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusInvalidParam
	StatusSizeError
	StatusNoMem
	StatusProtocolError
	StatusNoMatch       // no registered callback for the request's RPC id
	StatusChecksumError // header failed header.Verify*
	StatusNetworkError  // generic wrap of a transport completion failure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusInvalidParam:
		return "invalid parameter"
	case StatusSizeError:
		return "size error"
	case StatusNoMem:
		return "out of memory"
	case StatusProtocolError:
		return "protocol error"
	case StatusNoMatch:
		return "no match"
	case StatusChecksumError:
		return "checksum error"
	case StatusNetworkError:
		return "network error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// statusErr pairs a Status with an optional underlying cause, so transport
// or allocation failures keep their detail while still classifying into
// the closed taxonomy callers switch on.
type statusErr struct {
	status Status
	cause  error
}

func (e *statusErr) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.status, e.cause)
	}
	return e.status.String()
}

func (e *statusErr) Unwrap() error { return e.cause }

// StatusOf extracts the Status an error was classified with, defaulting to
// StatusNetworkError for errors that didn't originate in this package.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *statusErr
	if errors.As(err, &se) {
		return se.status
	}
	return StatusNetworkError
}

var (
	ErrInvalidParam  = &statusErr{status: StatusInvalidParam}
	ErrNoMem         = &statusErr{status: StatusNoMem}
	ErrProtocolError = &statusErr{status: StatusProtocolError}
	ErrTimeout       = &statusErr{status: StatusTimeout}
)

func wrapNetworkErr(cause error) error {
	return &statusErr{status: StatusNetworkError, cause: errors.Wrap(cause, "na")}
}

func wrapNoMem(cause error) error {
	return &statusErr{status: StatusNoMem, cause: cause}
}

// Version reports the engine's own version string (diagnostics only; no
// wire-format implication).
func Version() string { return "0.1.0" }

// ErrorToString renders a Status the way a C caller's HG_Error_to_string
// would, for logging or cross-language diagnostics.
func ErrorToString(s Status) string { return s.String() }
