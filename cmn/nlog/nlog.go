// Package nlog - lightweight leveled logger used across the RPC engine and
// its network-layer implementations for startup, teardown, and error-path
// diagnostics.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = [...]byte{'I', 'W', 'E'}

type nlog struct {
	mw      sync.Mutex
	out     *os.File
	written atomic.Int64
}

var (
	nlogs        [3]*nlog
	title        string
	alsoToStderr bool
)

func init() {
	for i := range nlogs {
		nlogs[i] = &nlog{out: os.Stderr}
	}
}

func log(sev severity, format string, args ...any) {
	n := nlogs[sev]
	n.mw.Lock()
	defer n.mw.Unlock()

	ts := time.Now().Format("15:04:05.000000")
	prefix := fmt.Sprintf("%c %s ", sevChar[sev], ts)
	if title != "" {
		prefix = prefix + title + " "
	}
	if format == "" {
		fmt.Fprint(n.out, prefix)
		fmt.Fprintln(n.out, args...)
	} else {
		fmt.Fprintf(n.out, prefix+format+"\n", args...)
	}
	n.written.Add(1)

	if sev >= sevWarn && alsoToStderr && n.out != os.Stderr {
		fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
	}
}
