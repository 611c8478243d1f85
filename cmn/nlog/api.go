// Package nlog - lightweight leveled logger used across the RPC engine and
// its network-layer implementations for startup, teardown, and error-path
// diagnostics.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

func Infoln(args ...any)                  { log(sevInfo, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Warningln(args ...any)               { log(sevWarn, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Errorln(args ...any)                 { log(sevErr, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }

// SetTitle tags every subsequent line, e.g. with a process or class name.
func SetTitle(s string) { title = s }

// SetAlsoToStderr additionally mirrors warnings and errors to stderr
// even when the logger is writing elsewhere.
func SetAlsoToStderr(v bool) { alsoToStderr = v }

func Since() (d int64) {
	for _, n := range nlogs {
		d += n.written.Load()
	}
	return
}
