// Package bulk stubs the large-data-transfer subsystem that a full RPC
// runtime would use to move payloads too large for the inline request
// buffer. The engine in package hg only forwards an opaque Handle through
// request headers; it never interprets or moves the bytes a Handle refers
// to. A real deployment replaces this package with one backed by RDMA, a
// sendfile-style path, or a bulk object-transfer protocol.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bulk

import "github.com/pkg/errors"

// Handle is an opaque reference to a bulk-registered memory region. The
// zero value means "no bulk transfer attached to this request".
type Handle struct {
	id uint64
}

func (h Handle) IsZero() bool { return h.id == 0 }

// Token returns the handle's wire representation, for the header codec to
// embed in a request header. HandleFromToken reverses it on decode.
func (h Handle) Token() uint64 { return h.id }

func HandleFromToken(token uint64) Handle { return Handle{id: token} }

// Class is the process-scoped bulk registrar. hg.Class either owns one
// (constructed via Init) or borrows one the caller already owns.
type Class struct {
	next uint64
}

// Context is the bulk counterpart of na.Context: a progress scope for
// in-flight bulk transfers.
type Context struct {
	class *Class
}

func Init() (*Class, error) {
	return &Class{}, nil
}

func (c *Class) Finalize() error { return nil }

func (c *Class) ContextCreate() (*Context, error) {
	if c == nil {
		return nil, errors.New("bulk: nil class")
	}
	return &Context{class: c}, nil
}

func (ctx *Context) Destroy() error { return nil }

// Register associates a caller buffer with a new opaque
// Handle. It is a bookkeeping stub: no memory is actually pinned or
// exposed for RDMA.
func (ctx *Context) Register(_ []byte) Handle {
	ctx.class.next++
	return Handle{id: ctx.class.next}
}

func (ctx *Context) Deregister(Handle) {}
