package hg

import (
	"github.com/NVIDIA/hg/bulk"
	"github.com/NVIDIA/hg/cmn/atomic"
	"github.com/NVIDIA/hg/cmn/mono"
	"github.com/NVIDIA/hg/header"
	"github.com/NVIDIA/hg/na"
)

// Role distinguishes which side of an exchange a Handle represents; it
// decides where Input/OutputBuf start reading past the reserved header
// area, since request and response headers differ in size, and whether
// Trigger delivers the handle to its user callback or dispatches it
// through the registry.
type Role int

const (
	RoleOrigin Role = iota
	RoleTarget
)

// CallbackFn is invoked exactly once per exchange, by Trigger, on whichever
// thread is calling it. It never runs on a thread inside Progress.
type CallbackFn func(*CallbackInfo)

// CallbackInfo is what Trigger hands the user callback: the handle and the
// status its exchange completed with.
type CallbackInfo struct {
	Class   *Class
	Context *Context
	Handle  *Handle
	Arg     any
	Status  Status
}

// Handle is one RPC exchange. Every live Handle has refcount >= 1;
// transitioning to 0 frees it. A Handle is never reused across exchanges.
type Handle struct {
	class *Class
	ctx   *Context

	role Role
	id   uint32
	// Cookie field name kept lowercase: it is set by the engine (decoded
	// from the request, or zero on a freshly created origin handle), never
	// by the caller.
	cookie uint32
	tag    uint32

	addr     na.Addr
	addrMine bool

	in, out []byte

	sendOp, recvOp na.OpID

	cb     CallbackFn
	arg    any
	status Status

	bulkHandle bulk.Handle

	// peer is set only for a self-dispatched exchange: the target handle's
	// peer points back at the origin handle that forwarded to itself, so
	// Respond can deliver both sides without touching the network.
	peer *Handle

	refcount atomic.Int32

	createdAt int64 // mono.NanoTime at allocation, for Metrics latency
}

func newHandle(class *Class, ctx *Context, role Role) *Handle {
	sz := class.net.MaxExpectedSize()
	h := &Handle{
		class:     class,
		ctx:       ctx,
		role:      role,
		in:        make([]byte, sz),
		out:       make([]byte, sz),
		createdAt: mono.NanoTime(),
	}
	h.refcount.Store(1)
	return h
}

// Create allocates an origin-side handle for one RPC exchange to addr.
// The returned handle's refcount is bumped so a subsequent user Destroy
// only schedules the free; the runtime's own reference is released when
// Trigger delivers the completion.
func Create(class *Class, ctx *Context, addr na.Addr, id uint32) (*Handle, error) {
	if class == nil || ctx == nil || addr == nil {
		return nil, ErrInvalidParam
	}
	h := newHandle(class, ctx, RoleOrigin)
	h.addr = addr
	h.addrMine = false
	h.id = id
	h.refcount.Add(1) // user + runtime
	return h, nil
}

// Destroy decrements the handle's refcount; the underlying buffers and
// address are only released once it reaches zero.
func (h *Handle) Destroy() {
	if h.refcount.Add(-1) == 0 {
		h.free()
	}
}

func (h *Handle) free() {
	if h.addrMine && h.addr != nil {
		h.class.net.AddrFree(h.addr)
	}
	h.in, h.out = nil, nil
}

// abort destroys a handle that was never dispatched to a user callback
// (failed recv, header verification failure): it releases the
// listen pump's own reference outright rather than waiting on a Respond
// that will never come.
func (h *Handle) abort() { h.Destroy() }

func (h *Handle) ID() uint32           { return h.id }
func (h *Handle) Cookie() uint32       { return h.cookie }
func (h *Handle) Tag() uint32          { return h.tag }
func (h *Handle) Addr() na.Addr        { return h.addr }
func (h *Handle) Bulk() bulk.Handle    { return h.bulkHandle }
func (h *Handle) SetBulk(b bulk.Handle) { h.bulkHandle = b }

// InputBuf returns the portion of the inbound buffer past its header: the
// request payload on a target handle, the response payload on an origin
// handle.
func (h *Handle) InputBuf() []byte {
	off := header.RequestSize()
	if h.role == RoleOrigin {
		off = header.ResponseSize()
	}
	return h.in[off:]
}

// OutputBuf returns the portion of the outbound buffer past its header:
// the request payload on an origin handle, the response payload on a
// target handle.
func (h *Handle) OutputBuf() []byte {
	off := header.RequestSize()
	if h.role == RoleTarget {
		off = header.ResponseSize()
	}
	return h.out[off:]
}

// Cancel attempts to cancel both of the handle's outstanding network
// operations. Best effort: a send or recv that already completed is
// unaffected, and the normal completion path still delivers a status to
// the user callback.
func Cancel(h *Handle) error {
	if h == nil {
		return ErrInvalidParam
	}
	netCtx := h.class.net.Context()
	if h.sendOp != 0 {
		_ = netCtx.Cancel(h.sendOp)
	}
	if h.recvOp != 0 {
		_ = netCtx.Cancel(h.recvOp)
	}
	return nil
}
