package hg

import (
	"time"

	"github.com/NVIDIA/hg/bulk"
	"github.com/NVIDIA/hg/header"
	"github.com/NVIDIA/hg/na"
)

// defaultNetTriggerBatch bounds how many network-internal completions
// (our own onRequestSent/onResponseRecv/onRequestRecv callbacks, never user
// code) each na.Context.Trigger call in Progress's drain loop delivers; the
// loop repeats until a call delivers none.
const defaultNetTriggerBatch = 64

// Forward sends a new RPC request: id identifies the registered handler on
// addr, bh is an optional bulk handle to attach (the zero Handle means
// none), and cb/arg describe the completion the origin side eventually
// receives via Trigger. The caller must have already written its request
// payload into h.OutputBuf() before calling Forward.
func Forward(h *Handle, addr na.Addr, id uint32, bh bulk.Handle, cb CallbackFn, arg any) error {
	if h == nil || addr == nil || cb == nil {
		return ErrInvalidParam
	}
	h.id = id
	h.cb = cb
	h.arg = arg
	h.tag = h.class.nextTag()
	h.cookie = h.tag
	h.addr = addr
	h.bulkHandle = bh

	if h.class.net.AddrIsSelf(addr) {
		return forwardSelf(h)
	}

	req := header.InitRequest(id, h.bulkHandle)
	req.Cookie = h.cookie
	n := header.RequestSize() + len(h.OutputBuf())
	if n > len(h.out) {
		return &statusErr{status: StatusSizeError}
	}
	header.EncodeRequest(h.out[:header.RequestSize()], &req)

	netCtx := h.class.net.Context()
	recvOp, err := netCtx.PostRecvExpected(h.in, addr, h.tag, func(_ na.OpID, info na.RecvInfo, err error) {
		h.onResponseRecv(info, err)
	})
	if err != nil {
		return wrapNetworkErr(err)
	}
	h.recvOp = recvOp

	sendOp, err := netCtx.PostSendUnexpected(h.out[:n], addr, h.tag, func(_ na.OpID, err error) {
		h.onRequestSent(err)
	})
	if err != nil {
		_ = netCtx.Cancel(recvOp)
		return wrapNetworkErr(err)
	}
	h.sendOp = sendOp
	return nil
}

// forwardSelf short-circuits a request addressed to this same process: it
// builds the target-role handle directly, copies the already-encoded
// request buffer across, and enqueues it for dispatch exactly as if it had
// arrived over the network - so a handler registered locally sees no
// difference, and the origin still gets exactly one callback once that
// handler calls Respond.
func forwardSelf(h *Handle) error {
	req := header.InitRequest(h.id, h.bulkHandle)
	req.Cookie = h.cookie
	n := header.RequestSize() + len(h.OutputBuf())
	if n > len(h.out) {
		return &statusErr{status: StatusSizeError}
	}
	header.EncodeRequest(h.out[:header.RequestSize()], &req)

	h2 := newHandle(h.class, h.ctx, RoleTarget)
	h2.id = h.id
	h2.cookie = h.cookie
	h2.tag = h.tag
	h2.addr = h.addr
	h2.bulkHandle = h.bulkHandle
	h2.peer = h
	copy(h2.in, h.out[:n])

	h.ctx.addProcessing(h2)
	h.ctx.enqueue(h2)
	return nil
}

func (h *Handle) onRequestSent(err error) {
	if err != nil {
		netCtx := h.class.net.Context()
		_ = netCtx.Cancel(h.recvOp)
		h.status = StatusNetworkError
		h.ctx.enqueue(h)
	}
}

func (h *Handle) onResponseRecv(info na.RecvInfo, err error) {
	if err != nil {
		if err == na.ErrTimeout {
			h.status = StatusTimeout
		} else {
			h.status = StatusNetworkError
		}
		h.ctx.enqueue(h)
		return
	}
	if info.Size < header.ResponseSize() || !header.VerifyResponse(h.in[:info.Size]) {
		h.status = StatusChecksumError
		h.ctx.enqueue(h)
		return
	}
	resp := header.DecodeResponse(h.in[:info.Size])
	h.status = Status(resp.Status)
	h.ctx.enqueue(h)
}

// Respond sends status and the payload the handler wrote into h.OutputBuf()
// back to the request's origin. It is the target-side handler's last
// action on h: once called, the handler must not touch h again except to
// release its own reference with Destroy.
func Respond(h *Handle, status Status) error {
	if h == nil {
		return ErrInvalidParam
	}
	h.status = status

	// Respond always gives up h's processing-list slot and the engine's
	// reference: before returning on the self-dispatch path and on every
	// failure, or in onResponseSent once a posted network send completes -
	// the handler has no further use for h once it calls Respond, whether or
	// not the send actually goes out.
	if h.peer != nil {
		defer func() {
			h.ctx.removeProcessing(h)
			h.Destroy()
		}()

		resp := header.InitResponse()
		resp.Cookie = h.cookie
		resp.Status = uint32(status)
		n := header.ResponseSize() + len(h.OutputBuf())
		if n > len(h.out) {
			return &statusErr{status: StatusSizeError}
		}
		header.EncodeResponse(h.out[:header.ResponseSize()], &resp)

		origin := h.peer
		copy(origin.in, h.out[:n])
		origin.status = status
		origin.ctx.enqueue(origin)
		return nil
	}

	resp := header.InitResponse()
	resp.Cookie = h.cookie
	resp.Status = uint32(status)
	n := header.ResponseSize() + len(h.OutputBuf())
	if n > len(h.out) {
		h.ctx.removeProcessing(h)
		h.Destroy()
		return &statusErr{status: StatusSizeError}
	}
	header.EncodeResponse(h.out[:header.ResponseSize()], &resp)

	netCtx := h.class.net.Context()
	sendOp, err := netCtx.PostSendExpected(h.out[:n], h.addr, h.tag, func(_ na.OpID, err error) {
		h.onResponseSent(err)
	})
	if err != nil {
		h.ctx.removeProcessing(h)
		h.Destroy()
		return wrapNetworkErr(err)
	}
	h.sendOp = sendOp
	return nil
}

func (h *Handle) onResponseSent(err error) {
	if err != nil {
		h.status = StatusNetworkError
	}
	h.ctx.removeProcessing(h)
	h.Destroy()
}

// Progress drives exactly the network I/O and engine-internal bookkeeping
// needed to advance in-flight exchanges: it never invokes a user-registered
// callback or handler. timeout <= 0 means "don't block".
func Progress(ctx *Context, timeout time.Duration) error {
	if ctx == nil {
		return ErrInvalidParam
	}

	// (1) keep the listen pump topped up, same as an explicit Listen call.
	if ctx.class.net.Listening() {
		for i := ctx.processingLen(); i < maxProcessingListSize; i++ {
			ctx.postUnexpectedRecv()
		}
	}

	// (2) drain whatever the network layer already has ready, in a tight
	// non-blocking loop: our own onRequestSent/onResponseRecv/onRequestRecv/
	// onResponseSent callbacks, never user code, which only write handle
	// fields and push onto ctx.completionCh.
	netCtx := ctx.class.net.Context()
	for {
		n, terr := netCtx.Trigger(0, defaultNetTriggerBatch)
		if terr != nil && terr != na.ErrTimeout {
			return wrapNetworkErr(terr)
		}
		if n == 0 {
			break
		}
	}

	// (3) a self-dispatched exchange reaches ctx.completionCh with zero
	// network traffic and so can never wake na.Context.Progress below -
	// if anything is already queued, return immediately rather than
	// blocking out the full timeout waiting on network activity that was
	// never coming.
	if len(ctx.completionCh) > 0 {
		return nil
	}

	// (4) nothing ready yet: block on the network layer itself.
	if err := netCtx.Progress(timeout); err != nil {
		if err == na.ErrTimeout {
			return ErrTimeout
		}
		return wrapNetworkErr(err)
	}
	return nil
}

// Trigger delivers up to max completed exchanges from ctx's completion
// queue: an origin-role handle's user callback, or a target-role handle's
// dispatch through the registry. It is the only place user code runs.
// timeout <= 0 means "don't block when the queue is empty".
func Trigger(ctx *Context, timeout time.Duration, max int) (int, error) {
	if ctx == nil {
		return 0, ErrInvalidParam
	}
	n := 0
	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = time.After(timeout)
	}
	for n < max {
		select {
		case h := <-ctx.completionCh:
			deliver(ctx, h)
			n++
			continue
		default:
		}
		if n > 0 || deadline == nil {
			return n, nil
		}
		select {
		case h := <-ctx.completionCh:
			deliver(ctx, h)
			n++
		case <-deadline:
			return n, ErrTimeout
		}
	}
	return n, nil
}

func deliver(ctx *Context, h *Handle) {
	if h.role == RoleOrigin {
		cb, arg, status := h.cb, h.arg, h.status
		ctx.metrics.observe(status, h.createdAt)
		if cb != nil {
			cb(&CallbackInfo{Class: h.class, Context: ctx, Handle: h, Arg: arg, Status: status})
		}
		h.Destroy()
		return
	}
	h.class.dispatch(h)
}
