package hg

import (
	"github.com/NVIDIA/hg/cmn/debug"
	"github.com/NVIDIA/hg/cmn/nlog"
	"github.com/NVIDIA/hg/header"
	"github.com/NVIDIA/hg/na"
)

// Listen tops up this context's listen pump up to maxProcessingListSize.
// Progress also runs this top-up at the start of every call when the
// context's network class is listening, so Listen need not be called before
// the first Progress; it exists for callers that want the pump primed
// before their first blocking Progress call, or want to top it up off the
// Progress/Trigger loop entirely. A Class whose na.Class reports
// Listening() == false never needs this - a pure client has nothing to
// dispatch to.
func Listen(ctx *Context) error {
	if ctx == nil {
		return ErrInvalidParam
	}
	if !ctx.class.net.Listening() {
		return nil
	}
	for i := ctx.processingLen(); i < maxProcessingListSize; i++ {
		ctx.postUnexpectedRecv()
	}
	return nil
}

// postUnexpectedRecv allocates a fresh target-role handle and posts its
// input buffer as one slot of the listen pump. The recv callback
// (onRequestRecv) runs from inside na.Context.Trigger - engine-internal
// code, never the user's registered handler - and its only job is to
// decode the header and hand the handle to the completion queue so
// hg.Trigger can dispatch it.
func (ctx *Context) postUnexpectedRecv() {
	h := newHandle(ctx.class, ctx, RoleTarget)
	ctx.addProcessing(h)
	netCtx := ctx.class.net.Context()
	op, err := netCtx.PostRecvUnexpected(h.in, func(_ na.OpID, info na.RecvInfo, err error) {
		ctx.onRequestRecv(h, info, err)
	})
	if err != nil {
		nlog.Errorf("hg: post unexpected recv: %v", err)
		ctx.removeProcessing(h)
		return
	}
	h.recvOp = op
}

// onRequestRecv runs once per inbound message matched to one of our posted
// unexpected-recv slots. It never invokes the user's registered handler
// directly - it only verifies the header and enqueues the handle, so the
// actual handler call happens under hg.Trigger.
func (ctx *Context) onRequestRecv(h *Handle, info na.RecvInfo, err error) {
	ctx.removeProcessing(h)
	defer ctx.postUnexpectedRecv() // keep the pump topped up regardless of outcome

	if err != nil {
		h.abort()
		return
	}
	if info.Size < header.RequestSize() || !header.VerifyRequest(h.in[:info.Size]) {
		h.status = StatusChecksumError
		h.abort()
		return
	}
	req := header.DecodeRequest(h.in[:info.Size])
	h.id = req.ID
	h.cookie = req.Cookie
	h.tag = req.Cookie
	h.addr = info.Source
	h.addrMine = true
	h.bulkHandle = req.Bulk

	debug.Assert(h.role == RoleTarget, "listen pump handle must be target-role")
	// The handler-entitled refcount bump happens in dispatch, only on a
	// successful registry match (see processor.go) - not here, since a
	// NoMatch request never reaches a user handler and must not receive a
	// reference nothing will ever release.
	ctx.addProcessing(h)
	ctx.enqueue(h)
}
