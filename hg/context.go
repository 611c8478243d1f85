package hg

import (
	"sync"

	"github.com/NVIDIA/hg/bulk"
)

// maxProcessingListSize bounds the number of unexpected-receives the listen
// pump keeps posted at once. The reference implementation uses 1, as does
// this package; it is an unexported variable, so code outside package hg
// cannot change it.
var maxProcessingListSize = 1

// Context is a progress scope: a completion queue of finished handles
// awaiting delivery via Trigger, and the processing list of handles
// currently posted for an inbound request. One Context belongs to exactly
// one Class; a Class may have many Contexts, each driven by its own
// caller(s) of Progress/Trigger.
type Context struct {
	class   *Class
	bulkCtx *bulk.Context

	completionCh chan *Handle

	plMu           sync.Mutex
	processingList []*Handle

	metrics *Metrics
}

// completionQueueCap bounds how many finished handles may await delivery
// before Progress/respond/forward start dropping completions rather than
// blocking a progress thread; it stands in for the reference mutex+condvar
// pair's unbounded queue (see DESIGN.md).
const completionQueueCap = 4096

// ContextCreate opens a new progress scope under class.
func ContextCreate(class *Class) (*Context, error) {
	if class == nil {
		return nil, ErrInvalidParam
	}
	bctx, err := class.bulkClass.ContextCreate()
	if err != nil {
		return nil, wrapNoMem(err)
	}
	return &Context{
		class:        class,
		bulkCtx:      bctx,
		completionCh: make(chan *Handle, completionQueueCap),
	}, nil
}

// ContextDestroy fails with ErrProtocolError if the completion queue is
// non-empty; the caller must drain it via Trigger first.
func ContextDestroy(ctx *Context) error {
	if ctx == nil {
		return nil
	}
	if len(ctx.completionCh) > 0 {
		return ErrProtocolError
	}
	return ctx.bulkCtx.Destroy()
}

func (ctx *Context) enqueue(h *Handle) {
	select {
	case ctx.completionCh <- h:
	default:
		// completion queue overrun: the caller isn't triggering fast enough
		// to keep up. Dropping here (rather than blocking a progress
		// thread inside network I/O) mirrors the bounded processing list:
		// better to surface backpressure than to deadlock progress.
		h.status = StatusProtocolError
	}
}

func (ctx *Context) addProcessing(h *Handle) {
	ctx.plMu.Lock()
	ctx.processingList = append(ctx.processingList, h)
	n := len(ctx.processingList)
	ctx.plMu.Unlock()
	ctx.metrics.setProcessing(n)
}

func (ctx *Context) removeProcessing(h *Handle) bool {
	ctx.plMu.Lock()
	removed := false
	for i, cur := range ctx.processingList {
		if cur == h {
			ctx.processingList = append(ctx.processingList[:i], ctx.processingList[i+1:]...)
			removed = true
			break
		}
	}
	n := len(ctx.processingList)
	ctx.plMu.Unlock()
	ctx.metrics.setProcessing(n)
	return removed
}

func (ctx *Context) processingLen() int {
	ctx.plMu.Lock()
	defer ctx.plMu.Unlock()
	return len(ctx.processingList)
}
