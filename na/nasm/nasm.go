// Package nasm ("NA shared-memory") is an in-process na.Class backend: it
// delivers messages between Class instances living in the same Go process
// via registered mailboxes, the way Mercury's na_sm plugin delivers between
// processes on one host via POSIX shared memory. It exists so the engine in
// package hg can be driven and tested without a real socket, and so a
// single-process demo can still show two distinct "nodes" exchanging RPCs.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nasm

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/teris-io/shortid"

	"github.com/NVIDIA/hg/cmn/atomic"
	"github.com/NVIDIA/hg/cmn/debug"
	"github.com/NVIDIA/hg/na"
)

const (
	// DefaultMaxExpectedSize bounds the inline message, header included.
	DefaultMaxExpectedSize = 4096
	// DefaultMaxTag is the largest tag this backend reports, a range well
	// below the full 32-bit tag space.
	DefaultMaxTag = 1 << 20
)

type addr struct{ id string }

func (a addr) String() string { return a.id }

// interface guard
var _ na.Addr = addr{}

type wireMsg struct {
	payload []byte
	from    addr
	tag     uint32
	op      na.OpID
	cb      na.SendCB // origin-side send callback, fired once delivered
}

type recvSlot struct {
	buf  []byte
	cb   na.RecvCB
	op   na.OpID
	from addr // zero value: unexpected (matches any sender)
	tag  uint32
}

type completion struct {
	send   na.SendCB
	recv   na.RecvCB
	op     na.OpID
	info   na.RecvInfo
	err    error
}

// Context implements na.Context over an in-process mailbox.
type Context struct {
	self addr

	mu         sync.Mutex
	unexpected []*recvSlot            // FIFO of posted unexpected-recv slots
	expected   map[uint32][]*recvSlot // posted expected-recv slots, by tag

	mailbox     chan wireMsg
	completions chan completion
	nextOp      atomic.Uint32
	cancelled   sync.Map // na.OpID -> struct{}
}

// Class implements na.Class over Context.
type Class struct {
	ctx        *Context
	maxSize    int
	maxTag     uint32
	listening  bool
}

var (
	registry sync.Map // string address -> *Context
	sid      *shortid.Shortid
	sidOnce  sync.Once
)

func genAddr() addr {
	sidOnce.Do(func() { sid = shortid.MustNew(1, shortid.DefaultABC, 1) })
	return addr{id: sid.MustGenerate()}
}

// NewClass creates a fresh loopback class with its own address. When
// listening is false the class never posts unexpected receives (a
// send-only client role); when true it is a candidate target for inbound
// RPCs.
func NewClass(listening bool) *Class {
	a := genAddr()
	ctx := &Context{
		self:        a,
		expected:    make(map[uint32][]*recvSlot),
		mailbox:     make(chan wireMsg, 256),
		completions: make(chan completion, 256),
	}
	registry.Store(a.id, ctx)
	return &Class{ctx: ctx, maxSize: DefaultMaxExpectedSize, maxTag: DefaultMaxTag, listening: listening}
}

func (c *Class) Context() na.Context       { return c.ctx }
func (c *Class) Addr() na.Addr             { return c.ctx.self }
func (c *Class) MaxExpectedSize() int      { return c.maxSize }
func (c *Class) MaxTag() uint32            { return c.maxTag }
func (c *Class) Listening() bool           { return c.listening }
func (c *Class) AddrFree(na.Addr)          {} // addresses are immutable value types; nothing to release
func (c *Class) AddrIsSelf(a na.Addr) bool {
	pa, ok := a.(addr)
	return ok && pa.id == c.ctx.self.id
}

// interface guard
var _ na.Class = (*Class)(nil)

func (ctx *Context) newOp() na.OpID { return na.OpID(ctx.nextOp.Add(1)) }

func (ctx *Context) PostRecvUnexpected(buf []byte, cb na.RecvCB) (na.OpID, error) {
	op := ctx.newOp()
	ctx.mu.Lock()
	ctx.unexpected = append(ctx.unexpected, &recvSlot{buf: buf, cb: cb, op: op})
	ctx.mu.Unlock()
	return op, nil
}

func (ctx *Context) PostRecvExpected(buf []byte, peer na.Addr, tag uint32, cb na.RecvCB) (na.OpID, error) {
	pa, ok := peer.(addr)
	if !ok {
		return 0, errors.Errorf("nasm: foreign address type %T", peer)
	}
	op := ctx.newOp()
	slot := &recvSlot{buf: buf, cb: cb, op: op, from: pa, tag: tag}
	ctx.mu.Lock()
	ctx.expected[tag] = append(ctx.expected[tag], slot)
	ctx.mu.Unlock()
	return op, nil
}

func (ctx *Context) postSend(buf []byte, peer na.Addr, tag uint32, cb na.SendCB) (na.OpID, error) {
	pa, ok := peer.(addr)
	if !ok {
		return 0, errors.Errorf("nasm: foreign address type %T", peer)
	}
	v, ok := registry.Load(pa.id)
	if !ok {
		return 0, errors.Errorf("nasm: no such address %q", pa.id)
	}
	target := v.(*Context)
	op := ctx.newOp()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	msg := wireMsg{payload: cp, from: ctx.self, tag: tag, op: op, cb: cb}
	select {
	case target.mailbox <- msg:
	default:
		return op, errors.New("nasm: peer mailbox full")
	}
	return op, nil
}

func (ctx *Context) PostSendUnexpected(buf []byte, peer na.Addr, tag uint32, cb na.SendCB) (na.OpID, error) {
	return ctx.postSend(buf, peer, tag, cb)
}

func (ctx *Context) PostSendExpected(buf []byte, peer na.Addr, tag uint32, cb na.SendCB) (na.OpID, error) {
	return ctx.postSend(buf, peer, tag, cb)
}

func (ctx *Context) Cancel(op na.OpID) error {
	ctx.cancelled.Store(op, struct{}{})
	return nil
}

// Progress drains the mailbox, matches each inbound message against posted
// expected/unexpected recv slots, and queues the resulting completions for
// Trigger to deliver: the matched recv-done on this context, the send-done
// on the sending peer's context. It never calls user code directly.
func (ctx *Context) Progress(timeout time.Duration) error {
	progressed := ctx.drainOnce()
	if progressed {
		return nil
	}
	if timeout <= 0 {
		return na.ErrTimeout
	}
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ctx.mailbox:
			ctx.handle(msg)
			return nil
		case <-deadline:
			return na.ErrTimeout
		}
	}
}

func (ctx *Context) drainOnce() bool {
	progressed := false
	for {
		select {
		case msg := <-ctx.mailbox:
			ctx.handle(msg)
			progressed = true
		default:
			return progressed
		}
	}
}

func (ctx *Context) handle(msg wireMsg) {
	// send-side: the message is off the wire, so the origin's send is done;
	// its completion goes on the sender's own context, whose op ids it carries
	if msg.cb != nil {
		if v, ok := registry.Load(msg.from.id); ok {
			v.(*Context).queue(completion{send: msg.cb, op: msg.op})
		}
	}

	slot := ctx.matchRecv(msg)
	if slot == nil {
		// no one is listening; per spec this is dropped, observed by the
		// origin later as a Timeout once its expected recv never arrives
		return
	}
	n := copy(slot.buf, msg.payload)
	ctx.queue(completion{recv: slot.cb, op: slot.op, info: na.RecvInfo{Source: msg.from, Tag: msg.tag, Size: n}})
}

func (ctx *Context) matchRecv(msg wireMsg) *recvSlot {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if slots := ctx.expected[msg.tag]; len(slots) > 0 {
		for i, s := range slots {
			if s.from.id == msg.from.id {
				ctx.expected[msg.tag] = append(slots[:i], slots[i+1:]...)
				return s
			}
		}
	}
	if len(ctx.unexpected) > 0 {
		s := ctx.unexpected[0]
		ctx.unexpected = ctx.unexpected[1:]
		return s
	}
	return nil
}

func (ctx *Context) queue(c completion) {
	if _, cancelled := ctx.cancelled.Load(c.op); cancelled {
		c.err = errors.New("na: operation cancelled")
	}
	select {
	case ctx.completions <- c:
	default:
		debug.Assert(false, "nasm: completion queue overrun")
	}
}

// Trigger delivers up to max pending completions. With timeout==0 it never
// blocks, matching the tight, zero-wait drain loop hg.Progress runs before
// it ever calls na.Context.Progress.
func (ctx *Context) Trigger(timeout time.Duration, max int) (int, error) {
	n := 0
	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = time.After(timeout)
	}
	for n < max {
		select {
		case c := <-ctx.completions:
			deliver(c)
			n++
		default:
			if n > 0 || deadline == nil {
				return n, nil
			}
			select {
			case c := <-ctx.completions:
				deliver(c)
				n++
			case <-deadline:
				return n, na.ErrTimeout
			}
		}
	}
	return n, nil
}

func deliver(c completion) {
	if c.send != nil {
		c.send(c.op, c.err)
	}
	if c.recv != nil {
		c.recv(c.op, c.info, c.err)
	}
}
