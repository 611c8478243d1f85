package hg

import (
	"sync"

	"github.com/NVIDIA/hg/bulk"
	"github.com/NVIDIA/hg/cmn/atomic"
	"github.com/NVIDIA/hg/cmn/cos"
	"github.com/NVIDIA/hg/na"
)

// HandlerFunc is a target-side RPC callback: the registered handler for one
// RPC id. It receives the handle the listen pump dispatched and is
// expected to eventually call Respond on it.
type HandlerFunc func(h *Handle)

type rpcInfo struct {
	handler HandlerFunc
	data    any
	free    func(any)
}

// Class is the process-scoped registry: RPC id -> callback, the shared tag
// allocator, and the network/bulk class references every Context and
// Handle created under it borrows.
type Class struct {
	net       na.Class
	bulkClass *bulk.Class
	bulkOwned bool

	mu       sync.RWMutex
	registry map[uint32]*rpcInfo

	tag    atomic.Uint32
	maxTag uint32
}

// NewClass binds a Class to a network class. If bulkClass is nil, the Class
// constructs and owns its own bulk.Class; otherwise the caller's bulk class
// is borrowed and must outlive this Class.
func NewClass(net na.Class, bulkClass *bulk.Class) (*Class, error) {
	if net == nil {
		return nil, ErrInvalidParam
	}
	c := &Class{
		net:      net,
		registry: make(map[uint32]*rpcInfo),
		maxTag:   net.MaxTag(),
	}
	if bulkClass != nil {
		c.bulkClass = bulkClass
	} else {
		b, err := bulk.Init()
		if err != nil {
			return nil, wrapNoMem(err)
		}
		c.bulkClass, c.bulkOwned = b, true
	}
	return c, nil
}

// Finalize tears down the owned bulk class (if any) and the registry,
// invoking each entry's free callback on its user data. Idempotent on nil.
func (c *Class) Finalize() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bulkOwned && c.bulkClass != nil {
		if err := c.bulkClass.Finalize(); err != nil {
			return err
		}
	}
	for _, info := range c.registry {
		if info.free != nil {
			info.free(info.data)
		}
	}
	c.registry = nil
	return nil
}

// Register assigns name the 32-bit string hash of name as its RPC id and
// stores cb as its target-side handler. Two distinct names hashing to the
// same id is a real, if rare, possibility; rather than silently letting the
// second registration overwrite the first (as the reference C
// implementation does), Register rejects the collision and returns 0 -
// indistinguishable from an allocation failure, exactly as the spec allows.
func (c *Class) Register(name string, cb HandlerFunc) uint32 {
	id := cos.HashString(name)
	if id == 0 || cb == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.registry[id]; exists {
		return 0
	}
	c.registry[id] = &rpcInfo{handler: cb}
	return id
}

// Registered is a pure lookup: it never mutates the registry.
func (c *Class) Registered(name string) (bool, uint32) {
	id := cos.HashString(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.registry[id]; !ok {
		return false, 0
	}
	return true, id
}

// RegisterData attaches user state to an existing registration.
func (c *Class) RegisterData(id uint32, data any, free func(any)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.registry[id]
	if !ok {
		return ErrInvalidParam
	}
	info.data, info.free = data, free
	return nil
}

// RegisteredData retrieves the user state RegisterData attached, or nil.
func (c *Class) RegisteredData(id uint32) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.registry[id]
	if !ok {
		return nil
	}
	return info.data
}

func (c *Class) lookup(id uint32) (*rpcInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.registry[id]
	return info, ok
}

// nextTag is the monotonic wrap-around tag generator: a direct translation
// of the reference allocator's unconditional CAS-then-increment, tags
// collide only with very old, already-completed exchanges in practice.
func (c *Class) nextTag() uint32 {
	if c.tag.CAS(c.maxTag, 0) {
		return 0
	}
	return c.tag.Add(1)
}
