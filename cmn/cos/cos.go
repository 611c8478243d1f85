// Package cos provides common low-level types and utilities for the RPC
// engine and its collaborators (network layer, header codec, bulk layer).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// HashString is the 32-bit string hash used to turn an RPC name into its
// registry id (see hg.Class.Register). Two distinct names may collide;
// callers are expected to handle that explicitly rather than relying on
// chance.
func HashString(s string) uint32 {
	return xxhash.ChecksumString32(s)
}

// Checksum32 hashes a byte slice, used by the header codec to fill the
// integrity field that header.VerifyRequest/VerifyResponse check on the
// receiving side.
func Checksum32(b []byte) uint32 {
	return xxhash.Checksum32(b)
}

type ErrNotFound struct{ what string }

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

// StopCh is a closeable, idempotent broadcast signal - the aistore idiom for
// telling one or many goroutines to stop without panicking on double-close.
type StopCh struct {
	ch   chan struct{}
	once sync.Once
}

func (s *StopCh) Init() { s.ch = make(chan struct{}) }

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() { s.once.Do(func() { close(s.ch) }) }
