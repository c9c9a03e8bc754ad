package device

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfMemory is returned when an allocation would exceed the device limit.
var ErrOutOfMemory = errors.New("device: out of memory")

// Stats describes an allocator's usage in bytes.
type Stats struct {
	InUse  int64
	Peak   int64
	Limit  int64
	Allocs int
	Frees  int
}

// Allocator hands out device memory.
type Allocator interface {
	Alloc(size int) (Buffer, error)
	Free(Buffer)
	Stats() Stats
}

// ledger enforces a byte limit and keeps usage statistics.
type ledger struct {
	mu    sync.Mutex
	stats Stats
}

func (l *ledger) reserve(size int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if size < 0 {
		return fmt.Errorf("device: negative allocation %d", size)
	}
	if l.stats.Limit > 0 && l.stats.InUse+int64(size) > l.stats.Limit {
		return fmt.Errorf("allocating %d bytes with %d of %d in use: %w",
			size, l.stats.InUse, l.stats.Limit, ErrOutOfMemory)
	}
	l.stats.InUse += int64(size)
	l.stats.Peak = max(l.stats.Peak, l.stats.InUse)
	l.stats.Allocs++
	return nil
}

func (l *ledger) release(size int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.InUse -= int64(size)
	l.stats.Frees++
}

func (l *ledger) snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// HostAllocator allocates HostBuffers under a byte limit. A limit of zero
// means unlimited.
type HostAllocator struct {
	ledger
}

// NewHostAllocator returns an allocator capped at limit bytes.
func NewHostAllocator(limit int64) *HostAllocator {
	a := &HostAllocator{}
	a.stats.Limit = limit
	return a
}

// Alloc returns a zeroed buffer of size bytes.
func (a *HostAllocator) Alloc(size int) (Buffer, error) {
	if err := a.reserve(size); err != nil {
		return nil, err
	}
	return newHostBuffer(size), nil
}

// Free returns a buffer's bytes to the budget. Nil is ignored.
func (a *HostAllocator) Free(b Buffer) {
	if b == nil {
		return
	}
	a.release(b.Len())
}

// Stats returns current usage.
func (a *HostAllocator) Stats() Stats {
	return a.snapshot()
}
