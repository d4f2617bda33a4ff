// Package memory provides the scoped allocation primitives used by the
// connection loop: a bump-pointer Arena for request-scoped data, a Tracker
// for individually-managed blocks that may grow, a Destructors stack, and a
// Scope bundling the three for the lifetime of one connection.
//
// Lifetimes:
//   - Per request: Scope.Reset clears the Tracker and the Arena. Chunks beyond
//     the first are returned to the Heap.
//   - Per connection: Scope.Close runs the destructors in LIFO order, which
//     destroys the Arena and then the Tracker.
//
// None of the types in this package are safe for concurrent use. A Scope
// belongs to exactly one connection goroutine.
package memory

import (
	"sync"
	"sync/atomic"
)

// Heap is the backing store for arena chunks, tracked blocks and stream
// buffers. Alloc returns a slice of len size; its capacity may be larger.
// Free must be passed a slice previously returned by Alloc on the same Heap
// (any re-slicing that keeps the capacity is fine).
type Heap interface {
	Alloc(size int) []byte
	Free(b []byte)
}

// Runtime is a Heap backed directly by the Go allocator. Free is a no-op.
var Runtime Heap = runtimeHeap{}

type runtimeHeap struct{}

func (runtimeHeap) Alloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	return make([]byte, size)
}

func (runtimeHeap) Free([]byte) {}

// Size classes served by PoolHeap. Larger requests bypass the pools.
const (
	ClassSize1KB  = 1 << 10
	ClassSize2KB  = 2 << 10
	ClassSize4KB  = 4 << 10
	ClassSize8KB  = 8 << 10
	ClassSize16KB = 16 << 10
	ClassSize32KB = 32 << 10
	ClassSize64KB = 64 << 10
)

var classSizes = [...]int{
	ClassSize1KB,
	ClassSize2KB,
	ClassSize4KB,
	ClassSize8KB,
	ClassSize16KB,
	ClassSize32KB,
	ClassSize64KB,
}

// PoolHeap is a Heap that recycles buffers through size-classed sync.Pools.
// It is safe for concurrent use and is normally shared by every connection
// of a server, each wrapping it in its own LimitHeap.
type PoolHeap struct {
	classes [len(classSizes)]*sizeClass

	large    atomic.Uint64 // allocations above the largest class
	discards atomic.Uint64 // frees that matched no class
}

type sizeClass struct {
	size int
	pool sync.Pool

	gets   atomic.Uint64
	puts   atomic.Uint64
	misses atomic.Uint64
}

func newSizeClass(size int) *sizeClass {
	sc := &sizeClass{size: size}
	sc.pool.New = func() any {
		sc.misses.Add(1)
		buf := make([]byte, size)
		return &buf
	}
	return sc
}

// NewPoolHeap creates a PoolHeap with empty pools.
func NewPoolHeap() *PoolHeap {
	h := &PoolHeap{}
	for i, size := range classSizes {
		h.classes[i] = newSizeClass(size)
	}
	return h
}

func (h *PoolHeap) class(size int) *sizeClass {
	for _, sc := range h.classes {
		if size <= sc.size {
			return sc
		}
	}
	return nil
}

// Alloc returns a buffer of len size from the smallest class that fits.
// The contents are not zeroed.
func (h *PoolHeap) Alloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	sc := h.class(size)
	if sc == nil {
		h.large.Add(1)
		return make([]byte, size)
	}
	sc.gets.Add(1)
	buf := *sc.pool.Get().(*[]byte)
	return buf[:size]
}

// Free returns b to the pool of its class. Buffers whose capacity is not
// exactly a class size are dropped for the garbage collector.
func (h *PoolHeap) Free(b []byte) {
	if b == nil {
		return
	}
	c := cap(b)
	for _, sc := range h.classes {
		if c == sc.size {
			sc.puts.Add(1)
			b = b[:c]
			sc.pool.Put(&b)
			return
		}
	}
	h.discards.Add(1)
}

// ClassStats is a snapshot of one size class.
type ClassStats struct {
	Size   int
	Gets   uint64
	Puts   uint64
	Hits   uint64
	Misses uint64
}

// HeapStats is a snapshot of a PoolHeap.
type HeapStats struct {
	Classes  []ClassStats
	Large    uint64
	Discards uint64
}

// Stats returns a snapshot of the pool counters.
func (h *PoolHeap) Stats() HeapStats {
	st := HeapStats{
		Classes:  make([]ClassStats, 0, len(h.classes)),
		Large:    h.large.Load(),
		Discards: h.discards.Load(),
	}
	for _, sc := range h.classes {
		gets, misses := sc.gets.Load(), sc.misses.Load()
		hits := uint64(0)
		if gets > misses {
			hits = gets - misses
		}
		st.Classes = append(st.Classes, ClassStats{
			Size:   sc.size,
			Gets:   gets,
			Puts:   sc.puts.Load(),
			Hits:   hits,
			Misses: misses,
		})
	}
	return st
}

// LimitHeap enforces a byte budget on top of another Heap. Capacity, not
// length, is charged against the budget, so pooled buffers count at their
// class size.
//
// When an allocation would exceed the budget, Alloc panics with
// ErrOutOfMemory. The connection loop recovers that panic and closes only the
// offending connection.
type LimitHeap struct {
	heap  Heap
	limit int
	inUse int
	peak  int
}

// NewLimitHeap wraps heap with a budget of limit bytes. A limit <= 0 disables
// the check but keeps the accounting.
func NewLimitHeap(heap Heap, limit int) *LimitHeap {
	if heap == nil {
		heap = Runtime
	}
	return &LimitHeap{heap: heap, limit: limit}
}

func (h *LimitHeap) Alloc(size int) []byte {
	b := h.heap.Alloc(size)
	if b == nil {
		return nil
	}
	if h.limit > 0 && h.inUse+cap(b) > h.limit {
		h.heap.Free(b)
		panic(ErrOutOfMemory)
	}
	h.inUse += cap(b)
	if h.inUse > h.peak {
		h.peak = h.inUse
	}
	return b
}

func (h *LimitHeap) Free(b []byte) {
	if b == nil {
		return
	}
	h.inUse -= cap(b)
	h.heap.Free(b)
}

// InUse reports the bytes currently charged against the budget.
func (h *LimitHeap) InUse() int { return h.inUse }

// Peak reports the highest InUse value observed.
func (h *LimitHeap) Peak() int { return h.peak }

// Limit reports the configured budget.
func (h *LimitHeap) Limit() int { return h.limit }
