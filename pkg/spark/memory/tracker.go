package memory

import "unsafe"

// entry records one tracked allocation. prev is the address a Realloc moved
// away from, or zero.
type entry struct {
	block []byte
	prev  uintptr
}

// Tracker records individually-managed heap blocks so they can be released
// in bulk. Blocks may grow through Realloc; at Reset only the final block of
// each chain is freed, exactly once.
//
// Only blocks without Go pointers inside belong here. Keep structured
// request data in the Arena.
type Tracker struct {
	heap        Heap
	entries     []entry
	outstanding int
	released    bool
}

// NewTracker creates an empty tracker drawing from heap.
// A nil heap means Runtime.
func NewTracker(heap Heap) *Tracker {
	if heap == nil {
		heap = Runtime
	}
	return &Tracker{heap: heap}
}

func addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Alloc returns a tracked block of len size.
func (t *Tracker) Alloc(size int) []byte {
	if t.released {
		panic(ErrReleased)
	}
	b := t.heap.Alloc(size)
	if b == nil {
		return nil
	}
	t.entries = append(t.entries, entry{block: b})
	t.outstanding++
	return b
}

// Realloc resizes a tracked block. When b has room for size bytes the same
// block is returned. Otherwise the contents move to a new block, b is freed
// and must not be used again. A nil b behaves like Alloc.
func (t *Tracker) Realloc(b []byte, size int) []byte {
	if t.released {
		panic(ErrReleased)
	}
	if b == nil {
		return t.Alloc(size)
	}
	if cap(b) >= size {
		return b[:size]
	}
	nb := t.heap.Alloc(size)
	copy(nb, b)
	prev := addr(b)
	t.heap.Free(b)
	t.entries = append(t.entries, entry{block: nb, prev: prev})
	return nb
}

// Outstanding returns the number of allocation chains to be freed.
func (t *Tracker) Outstanding() int { return t.outstanding }

// release frees the final block of every chain. Entries are processed in
// order: a Realloc removes the address it moved from before its new address
// is inserted, so an address the heap handed out again later is still freed
// only once.
func (t *Tracker) release() {
	if t.outstanding == 0 {
		return
	}
	live := make(map[uintptr][]byte, 2*t.outstanding)
	for _, e := range t.entries {
		if e.prev != 0 {
			delete(live, e.prev)
		}
		live[addr(e.block)] = e.block
	}
	for _, b := range live {
		t.heap.Free(b)
	}
}

// Reset frees all tracked blocks and keeps the entry list for reuse.
func (t *Tracker) Reset() {
	if t.released {
		panic(ErrReleased)
	}
	t.release()
	clear(t.entries)
	t.entries = t.entries[:0]
	t.outstanding = 0
}

// Destroy frees all tracked blocks and the entry list. Any further use
// panics. Destroying twice is a no-op.
func (t *Tracker) Destroy() {
	if t.released {
		return
	}
	t.release()
	t.entries = nil
	t.outstanding = 0
	t.released = true
}
