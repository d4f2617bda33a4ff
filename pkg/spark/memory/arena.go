package memory

import (
	"strconv"
	"unsafe"
)

// PageSize is the capacity of a regular arena chunk.
const PageSize = 4096

// maxSkipStreak is the number of consecutive allocations served past the
// first open chunk before the scan start is moved forward.
const maxSkipStreak = 3

type chunk struct {
	buf  []byte // len(buf) is the usable capacity
	used int
}

// Arena is a bump-pointer allocator over a list of chunks.
//
// Allocations are never freed individually. Reset releases everything at
// once and keeps the first chunk for reuse; Destroy releases every chunk.
// Slices returned by Alloc are valid until the next Reset or Destroy.
//
// The scan for free room starts at openFrom. When three allocations in a row
// are served from a chunk other than openFrom, openFrom jumps to the chunk
// that served the last one, so nearly-full leading chunks stop being
// rescanned.
type Arena struct {
	heap   Heap
	chunks []chunk

	openFrom   int
	lastServed int
	skipStreak int

	generation uint64
	released   bool
}

// NewArena creates an arena with one PageSize chunk drawn from heap.
// A nil heap means Runtime.
func NewArena(heap Heap) *Arena {
	if heap == nil {
		heap = Runtime
	}
	a := &Arena{heap: heap}
	a.chunks = append(a.chunks, chunk{buf: heap.Alloc(PageSize)})
	return a
}

// alignedOffset returns the first offset at or after c.used whose address is
// a multiple of align.
func (c *chunk) alignedOffset(align int) int {
	if align == 1 || len(c.buf) == 0 {
		return c.used
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(c.buf)))
	addr := base + uintptr(c.used)
	mask := uintptr(align - 1)
	return int((addr+mask)&^mask - base)
}

// Alloc returns size bytes aligned to align, which must be a power of two
// (zero is treated as 1). The bytes are not zeroed.
func (a *Arena) Alloc(size, align int) []byte {
	if a.released {
		panic(ErrReleased)
	}
	if align <= 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		panic(ErrAlignment)
	}

	served := -1
	off := 0
	for i := a.openFrom; i < len(a.chunks); i++ {
		c := &a.chunks[i]
		o := c.alignedOffset(align)
		if o+size <= len(c.buf) {
			served, off = i, o
			break
		}
	}

	if served < 0 {
		capacity := PageSize
		if size > PageSize {
			capacity = size
		}
		buf := a.heap.Alloc(capacity)
		c := chunk{buf: buf}
		if o := c.alignedOffset(align); o+size > len(buf) {
			// The heap handed back an address that cannot hold an aligned
			// block of this size; take the padding on top.
			a.heap.Free(buf)
			c.buf = a.heap.Alloc(capacity + align - 1)
		}
		a.chunks = append(a.chunks, c)
		served = len(a.chunks) - 1
		off = a.chunks[served].alignedOffset(align)
	}

	c := &a.chunks[served]
	c.used = off + size
	a.lastServed = served

	if served == a.openFrom {
		a.skipStreak = 0
	} else {
		a.skipStreak++
	}
	if a.skipStreak >= maxSkipStreak {
		a.openFrom = served
		a.skipStreak = 0
	}

	return c.buf[off : off+size : off+size]
}

// GiveBack returns the trailing size bytes of the chunk that served the most
// recent Alloc. It is only meaningful right after that Alloc, when the block
// turned out larger than needed.
func (a *Arena) GiveBack(size int) {
	if a.released {
		panic(ErrReleased)
	}
	c := &a.chunks[a.lastServed]
	if size < 0 || size > c.used {
		panic(ErrGiveBack)
	}
	c.used -= size
}

// Checkpoint is an arena position returned by Mark.
type Checkpoint struct {
	generation uint64
	used       []int
	openFrom   int
	lastServed int
	skipStreak int
}

// Mark records the current arena position. Everything allocated after Mark
// can be released with Rollback.
func (a *Arena) Mark() Checkpoint {
	if a.released {
		panic(ErrReleased)
	}
	cp := Checkpoint{
		generation: a.generation,
		used:       make([]int, len(a.chunks)),
		openFrom:   a.openFrom,
		lastServed: a.lastServed,
		skipStreak: a.skipStreak,
	}
	for i := range a.chunks {
		cp.used[i] = a.chunks[i].used
	}
	return cp
}

// Rollback releases every allocation made since cp was taken. Chunks added
// after the mark go back to the heap.
func (a *Arena) Rollback(cp Checkpoint) {
	if a.released {
		panic(ErrReleased)
	}
	if cp.generation != a.generation || len(cp.used) > len(a.chunks) {
		panic(ErrCheckpoint)
	}
	for i := len(cp.used); i < len(a.chunks); i++ {
		a.heap.Free(a.chunks[i].buf)
		a.chunks[i] = chunk{}
	}
	a.chunks = a.chunks[:len(cp.used)]
	for i, used := range cp.used {
		a.chunks[i].used = used
	}
	a.openFrom = cp.openFrom
	a.lastServed = cp.lastServed
	a.skipStreak = cp.skipStreak
}

// Reset makes the whole arena available again. The first chunk is kept;
// the others are returned to the heap.
func (a *Arena) Reset() {
	if a.released {
		panic(ErrReleased)
	}
	for i := 1; i < len(a.chunks); i++ {
		a.heap.Free(a.chunks[i].buf)
		a.chunks[i] = chunk{}
	}
	a.chunks = a.chunks[:1]
	a.chunks[0].used = 0
	a.openFrom = 0
	a.lastServed = 0
	a.skipStreak = 0
	a.generation++
}

// Destroy returns every chunk to the heap. Any further use panics.
// Destroying twice is a no-op.
func (a *Arena) Destroy() {
	if a.released {
		return
	}
	for i := range a.chunks {
		a.heap.Free(a.chunks[i].buf)
		a.chunks[i] = chunk{}
	}
	a.chunks = nil
	a.released = true
}

// Bytes copies b into the arena.
func (a *Arena) Bytes(b []byte) []byte {
	dst := a.Alloc(len(b), 1)
	copy(dst, b)
	return dst
}

// String copies b into the arena and returns it as a string. The string
// shares the arena's lifetime.
func (a *Arena) String(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	dst := a.Bytes(b)
	return unsafe.String(unsafe.SliceData(dst), len(dst))
}

// FormatInt renders n in base 10 into the arena.
func (a *Arena) FormatInt(n int64) []byte {
	const maxLen = 20 // len("-9223372036854775808")
	buf := a.Alloc(maxLen, 1)
	out := strconv.AppendInt(buf[:0], n, 10)
	a.GiveBack(maxLen - len(out))
	return out
}

// ArenaStats describes the current arena footprint.
type ArenaStats struct {
	Chunks   int
	Used     int
	Capacity int
}

// Stats returns the number of chunks and the bytes used and reserved.
func (a *Arena) Stats() ArenaStats {
	var st ArenaStats
	for i := range a.chunks {
		st.Chunks++
		st.Used += a.chunks[i].used
		st.Capacity += len(a.chunks[i].buf)
	}
	return st
}
