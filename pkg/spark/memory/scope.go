package memory

// Scope owns the memory of one connection: an Arena, a Tracker and the
// Destructors that release them. It is passed explicitly to everything that
// allocates on behalf of the connection.
type Scope struct {
	heap    Heap
	arena   *Arena
	tracker *Tracker
	dtors   Destructors
	onReset []func()
	closed  bool
}

// NewScope creates the tracker and the arena for a connection and attaches
// their destructors, tracker first, so Close destroys the arena before the
// tracker.
func NewScope(heap Heap) *Scope {
	if heap == nil {
		heap = Runtime
	}
	s := &Scope{heap: heap}
	s.tracker = NewTracker(heap)
	s.dtors.Attach(s.tracker.Destroy)
	s.arena = NewArena(heap)
	s.dtors.Attach(s.arena.Destroy)
	return s
}

// Heap returns the heap the scope draws from.
func (s *Scope) Heap() Heap { return s.heap }

// Arena returns the request-scoped arena.
func (s *Scope) Arena() *Arena { return s.arena }

// Tracker returns the tracker of individually-managed blocks.
func (s *Scope) Tracker() *Tracker { return s.tracker }

// Defer attaches fn to run when the connection closes. Callbacks run in
// reverse order of attachment, before the arena and tracker are destroyed.
func (s *Scope) Defer(fn func()) {
	s.dtors.Attach(fn)
}

// OnReset registers fn to run at the start of every Reset. Components that
// keep per-request views into the arena use it to drop them.
func (s *Scope) OnReset(fn func()) {
	s.onReset = append(s.onReset, fn)
}

// Reset ends the current request: hooks run, then the tracker and the arena
// are cleared.
func (s *Scope) Reset() {
	for _, fn := range s.onReset {
		fn()
	}
	s.tracker.Reset()
	s.arena.Reset()
}

// Close runs the destructors. It is safe to call more than once.
func (s *Scope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.onReset = nil
	s.dtors.Run()
}

// Closed reports whether Close has run.
func (s *Scope) Closed() bool { return s.closed }
