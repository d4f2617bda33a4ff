package memory

// Destructors is a stack of cleanup callbacks run in reverse order of
// attachment.
type Destructors struct {
	fns []func()
}

// Attach pushes fn onto the stack.
func (d *Destructors) Attach(fn func()) {
	d.fns = append(d.fns, fn)
}

// Run calls every attached callback, last attached first, and empties the
// stack.
func (d *Destructors) Run() {
	for i := len(d.fns) - 1; i >= 0; i-- {
		fn := d.fns[i]
		d.fns[i] = nil
		fn()
	}
	d.fns = d.fns[:0]
}

// Len returns the number of pending callbacks.
func (d *Destructors) Len() int { return len(d.fns) }
