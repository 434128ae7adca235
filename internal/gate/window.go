package gate

// Window is a fixed-capacity FIFO of activity flags, one per hysteresis poll.
// When full, each push evicts exactly the oldest entry.
// It is not safe for concurrent use; the gate owns it for one session.
type Window struct {
	flags  []bool
	head   int // index of the oldest entry
	length int
	active int
}

// NewWindow returns an empty window holding at most capacity flags.
// A capacity below one is raised to one.
func NewWindow(capacity int) *Window {
	return &Window{flags: make([]bool, max(capacity, 1))}
}

// Push appends a flag, evicting the oldest one if the window is full.
func (w *Window) Push(active bool) {
	capacity := len(w.flags)
	if w.length == capacity {
		if w.flags[w.head] {
			w.active--
		}
		w.head = (w.head + 1) % capacity
		w.length--
	}
	w.flags[(w.head+w.length)%capacity] = active
	w.length++
	if active {
		w.active++
	}
}

// Len returns the number of flags currently held.
func (w *Window) Len() int { return w.length }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.flags) }

// Active returns the number of active flags currently held.
func (w *Window) Active() int { return w.active }

// ActiveRatio returns the fraction of held flags that are active.
// An empty window reports 1 so that it never causes a stop.
func (w *Window) ActiveRatio() float64 {
	if w.length == 0 {
		return 1
	}
	return float64(w.active) / float64(w.length)
}

// Oldest returns the oldest held flag. The second result is false when empty.
func (w *Window) Oldest() (active, ok bool) {
	if w.length == 0 {
		return false, false
	}
	return w.flags[w.head], true
}

// Reset empties the window.
func (w *Window) Reset() {
	w.head = 0
	w.length = 0
	w.active = 0
}
