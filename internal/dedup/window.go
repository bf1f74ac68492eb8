package dedup

import "sync"

const (
	// DefaultMaxSize is the window bound before eviction runs.
	DefaultMaxSize = 1000
)

// Window is a bounded, insertion-ordered set of recently seen fingerprints.
// When it grows past maxSize, only the newest half is kept. Reads do not
// refresh an entry's position.
//
// Window is safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	maxSize int
	keep    int
	order   []Fingerprint
	members map[Fingerprint]struct{}
}

// NewWindow creates an empty window. A non-positive maxSize uses DefaultMaxSize.
func NewWindow(maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	keep := maxSize / 2
	if keep == 0 {
		keep = 1
	}
	return &Window{
		maxSize: maxSize,
		keep:    keep,
		order:   make([]Fingerprint, 0, maxSize+1),
		members: make(map[Fingerprint]struct{}, maxSize+1),
	}
}

// Seen reports whether fp is currently in the window.
func (w *Window) Seen(fp Fingerprint) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.members[fp]
	return ok
}

// Record adds fp. Recording a present fingerprint does nothing.
func (w *Window) Record(fp Fingerprint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recordLocked(fp)
}

// MarkSeen records fp and reports whether it was already present, as one
// atomic step.
func (w *Window) MarkSeen(fp Fingerprint) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.members[fp]; ok {
		return true
	}
	w.recordLocked(fp)
	return false
}

// Len returns the number of fingerprints held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

func (w *Window) recordLocked(fp Fingerprint) {
	if _, ok := w.members[fp]; ok {
		return
	}
	w.order = append(w.order, fp)
	w.members[fp] = struct{}{}

	if len(w.order) <= w.maxSize {
		return
	}
	evict := len(w.order) - w.keep
	for _, old := range w.order[:evict] {
		delete(w.members, old)
	}
	remaining := make([]Fingerprint, w.keep, w.maxSize+1)
	copy(remaining, w.order[evict:])
	w.order = remaining
}
