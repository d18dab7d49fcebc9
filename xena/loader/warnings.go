package loader

import "sync"

// Warnings accumulates non-fatal problems encountered during a load (spec.md
// §4.5 step 7, §7's InputError). Safe for concurrent use since field
// encoding may be parallelized across a batch (spec.md §5).
type Warnings struct {
	mu       sync.Mutex
	messages []string
}

// Add records msg.
func (w *Warnings) Add(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
}

// Messages returns a snapshot of everything recorded so far.
func (w *Warnings) Messages() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.messages))
	copy(out, w.messages)
	return out
}
