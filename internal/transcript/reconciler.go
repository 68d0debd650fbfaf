// Package transcript merges the per-item delta stream and final
// messages into a single gap-free callback sequence.
package transcript

import (
	"sync"

	"murmur/internal/domain"
)

// Reconciler tracks one active transcript item at a time. For any item,
// the concatenation of every delta emitted up to and including the
// final equals the final text exactly.
type Reconciler struct {
	emitDelta func(text string)
	emitFinal func(text string)
	status    func(status string)

	mu          sync.Mutex
	activeItem  string
	accumulated int
}

// New creates a reconciler. The callbacks must be non-nil; status may
// be nil for hosts that do not track it.
func New(emitDelta, emitFinal func(text string), status func(status string)) *Reconciler {
	return &Reconciler{emitDelta: emitDelta, emitFinal: emitFinal, status: status}
}

// Reset discards the active item and its accumulated text.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeItem = ""
	r.accumulated = 0
}

// Delta appends an incremental chunk for an item. A new item id starts
// a new utterance and discards the previous buffer.
func (r *Reconciler) Delta(itemID, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if itemID != r.activeItem {
		r.activeItem = itemID
		r.accumulated = 0
	}
	if delta == "" {
		return
	}
	r.accumulated += len(delta)
	r.emitDelta(delta)
}

// Final closes out an item. Any trailing text the deltas never covered
// is emitted through the delta callback first, so the concatenation
// invariant holds even when no deltas arrived at all.
func (r *Reconciler) Final(itemID, finalText string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if itemID != r.activeItem {
		r.activeItem = itemID
		r.accumulated = 0
	}
	if len(finalText) > r.accumulated {
		r.emitDelta(finalText[r.accumulated:])
	}
	if finalText != "" {
		r.emitFinal(finalText)
	}

	r.activeItem = ""
	r.accumulated = 0
	if r.status != nil {
		r.status(domain.StatusReady)
	}
}
