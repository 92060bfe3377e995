package analytics

import (
	"context"
	"sync"
)

// RenderTracker cancels a page render when a newer render of the same page
// starts for the same session, so stale results never overwrite fresh ones.
type RenderTracker struct {
	mu     sync.Mutex
	seq    uint64
	active map[string]render
}

type render struct {
	id     uint64
	cancel context.CancelFunc
}

// NewRenderTracker constructs an empty tracker.
func NewRenderTracker() *RenderTracker {
	return &RenderTracker{active: make(map[string]render)}
}

// Begin registers a render under key and cancels the previous one. The
// returned done func must be called when the render finishes.
func (t *RenderTracker) Begin(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.seq++
	id := t.seq
	if prev, ok := t.active[key]; ok {
		prev.cancel()
	}
	t.active[key] = render{id: id, cancel: cancel}
	t.mu.Unlock()

	return ctx, func() {
		t.mu.Lock()
		if cur, ok := t.active[key]; ok && cur.id == id {
			delete(t.active, key)
		}
		t.mu.Unlock()
		cancel()
	}
}

// Active reports the number of renders in flight.
func (t *RenderTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// RenderKey identifies a render slot.
func RenderKey(sessionID, page string) string {
	return sessionID + "|" + page
}
