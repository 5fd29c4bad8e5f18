package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryState is the single-process fallback for RedisState.
type MemoryState struct {
	mu      sync.Mutex
	windows map[int64]*rateWindow
	marks   map[string]time.Time
	now     func() time.Time
}

type rateWindow struct {
	count     int
	expiresAt time.Time
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		windows: make(map[int64]*rateWindow),
		marks:   make(map[string]time.Time),
		now:     time.Now,
	}
}

func (r *MemoryState) CheckRateLimit(_ context.Context, actorID int64, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[actorID]
	if !ok || !now.Before(w.expiresAt) {
		w = &rateWindow{expiresAt: now.Add(window)}
		r.windows[actorID] = w
	}
	w.count++
	return w.count <= limit, nil
}

func (r *MemoryState) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if exp, ok := r.marks[key]; ok && now.Before(exp) {
		return false, nil
	}
	r.marks[key] = now.Add(ttl)
	return true, nil
}

func (r *MemoryState) Unmark(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.marks, key)
	r.mu.Unlock()
	return nil
}

// Sweep drops expired windows and marks.
func (r *MemoryState) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, w := range r.windows {
		if !now.Before(w.expiresAt) {
			delete(r.windows, id)
		}
	}
	for k, exp := range r.marks {
		if !now.Before(exp) {
			delete(r.marks, k)
		}
	}
}
