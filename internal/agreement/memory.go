package agreement

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository keeps agreements in a map. Row locks are implied by the
// in-memory store serializing units of work.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]Agreement
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]Agreement)}
}

func (r *MemoryRepository) Insert(_ context.Context, a Agreement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[a.ID]; exists {
		return fmt.Errorf("agreement %s already exists", a.ID)
	}
	r.items[a.ID] = a
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Agreement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return Agreement{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (Agreement, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) Update(_ context.Context, a Agreement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ID]; !ok {
		return ErrNotFound
	}
	r.items[a.ID] = a
	return nil
}

func (r *MemoryRepository) ListByParty(_ context.Context, accountID string) ([]Agreement, error) {
	return r.filter(func(a Agreement) bool {
		return a.RequesterID == accountID || a.ProviderID == accountID
	}), nil
}

func (r *MemoryRepository) ListByCaptureState(_ context.Context, states ...CaptureState) ([]Agreement, error) {
	return r.filter(func(a Agreement) bool {
		for _, s := range states {
			if a.CaptureState == s {
				return true
			}
		}
		return false
	}), nil
}

func (r *MemoryRepository) filter(keep func(Agreement) bool) []Agreement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Agreement
	for _, a := range r.items {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Snapshot captures the current agreements and returns a func that restores them.
func (r *MemoryRepository) Snapshot() func() {
	r.mu.RLock()
	saved := make(map[string]Agreement, len(r.items))
	for k, v := range r.items {
		saved[k] = v
	}
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.items = saved
		r.mu.Unlock()
	}
}
