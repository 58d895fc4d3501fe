package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps entries in a slice. It backs the in-memory store used
// by tests and local development.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryRepository returns an empty ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Insert(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRepository) Balances(_ context.Context, accountID string) (Balances, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Summarize(accountID, r.entries), nil
}

func (r *MemoryRepository) List(_ context.Context, accountID string, limit int) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ClearMatured(_ context.Context, cutoff, now time.Time) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cleared []Entry
	for i, e := range r.entries {
		if e.Status != StatusPendingClearance || e.CreatedAt.After(cutoff) {
			continue
		}
		stamp := now
		e.Status = StatusCleared
		e.ClearedAt = &stamp
		r.entries[i] = e
		cleared = append(cleared, e)
	}
	return cleared, nil
}

// All returns a copy of every entry across accounts.
func (r *MemoryRepository) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}

// Snapshot captures the current entries and returns a func that restores them.
func (r *MemoryRepository) Snapshot() func() {
	r.mu.RLock()
	saved := append([]Entry(nil), r.entries...)
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.entries = saved
		r.mu.Unlock()
	}
}
