package payout

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository keeps payout requests in a map and mirrors the one pending
// request per account constraint of the SQL schema.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]Request
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]Request)}
}

func (r *MemoryRepository) Insert(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[req.ID]; exists {
		return fmt.Errorf("payout request %s already exists", req.ID)
	}
	if req.Status == StatusPending {
		for _, existing := range r.items {
			if existing.AccountID == req.AccountID && existing.Status == StatusPending {
				return ErrAlreadyPending
			}
		}
	}
	r.items[req.ID] = req
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.items[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (Request, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) UpdateReview(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[req.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = req.Status
	cur.ReviewNotes = req.ReviewNotes
	cur.ReviewerID = req.ReviewerID
	cur.RefundLedgerEntryID = req.RefundLedgerEntryID
	cur.ReviewedAt = req.ReviewedAt
	r.items[req.ID] = cur
	return nil
}

func (r *MemoryRepository) PendingForAccount(_ context.Context, accountID string) (Request, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.items {
		if req.AccountID == accountID && req.Status == StatusPending {
			return req, true, nil
		}
	}
	return Request{}, false, nil
}

func (r *MemoryRepository) ListByAccount(_ context.Context, accountID string) ([]Request, error) {
	out := r.filter(func(req Request) bool { return req.AccountID == accountID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListPending(_ context.Context) ([]Request, error) {
	out := r.filter(func(req Request) bool { return req.Status == StatusPending })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) filter(keep func(Request) bool) []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Request
	for _, req := range r.items {
		if keep(req) {
			out = append(out, req)
		}
	}
	return out
}

// Snapshot captures the current requests and returns a func that restores them.
func (r *MemoryRepository) Snapshot() func() {
	r.mu.RLock()
	saved := make(map[string]Request, len(r.items))
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
