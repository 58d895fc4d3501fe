package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps events in a map keyed by id.
type MemoryRepository struct {
	mu     sync.RWMutex
	events map[string]Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{events: make(map[string]Event)}
}

func (r *MemoryRepository) Insert(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.events[ev.ID]; exists {
		return fmt.Errorf("outbox event %s already exists", ev.ID)
	}
	r.events[ev.ID] = ev
	return nil
}

func (r *MemoryRepository) Claim(_ context.Context, now, leaseUntil time.Time, maxAttempts, limit int) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.DispatchedAt != nil || ev.Attempts >= maxAttempts {
			continue
		}
		if ev.ClaimedUntil != nil && ev.ClaimedUntil.After(now) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		until := leaseUntil
		out[i].ClaimedUntil = &until
		r.events[out[i].ID] = out[i]
	}
	return out, nil
}

func (r *MemoryRepository) MarkDispatched(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return fmt.Errorf("outbox event %s not found", id)
	}
	ev.Attempts++
	ev.DispatchedAt = &at
	ev.ClaimedUntil = nil
	r.events[id] = ev
	return nil
}

func (r *MemoryRepository) MarkFailed(_ context.Context, id string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return fmt.Errorf("outbox event %s not found", id)
	}
	ev.Attempts++
	ev.LastError = reason
	ev.ClaimedUntil = nil
	r.events[id] = ev
	return nil
}

// ByTopic returns every stored event with the given topic, oldest first.
func (r *MemoryRepository) ByTopic(topic string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Snapshot captures the current events and returns a func that restores them.
func (r *MemoryRepository) Snapshot() func() {
	r.mu.RLock()
	saved := make(map[string]Event, len(r.events))
	for k, v := range r.events {
		saved[k] = v
	}
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.events = saved
		r.mu.Unlock()
	}
}
