package store

import (
	"context"
	"sync"

	"github.com/linyora/settlement/internal/agreement"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/outbox"
	"github.com/linyora/settlement/internal/payout"
)

// Memory is an in-process store for tests and local development. Units of
// work run one at a time; a failed one is undone by restoring snapshots.
type Memory struct {
	mu         sync.Mutex
	ledger     *ledger.MemoryRepository
	agreements *agreement.MemoryRepository
	payouts    *payout.MemoryRepository
	outbox     *outbox.MemoryRepository
}

func NewMemory() *Memory {
	return &Memory{
		ledger:     ledger.NewMemoryRepository(),
		agreements: agreement.NewMemoryRepository(),
		payouts:    payout.NewMemoryRepository(),
		outbox:     outbox.NewMemoryRepository(),
	}
}

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	restores := []func(){
		m.ledger.Snapshot(),
		m.agreements.Snapshot(),
		m.payouts.Snapshot(),
		m.outbox.Snapshot(),
	}
	rollback := func() {
		for _, restore := range restores {
			restore()
		}
	}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, memoryTx{m: m}); err != nil {
		rollback()
		return err
	}
	return nil
}

// LedgerEntries returns every entry written so far.
func (m *Memory) LedgerEntries() []ledger.Entry { return m.ledger.All() }

// Events returns the outbox events stored for topic.
func (m *Memory) Events(topic string) []outbox.Event { return m.outbox.ByTopic(topic) }

// SeedEntry inserts a ledger entry outside of any business flow. Tests use it
// to set up balances and entry ages.
func (m *Memory) SeedEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	var out ledger.Entry
	err := m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = ledger.Record(ctx, tx.Ledger(), e)
		return err
	})
	return out, err
}

type memoryTx struct {
	m *Memory
}

func (t memoryTx) Ledger() ledger.Repository        { return t.m.ledger }
func (t memoryTx) Agreements() agreement.Repository { return t.m.agreements }
func (t memoryTx) Payouts() payout.Repository       { return t.m.payouts }
func (t memoryTx) Outbox() outbox.Repository        { return t.m.outbox }

// LockAccount is a no-op: the store mutex already serializes units of work.
func (t memoryTx) LockAccount(context.Context, string) error { return nil }
