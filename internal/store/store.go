// Package store provides the unit of work every settlement operation runs in.
// Repositories are only reachable through a Tx, so a business change and the
// ledger entries and events it causes commit or roll back together.
package store

import (
	"context"

	"github.com/linyora/settlement/internal/agreement"
	"github.com/linyora/settlement/internal/clearance"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/outbox"
	"github.com/linyora/settlement/internal/payout"
	"github.com/linyora/settlement/internal/wallet"
)

// Tx is an open unit of work.
type Tx interface {
	Ledger() ledger.Repository
	Agreements() agreement.Repository
	Payouts() payout.Repository
	Outbox() outbox.Repository
	// LockAccount serializes units of work touching the same account's
	// balance until this one ends.
	LockAccount(ctx context.Context, accountID string) error
}

// Store runs fn in a unit of work. A nil return commits; any error rolls
// everything back and is returned unchanged.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Runner narrows a Store to the transaction view a feature package declares.
type Runner[T any] struct {
	store Store
	view  func(Tx) T
}

func NewRunner[T any](s Store, view func(Tx) T) Runner[T] {
	return Runner[T]{store: s, view: view}
}

func (r Runner[T]) InTx(ctx context.Context, fn func(ctx context.Context, tx T) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, r.view(tx))
	})
}

func AgreementRunner(s Store) Runner[agreement.Tx] {
	return NewRunner(s, func(tx Tx) agreement.Tx { return tx })
}

func PayoutRunner(s Store) Runner[payout.Tx] {
	return NewRunner(s, func(tx Tx) payout.Tx { return tx })
}

func ClearanceRunner(s Store) Runner[clearance.Tx] {
	return NewRunner(s, func(tx Tx) clearance.Tx { return tx })
}

func OutboxRunner(s Store) Runner[outbox.Tx] {
	return NewRunner(s, func(tx Tx) outbox.Tx { return tx })
}

func WalletRunner(s Store) Runner[wallet.Tx] {
	return NewRunner(s, func(tx Tx) wallet.Tx { return tx })
}
