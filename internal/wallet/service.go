package wallet

import (
	"context"
	"time"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/identity"
	"github.com/linyora/settlement/internal/ledger"
)

const defaultStatementLimit = 50

// Tx is the ledger view a wallet read needs.
type Tx interface {
	Ledger() ledger.Repository
}

// TxRunner runs fn inside one unit of work.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Service exposes wallet reads derived from the ledger.
type Service struct {
	runner TxRunner
}

// NewService builds a wallet service instance.
func NewService(runner TxRunner) *Service {
	return &Service{runner: runner}
}

// Statement is the balances of an account with its most recent entries.
type Statement struct {
	Balances ledger.Balances
	Entries  []ledger.Entry
	AsOf     time.Time
}

// Statement returns accountID's wallet. Accounts read their own wallet; admins
// may read any.
func (s *Service) Statement(ctx context.Context, actor identity.Actor, accountID string, limit int) (Statement, error) {
	if accountID == "" {
		accountID = actor.ID
	}
	if accountID != actor.ID && !actor.IsAdmin() {
		return Statement{}, apperr.Authorization("cannot read another account's wallet")
	}
	if limit <= 0 || limit > 500 {
		limit = defaultStatementLimit
	}

	var st Statement
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.Ledger().Balances(ctx, accountID)
		if err != nil {
			return err
		}
		entries, err := tx.Ledger().List(ctx, accountID, limit)
		if err != nil {
			return err
		}
		st = Statement{Balances: b, Entries: entries, AsOf: time.Now().UTC()}
		return nil
	})
	if err != nil {
		return Statement{}, apperr.Wrap("wallet.Statement", err)
	}
	return st, nil
}

// Balance returns the balances of accountID under the same access rule.
func (s *Service) Balance(ctx context.Context, actor identity.Actor, accountID string) (ledger.Balances, error) {
	st, err := s.Statement(ctx, actor, accountID, 1)
	if err != nil {
		return ledger.Balances{}, err
	}
	return st.Balances, nil
}
