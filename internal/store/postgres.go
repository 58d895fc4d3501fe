package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linyora/settlement/internal/agreement"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/outbox"
	"github.com/linyora/settlement/internal/payout"
)

// Postgres runs units of work as read committed transactions.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Ledger() ledger.Repository        { return ledger.NewPostgresRepository(t.tx) }
func (t *postgresTx) Agreements() agreement.Repository { return agreement.NewPostgresRepository(t.tx) }
func (t *postgresTx) Payouts() payout.Repository       { return payout.NewPostgresRepository(t.tx) }
func (t *postgresTx) Outbox() outbox.Repository        { return outbox.NewPostgresRepository(t.tx) }

// LockAccount takes the row lock on the account's account_locks row, creating
// the row on first use.
func (t *postgresTx) LockAccount(ctx context.Context, accountID string) error {
	if _, err := t.tx.Exec(ctx, `INSERT INTO account_locks (account_id) VALUES ($1) ON CONFLICT (account_id) DO NOTHING`, accountID); err != nil {
		return fmt.Errorf("ensure account lock row: %w", err)
	}
	var locked string
	if err := t.tx.QueryRow(ctx, `SELECT account_id FROM account_locks WHERE account_id = $1 FOR UPDATE`, accountID).Scan(&locked); err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}
	return nil
}
