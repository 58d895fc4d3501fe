package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const entryColumns = `id, account_id, amount, kind, status, related_entity_type, related_entity_id, description, created_at, cleared_at`

// PostgresRepository reads and writes ledger_entries inside an open transaction.
type PostgresRepository struct {
	tx pgx.Tx
}

// NewPostgresRepository binds the ledger to tx.
func NewPostgresRepository(tx pgx.Tx) *PostgresRepository {
	return &PostgresRepository{tx: tx}
}

// Insert appends one entry. The table rejects updates to amount and deletes.
func (r *PostgresRepository) Insert(ctx context.Context, e Entry) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return fmt.Errorf("ledger entry id: %w", err)
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, e.AccountID, e.Amount, string(e.Kind), string(e.Status),
		e.RelatedEntityType, e.RelatedEntityID, e.Description, e.CreatedAt.UTC(), e.ClearedAt)
	return err
}

// Balances aggregates the account's entries in a single query.
func (r *PostgresRepository) Balances(ctx context.Context, accountID string) (Balances, error) {
	const query = `
        SELECT
            COALESCE(SUM(amount) FILTER (WHERE status IN ('cleared', 'paid')), 0),
            COALESCE(SUM(amount) FILTER (WHERE status = 'pending_clearance' AND kind = 'earning'), 0)
        FROM ledger_entries
        WHERE account_id = $1`
	b := Balances{AccountID: accountID}
	if err := r.tx.QueryRow(ctx, query, accountID).Scan(&b.Available, &b.PendingClearance); err != nil {
		return Balances{}, err
	}
	return b, nil
}

// List returns the account statement, newest first. A non-positive limit
// returns every entry.
func (r *PostgresRepository) List(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC, id`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ClearMatured flips matured holds in one statement; re-running it with the
// same cutoff matches nothing.
func (r *PostgresRepository) ClearMatured(ctx context.Context, cutoff, now time.Time) ([]Entry, error) {
	rows, err := r.tx.Query(ctx, `
        UPDATE ledger_entries
        SET status = 'cleared', cleared_at = $2
        WHERE status = 'pending_clearance' AND created_at <= $1
        RETURNING `+entryColumns, cutoff.UTC(), now.UTC())
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			id        uuid.UUID
			amount    decimal.Decimal
			kind      string
			status    string
			clearedAt *time.Time
		)
		if err := rows.Scan(&id, &e.AccountID, &amount, &kind, &status,
			&e.RelatedEntityType, &e.RelatedEntityID, &e.Description, &e.CreatedAt, &clearedAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.Amount = amount
		e.Kind = Kind(kind)
		e.Status = Status(status)
		e.CreatedAt = e.CreatedAt.UTC()
		if clearedAt != nil {
			t := clearedAt.UTC()
			e.ClearedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
