package agreement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const agreementColumns = `id, requester_id, provider_id, product_ref, package_tier_ref, price, status,
        payment_hold_ref, capture_state, created_at, updated_at`

// PostgresRepository stores agreements in PostgreSQL within a transaction.
type PostgresRepository struct {
	tx pgx.Tx
}

func NewPostgresRepository(tx pgx.Tx) *PostgresRepository {
	return &PostgresRepository{tx: tx}
}

func (r *PostgresRepository) Insert(ctx context.Context, a Agreement) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("agreement id: %w", err)
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO agreements (`+agreementColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, a.RequesterID, a.ProviderID, a.ProductRef, a.PackageTierRef, a.Price, string(a.Status),
		a.PaymentHoldRef, string(a.CaptureState), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Agreement, error) {
	return r.getOne(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (Agreement, error) {
	return r.getOne(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, id string) (Agreement, error) {
	agreementID, err := uuid.Parse(id)
	if err != nil {
		return Agreement{}, ErrNotFound
	}
	rows, err := r.tx.Query(ctx, query, agreementID)
	if err != nil {
		return Agreement{}, err
	}
	items, err := collectAgreements(rows)
	if err != nil {
		return Agreement{}, err
	}
	if len(items) == 0 {
		return Agreement{}, ErrNotFound
	}
	return items[0], nil
}

// Update writes the mutable columns: status, capture state and updated_at.
func (r *PostgresRepository) Update(ctx context.Context, a Agreement) error {
	tag, err := r.tx.Exec(ctx, `UPDATE agreements SET status = $2, capture_state = $3, updated_at = $4 WHERE id = $1`,
		a.ID, string(a.Status), string(a.CaptureState), a.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListByParty(ctx context.Context, accountID string) ([]Agreement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+agreementColumns+` FROM agreements
        WHERE requester_id = $1 OR provider_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	return collectAgreements(rows)
}

func (r *PostgresRepository) ListByCaptureState(ctx context.Context, states ...CaptureState) ([]Agreement, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	rows, err := r.tx.Query(ctx, `SELECT `+agreementColumns+` FROM agreements
        WHERE capture_state = ANY($1) ORDER BY updated_at DESC`, names)
	if err != nil {
		return nil, err
	}
	return collectAgreements(rows)
}

func collectAgreements(rows pgx.Rows) ([]Agreement, error) {
	defer rows.Close()
	var out []Agreement
	for rows.Next() {
		var (
			a       Agreement
			id      uuid.UUID
			price   decimal.Decimal
			status  string
			capture string
			created time.Time
			updated time.Time
		)
		if err := rows.Scan(&id, &a.RequesterID, &a.ProviderID, &a.ProductRef, &a.PackageTierRef, &price, &status,
			&a.PaymentHoldRef, &capture, &created, &updated); err != nil {
			return nil, err
		}
		a.ID = id.String()
		a.Price = price
		a.Status = Status(status)
		a.CaptureState = CaptureState(capture)
		a.CreatedAt = created.UTC()
		a.UpdatedAt = updated.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
