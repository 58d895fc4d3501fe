package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const (
	requestColumns = `id, account_id, amount, status, review_notes, reviewer_id,
        linked_ledger_entry_id, refund_ledger_entry_id, created_at, reviewed_at`

	// uniquePendingIndex backs the one pending request per account rule.
	uniquePendingIndex = "payout_requests_one_pending_per_account"
)

// PostgresRepository stores payout requests within a transaction.
type PostgresRepository struct {
	tx pgx.Tx
}

func NewPostgresRepository(tx pgx.Tx) *PostgresRepository {
	return &PostgresRepository{tx: tx}
}

func (r *PostgresRepository) Insert(ctx context.Context, req Request) error {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return fmt.Errorf("payout request id: %w", err)
	}
	linked, err := uuid.Parse(req.LinkedLedgerEntryID)
	if err != nil {
		return fmt.Errorf("linked ledger entry id: %w", err)
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO payout_requests (id, account_id, amount, status, linked_ledger_entry_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		id, req.AccountID, req.Amount, string(req.Status), linked, req.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == uniquePendingIndex {
		return ErrAlreadyPending
	}
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Request, error) {
	return r.getOne(ctx, `SELECT `+requestColumns+` FROM payout_requests WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (Request, error) {
	return r.getOne(ctx, `SELECT `+requestColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, id string) (Request, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return Request{}, ErrNotFound
	}
	rows, err := r.tx.Query(ctx, query, requestID)
	if err != nil {
		return Request{}, err
	}
	items, err := collectRequests(rows)
	if err != nil {
		return Request{}, err
	}
	if len(items) == 0 {
		return Request{}, ErrNotFound
	}
	return items[0], nil
}

func (r *PostgresRepository) UpdateReview(ctx context.Context, req Request) error {
	var refund *uuid.UUID
	if req.RefundLedgerEntryID != "" {
		id, err := uuid.Parse(req.RefundLedgerEntryID)
		if err != nil {
			return fmt.Errorf("refund ledger entry id: %w", err)
		}
		refund = &id
	}
	tag, err := r.tx.Exec(ctx, `UPDATE payout_requests
        SET status = $2, review_notes = $3, reviewer_id = $4, refund_ledger_entry_id = $5, reviewed_at = $6
        WHERE id = $1`,
		req.ID, string(req.Status), req.ReviewNotes, req.ReviewerID, refund, req.ReviewedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) PendingForAccount(ctx context.Context, accountID string) (Request, bool, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+requestColumns+` FROM payout_requests
        WHERE account_id = $1 AND status = 'pending'`, accountID)
	if err != nil {
		return Request{}, false, err
	}
	items, err := collectRequests(rows)
	if err != nil {
		return Request{}, false, err
	}
	if len(items) == 0 {
		return Request{}, false, nil
	}
	return items[0], true, nil
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string) ([]Request, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+requestColumns+` FROM payout_requests
        WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (r *PostgresRepository) ListPending(ctx context.Context) ([]Request, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+requestColumns+` FROM payout_requests
        WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	defer rows.Close()
	var out []Request
	for rows.Next() {
		var (
			req      Request
			id       uuid.UUID
			amount   decimal.Decimal
			status   string
			linked   uuid.UUID
			refund   *uuid.UUID
			created  time.Time
			reviewed *time.Time
		)
		if err := rows.Scan(&id, &req.AccountID, &amount, &status, &req.ReviewNotes, &req.ReviewerID,
			&linked, &refund, &created, &reviewed); err != nil {
			return nil, err
		}
		req.ID = id.String()
		req.Amount = amount
		req.Status = Status(status)
		req.LinkedLedgerEntryID = linked.String()
		if refund != nil {
			req.RefundLedgerEntryID = refund.String()
		}
		req.CreatedAt = created.UTC()
		if reviewed != nil {
			t := reviewed.UTC()
			req.ReviewedAt = &t
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
