package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/identity"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/metrics"
	"github.com/linyora/settlement/internal/money"
	"github.com/linyora/settlement/internal/outbox"
)

const aggregateType = "payout_request"

// Service handles payout requests and reviews.
type Service struct {
	runner  TxRunner
	minimum decimal.Decimal
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds a payout service. minimum is the smallest amount that can
// be requested.
func NewService(runner TxRunner, minimum decimal.Decimal, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		runner:  runner,
		minimum: minimum,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Request debits amount from actor's available balance and opens a pending
// request. The pending check and the balance read both happen under the
// account lock, in that order.
func (s *Service) Request(ctx context.Context, actor identity.Actor, amount decimal.Decimal) (Request, error) {
	if actor.ID == "" {
		return Request{}, apperr.Authorization("an authenticated account is required")
	}
	if !amount.IsPositive() || !money.HasScale(amount) {
		s.metrics.RecordPayoutRequest("invalid")
		return Request{}, apperr.Validation("amount must be positive with at most %d decimals", money.Scale)
	}
	if amount.LessThan(s.minimum) {
		s.metrics.RecordPayoutRequest("invalid")
		return Request{}, apperr.Validation("amount is below the minimum payout of %s", money.String(s.minimum))
	}

	now := s.now()
	req := Request{
		ID:        uuid.NewString(),
		AccountID: actor.ID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
	}
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockAccount(ctx, actor.ID); err != nil {
			return err
		}
		if _, pending, err := tx.Payouts().PendingForAccount(ctx, actor.ID); err != nil {
			return err
		} else if pending {
			return ErrAlreadyPending
		}

		balances, err := tx.Ledger().Balances(ctx, actor.ID)
		if err != nil {
			return err
		}
		if balances.Available.LessThan(amount) {
			return ledger.ErrInsufficientFunds
		}

		entry, err := ledger.Record(ctx, tx.Ledger(), ledger.Entry{
			AccountID:         actor.ID,
			Amount:            amount.Neg(),
			Kind:              ledger.KindPayout,
			Status:            ledger.StatusCleared,
			RelatedEntityType: ledger.EntityPayoutRequest,
			RelatedEntityID:   req.ID,
			Description:       fmt.Sprintf("Payout request %s", req.ID),
			CreatedAt:         now,
		})
		if err != nil {
			return err
		}
		req.LinkedLedgerEntryID = entry.ID
		if err := tx.Payouts().Insert(ctx, req); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx.Outbox(), outbox.TopicPayoutRequested, aggregateType, req.ID, req.AccountID, payload(req))
	})
	if err != nil {
		s.metrics.RecordPayoutRequest(requestOutcome(err))
		return Request{}, apperr.Wrap("payout.Request", err)
	}
	s.metrics.RecordPayoutRequest("created")
	s.logger.Info("payout requested", slog.String("request_id", req.ID), slog.String("account_id", req.AccountID), slog.String("amount", money.String(amount)))
	return req, nil
}

func requestOutcome(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyPending):
		return "already_pending"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "error"
	}
}

// Review resolves a pending request. Approval only stamps the request; the
// debit already happened. Rejection books a refund of the full amount.
func (s *Service) Review(ctx context.Context, reviewer identity.Actor, id string, decision Decision, notes string) (Request, error) {
	if !reviewer.IsAdmin() {
		return Request{}, apperr.Authorization("only admins can review payout requests")
	}
	if _, err := ParseDecision(string(decision)); err != nil {
		return Request{}, err
	}

	var out Request
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		req, err := tx.Payouts().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return ErrAlreadyProcessed
		}

		now := s.now()
		req.ReviewerID = reviewer.ID
		req.ReviewNotes = strings.TrimSpace(notes)
		req.ReviewedAt = &now

		switch decision {
		case DecisionApproved:
			req.Status = StatusApproved
		case DecisionRejected:
			req.Status = StatusRejected
			refund, err := ledger.Record(ctx, tx.Ledger(), ledger.Entry{
				AccountID:         req.AccountID,
				Amount:            req.Amount,
				Kind:              ledger.KindRefund,
				Status:            ledger.StatusCleared,
				RelatedEntityType: ledger.EntityPayoutRequest,
				RelatedEntityID:   req.ID,
				Description:       fmt.Sprintf("Reversal of rejected payout request %s", req.ID),
				CreatedAt:         now,
			})
			if err != nil {
				return err
			}
			req.RefundLedgerEntryID = refund.ID
		}

		if err := tx.Payouts().UpdateReview(ctx, req); err != nil {
			return err
		}
		out = req
		return outbox.Enqueue(ctx, tx.Outbox(), outbox.TopicPayoutReviewed, aggregateType, req.ID, req.AccountID, payload(req))
	})
	if err != nil {
		return Request{}, apperr.Wrap("payout.Review", err)
	}
	s.metrics.RecordPayoutReview(string(decision))
	s.logger.Info("payout reviewed", slog.String("request_id", out.ID), slog.String("decision", string(decision)), slog.String("reviewer_id", reviewer.ID))
	return out, nil
}

// Get returns a request visible to actor: its owner or an admin.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id string) (Request, error) {
	var req Request
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		req, err = tx.Payouts().Get(ctx, id)
		return err
	})
	if err != nil {
		return Request{}, apperr.Wrap("payout.Get", err)
	}
	if req.AccountID != actor.ID && !actor.IsAdmin() {
		return Request{}, ErrNotFound
	}
	return req, nil
}

// ListByAccount returns actor's requests, newest first.
func (s *Service) ListByAccount(ctx context.Context, actor identity.Actor) ([]Request, error) {
	var out []Request
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Payouts().ListByAccount(ctx, actor.ID)
		return err
	})
	return out, apperr.Wrap("payout.ListByAccount", err)
}

// ListPending returns the review queue, oldest first.
func (s *Service) ListPending(ctx context.Context, reviewer identity.Actor) ([]Request, error) {
	if !reviewer.IsAdmin() {
		return nil, apperr.Authorization("only admins can view the payout queue")
	}
	var out []Request
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Payouts().ListPending(ctx)
		return err
	})
	return out, apperr.Wrap("payout.ListPending", err)
}

func payload(r Request) map[string]string {
	return map[string]string{
		"request_id": r.ID,
		"status":     string(r.Status),
		"amount":     money.String(r.Amount),
		"notes":      r.ReviewNotes,
	}
}
