package agreement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/gateway"
	"github.com/linyora/settlement/internal/identity"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/metrics"
	"github.com/linyora/settlement/internal/money"
	"github.com/linyora/settlement/internal/outbox"
	"github.com/linyora/settlement/internal/settings"
)

const aggregateType = "agreement"

// Service applies agreement transitions.
type Service struct {
	runner   TxRunner
	gateway  gateway.Gateway
	settings settings.Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds an agreement service.
func NewService(runner TxRunner, gw gateway.Gateway, cfg settings.Provider, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		runner:   runner,
		gateway:  gw,
		settings: cfg,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Result is the outcome of a committed transition. GatewayErr is set when the
// post-commit capture or cancel failed; the transition itself still stands.
type Result struct {
	Agreement  Agreement
	Earning    *ledger.Entry
	Commission decimal.Decimal
	GatewayErr error
}

// InitiateInput carries a requester's order for a provider's package.
type InitiateInput struct {
	ProviderID     string
	ProductRef     string
	PackageTierRef string
	Price          decimal.Decimal
}

// Initiate places a payment hold for the price and records the agreement in
// PENDING. If the record cannot be written the hold is released.
func (s *Service) Initiate(ctx context.Context, actor identity.Actor, in InitiateInput) (Agreement, error) {
	if actor.Role != identity.RoleRequester {
		return Agreement{}, apperr.Authorization("only requesters can open agreements")
	}
	in.ProviderID = strings.TrimSpace(in.ProviderID)
	switch {
	case in.ProviderID == "":
		return Agreement{}, apperr.Validation("provider id is required")
	case in.ProviderID == actor.ID:
		return Agreement{}, apperr.Validation("requester and provider must differ")
	case strings.TrimSpace(in.ProductRef) == "":
		return Agreement{}, apperr.Validation("product reference is required")
	case !in.Price.IsPositive() || !money.HasScale(in.Price):
		return Agreement{}, apperr.Validation("price must be positive with at most %d decimals", money.Scale)
	}

	holdRef, err := s.gateway.Authorize(ctx, in.Price)
	if err != nil {
		return Agreement{}, apperr.Gateway("agreement.Initiate", err)
	}

	now := s.now()
	a := Agreement{
		ID:             uuid.NewString(),
		RequesterID:    actor.ID,
		ProviderID:     in.ProviderID,
		ProductRef:     in.ProductRef,
		PackageTierRef: in.PackageTierRef,
		Price:          in.Price,
		Status:         StatusPending,
		PaymentHoldRef: holdRef,
		CaptureState:   CaptureOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Agreements().Insert(ctx, a); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx.Outbox(), outbox.TopicAgreementStatusChanged, aggregateType, a.ID, a.ProviderID, statusPayload(a, ""))
	})
	if err != nil {
		if cancelErr := s.gateway.Cancel(ctx, holdRef); cancelErr != nil {
			s.logger.Error("release hold after failed initiate",
				slog.String("hold_ref", holdRef), slog.Any("error", cancelErr))
		}
		return Agreement{}, apperr.Wrap("agreement.Initiate", err)
	}
	return a, nil
}

func (s *Service) Accept(ctx context.Context, actor identity.Actor, id string) (Result, error) {
	return s.Transition(ctx, actor, id, EventAccept)
}

// Reject declines a pending agreement and releases the payment hold.
func (s *Service) Reject(ctx context.Context, actor identity.Actor, id string) (Result, error) {
	return s.Transition(ctx, actor, id, EventReject)
}

func (s *Service) Start(ctx context.Context, actor identity.Actor, id string) (Result, error) {
	return s.Transition(ctx, actor, id, EventStart)
}

func (s *Service) Deliver(ctx context.Context, actor identity.Actor, id string) (Result, error) {
	return s.Transition(ctx, actor, id, EventDeliver)
}

// Complete confirms delivery, books the provider's net earning and captures the hold.
func (s *Service) Complete(ctx context.Context, actor identity.Actor, id string) (Result, error) {
	return s.Transition(ctx, actor, id, EventComplete)
}

func (s *Service) Dispute(ctx context.Context, actor identity.Actor, id string) (Result, error) {
	return s.Transition(ctx, actor, id, EventDispute)
}

// Resolve closes a dispute as either COMPLETED or REJECTED.
func (s *Service) Resolve(ctx context.Context, actor identity.Actor, id string, outcome Status) (Result, error) {
	switch outcome {
	case StatusCompleted:
		return s.Transition(ctx, actor, id, EventResolveComplete)
	case StatusRejected:
		return s.Transition(ctx, actor, id, EventResolveReject)
	default:
		return Result{}, apperr.Validation("dispute outcome must be %s or %s", StatusCompleted, StatusRejected)
	}
}

// Transition fires event on agreement id. Guards run against the row read under
// lock; nothing is written when a guard fails.
func (s *Service) Transition(ctx context.Context, actor identity.Actor, id string, event Event) (Result, error) {
	t, ok := transitions[event]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	var rate decimal.Decimal
	if t.to == StatusCompleted {
		var err error
		rate, err = s.settings.CommissionRate(ctx, settings.CommissionAgreement)
		if err != nil {
			return Result{}, apperr.Wrap("agreement.CommissionRate", err)
		}
	}

	var res Result
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		res = Result{}
		a, err := tx.Agreements().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !t.allowed(actor, a) {
			return ErrForbidden
		}
		if a.Status != t.from {
			return fmt.Errorf("%w: %s -> %s from %s", ErrIllegalTransition, t.from, t.to, a.Status)
		}

		prev := a.Status
		a.Status = t.to
		a.UpdatedAt = s.now()
		if err := tx.Agreements().Update(ctx, a); err != nil {
			return err
		}
		res.Agreement = a

		if t.to == StatusCompleted {
			earning, commission, err := s.bookEarning(ctx, tx, a, rate)
			if err != nil {
				return err
			}
			res.Earning = earning
			res.Commission = commission
		}

		for _, recipient := range []string{a.RequesterID, a.ProviderID} {
			if recipient == actor.ID {
				continue
			}
			if err := outbox.Enqueue(ctx, tx.Outbox(), outbox.TopicAgreementStatusChanged, aggregateType, a.ID, recipient, statusPayload(a, prev)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, apperr.Wrap("agreement."+string(event), err)
	}
	s.metrics.RecordTransition(string(event))

	switch res.Agreement.Status {
	case StatusCompleted:
		res.GatewayErr = s.resolveHold(ctx, res.Agreement, opCapture)
	case StatusRejected:
		res.GatewayErr = s.resolveHold(ctx, res.Agreement, opCancel)
	default:
		return res, nil
	}
	res.Agreement.CaptureState = settledState(res.Agreement.Status)
	if res.GatewayErr != nil {
		res.Agreement.CaptureState = failedState(res.Agreement.Status)
	}
	return res, nil
}

func (s *Service) bookEarning(ctx context.Context, tx Tx, a Agreement, rate decimal.Decimal) (*ledger.Entry, decimal.Decimal, error) {
	commission, net := money.Split(a.Price, rate)
	if !net.IsPositive() {
		return nil, commission, nil
	}
	entry, err := ledger.Record(ctx, tx.Ledger(), ledger.Entry{
		AccountID:         a.ProviderID,
		Amount:            net,
		Kind:              ledger.KindEarning,
		Status:            ledger.StatusPendingClearance,
		RelatedEntityType: ledger.EntityAgreement,
		RelatedEntityID:   a.ID,
		Description: fmt.Sprintf("Earnings for agreement %s (price %s, commission %s)",
			a.ID, money.String(a.Price), money.String(commission)),
		CreatedAt: a.UpdatedAt,
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	payload := map[string]string{
		"agreement_id": a.ID,
		"entry_id":     entry.ID,
		"amount":       money.String(entry.Amount),
		"commission":   money.String(commission),
	}
	if err := outbox.Enqueue(ctx, tx.Outbox(), outbox.TopicEarningRecorded, aggregateType, a.ID, a.ProviderID, payload); err != nil {
		return nil, decimal.Zero, err
	}
	return &entry, commission, nil
}

const (
	opCapture = "capture"
	opCancel  = "cancel"
)

// resolveHold calls the gateway after commit and records the outcome on the
// agreement in a follow-up unit of work. The outcome is dropped when the hold
// changed hands meanwhile, which only happens after a reconcile takeover.
func (s *Service) resolveHold(ctx context.Context, a Agreement, op string) error {
	var callErr error
	if op == opCapture {
		callErr = s.gateway.Capture(ctx, a.PaymentHoldRef)
	} else {
		callErr = s.gateway.Cancel(ctx, a.PaymentHoldRef)
	}

	state := settledState(a.Status)
	if callErr != nil {
		state = failedState(a.Status)
		s.metrics.RecordGatewayFailure(op)
		s.logger.Error("payment hold not resolved, flagged for reconciliation",
			slog.String("agreement_id", a.ID),
			slog.String("op", op),
			slog.String("hold_ref", a.PaymentHoldRef),
			slog.Any("error", callErr))
	}

	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Agreements().GetForUpdate(ctx, a.ID)
		if err != nil {
			return err
		}
		if cur.CaptureState != a.CaptureState || !sameInstant(cur.UpdatedAt, a.UpdatedAt) {
			s.logger.Warn("payment hold claimed by a newer reconcile, outcome not recorded",
				slog.String("agreement_id", a.ID),
				slog.String("op", op),
				slog.String("state", string(cur.CaptureState)))
			return nil
		}
		cur.CaptureState = state
		cur.UpdatedAt = s.now()
		if err := tx.Agreements().Update(ctx, cur); err != nil {
			return err
		}
		if callErr == nil {
			return nil
		}
		return outbox.Enqueue(ctx, tx.Outbox(), outbox.TopicReconciliationRequired, aggregateType, a.ID, "", map[string]string{
			"agreement_id": a.ID,
			"hold_ref":     a.PaymentHoldRef,
			"operation":    op,
			"error":        callErr.Error(),
		})
	})
	if err != nil {
		s.logger.Error("record hold state", slog.String("agreement_id", a.ID), slog.String("state", string(state)), slog.Any("error", err))
	}
	if callErr != nil {
		return apperr.Gateway("agreement."+op, callErr)
	}
	return nil
}

// reconcileClaimTTL bounds how long a reconcile may hold a payment hold before
// another admin can take it over.
const reconcileClaimTTL = 10 * time.Minute

// Reconcile retries the capture or cancel of an agreement whose hold failed to
// resolve. Only admins may reconcile. The hold is claimed under the row lock
// before the gateway is called, so concurrent reconciles call it at most once.
func (s *Service) Reconcile(ctx context.Context, actor identity.Actor, id string) (Agreement, error) {
	if !actor.IsAdmin() {
		return Agreement{}, apperr.Authorization("only admins can reconcile payment holds")
	}
	var (
		a  Agreement
		op string
	)
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		cur, err := tx.Agreements().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if op = reconcileOp(cur, now); op == "" {
			return ErrNothingToReconcile
		}
		cur.CaptureState = retryingState(cur.Status)
		cur.UpdatedAt = now
		if err := tx.Agreements().Update(ctx, cur); err != nil {
			return err
		}
		a = cur
		return nil
	})
	if err != nil {
		return Agreement{}, apperr.Wrap("agreement.Reconcile", err)
	}

	if err := s.resolveHold(ctx, a, op); err != nil {
		a.CaptureState = failedState(a.Status)
		return a, err
	}
	a.CaptureState = settledState(a.Status)
	s.logger.Info("payment hold reconciled", slog.String("agreement_id", a.ID), slog.String("op", op), slog.String("admin_id", actor.ID))
	return a, nil
}

// reconcileOp names the gateway call a reconcile of a must make, or "" when
// there is nothing to retry. A retry claim older than reconcileClaimTTL counts
// as abandoned.
func reconcileOp(a Agreement, now time.Time) string {
	abandoned := now.Sub(a.UpdatedAt) >= reconcileClaimTTL
	switch {
	case a.Status == StatusCompleted && (a.CaptureState == CaptureFailed || (a.CaptureState == CaptureRetrying && abandoned)):
		return opCapture
	case a.Status == StatusRejected && (a.CaptureState == CancelFailed || (a.CaptureState == CancelRetrying && abandoned)):
		return opCancel
	}
	return ""
}

// ListReconciliation returns agreements whose hold failed to resolve.
func (s *Service) ListReconciliation(ctx context.Context, actor identity.Actor) ([]Agreement, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Authorization("only admins can view the reconciliation queue")
	}
	var out []Agreement
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Agreements().ListByCaptureState(ctx, CaptureFailed, CancelFailed, CaptureRetrying, CancelRetrying)
		return err
	})
	return out, apperr.Wrap("agreement.ListReconciliation", err)
}

// Get returns an agreement visible to actor.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id string) (Agreement, error) {
	var a Agreement
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		a, err = tx.Agreements().Get(ctx, id)
		return err
	})
	if err != nil {
		return Agreement{}, apperr.Wrap("agreement.Get", err)
	}
	if !a.Visible(actor) {
		return Agreement{}, ErrNotFound
	}
	return a, nil
}

// ListMine returns the agreements where actor is a party.
func (s *Service) ListMine(ctx context.Context, actor identity.Actor) ([]Agreement, error) {
	var out []Agreement
	err := s.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Agreements().ListByParty(ctx, actor.ID)
		return err
	})
	return out, apperr.Wrap("agreement.ListMine", err)
}

func settledState(s Status) CaptureState {
	if s == StatusRejected {
		return CaptureCancelled
	}
	return CaptureCaptured
}

func failedState(s Status) CaptureState {
	if s == StatusRejected {
		return CancelFailed
	}
	return CaptureFailed
}

// sameInstant compares timestamps that may have lost sub-microsecond precision
// in storage.
func sameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Microsecond && d < time.Microsecond
}

func retryingState(s Status) CaptureState {
	if s == StatusRejected {
		return CancelRetrying
	}
	return CaptureRetrying
}

func statusPayload(a Agreement, prev Status) map[string]string {
	return map[string]string{
		"agreement_id": a.ID,
		"from":         string(prev),
		"to":           string(a.Status),
		"price":        money.String(a.Price),
	}
}
