// Package payout implements withdrawal requests against an account's available
// balance and their review by an admin.
package payout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/outbox"
)

var (
	// ErrAlreadyPending is returned when the account already has a pending
	// request. It is checked before the balance is read.
	ErrAlreadyPending = apperr.New(apperr.KindConflict, "payout request already pending")
	// ErrAlreadyProcessed is returned when reviewing a request that is no
	// longer pending. Retrying a review is safe.
	ErrAlreadyProcessed = apperr.New(apperr.KindConflict, "payout request already processed")
	ErrNotFound         = apperr.New(apperr.KindNotFound, "payout request not found")
)

// Status of a payout request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision is a reviewer's verdict.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ParseDecision validates a decision string.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApproved, DecisionRejected:
		return Decision(s), nil
	default:
		return "", apperr.Validation("decision must be %q or %q", DecisionApproved, DecisionRejected)
	}
}

// Request is a withdrawal of Amount from AccountID's available balance. The
// debit is booked when the request is created.
type Request struct {
	ID                  string
	AccountID           string
	Amount              decimal.Decimal
	Status              Status
	ReviewNotes         string
	ReviewerID          string
	LinkedLedgerEntryID string
	RefundLedgerEntryID string
	CreatedAt           time.Time
	ReviewedAt          *time.Time
}

// Repository persists payout requests. Insert must refuse a second pending
// request for the same account with ErrAlreadyPending.
type Repository interface {
	Insert(ctx context.Context, r Request) error
	Get(ctx context.Context, id string) (Request, error)
	GetForUpdate(ctx context.Context, id string) (Request, error)
	// UpdateReview persists status, notes, reviewer and the refund link.
	UpdateReview(ctx context.Context, r Request) error
	PendingForAccount(ctx context.Context, accountID string) (Request, bool, error)
	ListByAccount(ctx context.Context, accountID string) ([]Request, error)
	ListPending(ctx context.Context) ([]Request, error)
}

// Tx is the part of a unit of work the payout flow needs.
type Tx interface {
	LockAccount(ctx context.Context, accountID string) error
	Ledger() ledger.Repository
	Payouts() Repository
	Outbox() outbox.Repository
}

// TxRunner runs fn inside one unit of work.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
