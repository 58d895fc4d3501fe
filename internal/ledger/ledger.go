package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/money"
)

var (
	// ErrInsufficientFunds occurs when the available balance of an account does
	// not cover a requested debit.
	ErrInsufficientFunds = apperr.New(apperr.KindInsufficientFunds, "insufficient funds")

	// ErrInvalidEntry is returned when an entry breaks the kind/status/sign rules.
	ErrInvalidEntry = apperr.New(apperr.KindValidation, "invalid ledger entry")
)

// Kind classifies the business movement behind an entry.
type Kind string

const (
	KindEarning    Kind = "earning"
	KindPayout     Kind = "payout"
	KindRefund     Kind = "refund"
	KindAdjustment Kind = "adjustment"
)

// Status is the clearance state of an entry. The only transition allowed after
// insert is StatusPendingClearance -> StatusCleared.
type Status string

const (
	StatusPendingClearance Status = "pending_clearance"
	StatusCleared          Status = "cleared"
	StatusPaid             Status = "paid"
)

// Related entity types recorded on entries.
const (
	EntityAgreement     = "agreement"
	EntityPayoutRequest = "payout_request"
)

// Entry is an immutable signed movement on one account.
type Entry struct {
	ID                string
	AccountID         string
	Amount            decimal.Decimal
	Kind              Kind
	Status            Status
	RelatedEntityType string
	RelatedEntityID   string
	Description       string
	CreatedAt         time.Time
	ClearedAt         *time.Time
}

// Balances is the derived wallet view of an account.
type Balances struct {
	AccountID        string
	Available        decimal.Decimal
	PendingClearance decimal.Decimal
}

// Total is available plus pending clearance.
func (b Balances) Total() decimal.Decimal {
	return b.Available.Add(b.PendingClearance)
}

// Repository is the transaction-bound view of the ledger. Implementations are
// only handed out inside a unit of work, so entries are always written together
// with the business change that causes them.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	Balances(ctx context.Context, accountID string) (Balances, error)
	List(ctx context.Context, accountID string, limit int) ([]Entry, error)
	// ClearMatured moves every pending_clearance entry created at or before
	// cutoff to cleared, stamping clearedAt, and returns the moved entries.
	ClearMatured(ctx context.Context, cutoff, now time.Time) ([]Entry, error)
}

// Record validates entry, fills its identifier and timestamp when missing and
// inserts it through repo.
func Record(ctx context.Context, repo Repository, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := Validate(entry); err != nil {
		return Entry{}, err
	}
	if err := repo.Insert(ctx, entry); err != nil {
		return Entry{}, apperr.Wrap("ledger.Record", err)
	}
	return entry, nil
}

// Validate checks the sign and status rules for each kind.
func Validate(e Entry) error {
	if e.AccountID == "" {
		return invalid("account id is required")
	}
	if e.Amount.IsZero() || !money.HasScale(e.Amount) {
		return apperr.Validation("ledger entry amount %s must be non-zero with at most %d decimals", e.Amount, money.Scale)
	}
	switch e.Kind {
	case KindEarning:
		if !e.Amount.IsPositive() || e.Status != StatusPendingClearance {
			return invalid("earning must be positive and pending clearance")
		}
	case KindPayout:
		if !e.Amount.IsNegative() || e.Status != StatusCleared {
			return invalid("payout must be negative and cleared")
		}
	case KindRefund:
		if !e.Amount.IsPositive() || e.Status != StatusCleared {
			return invalid("refund must be positive and cleared")
		}
	case KindAdjustment:
		if e.Status != StatusCleared {
			return invalid("adjustment must be cleared")
		}
	default:
		return apperr.Validation("unknown ledger entry kind %q", e.Kind)
	}
	return nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, reason)
}

// Summarize derives balances from entries belonging to accountID:
// available is the sum of cleared and paid amounts, pending clearance is the
// sum of earnings still waiting for their hold period.
func Summarize(accountID string, entries []Entry) Balances {
	b := Balances{AccountID: accountID, Available: decimal.Zero, PendingClearance: decimal.Zero}
	for _, e := range entries {
		if e.AccountID != accountID {
			continue
		}
		switch {
		case e.Status == StatusCleared || e.Status == StatusPaid:
			b.Available = b.Available.Add(e.Amount)
		case e.Status == StatusPendingClearance && e.Kind == KindEarning:
			b.PendingClearance = b.PendingClearance.Add(e.Amount)
		}
	}
	return b
}
