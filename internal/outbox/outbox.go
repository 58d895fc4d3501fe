// Package outbox stores notification events in the same transaction as the
// state change that produced them and drains them to a notifier afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topics written by the settlement flows.
const (
	TopicAgreementStatusChanged = "agreement.status_changed"
	TopicEarningRecorded        = "ledger.earning_recorded"
	TopicEntryCleared           = "ledger.entry_cleared"
	TopicPayoutRequested        = "payout.requested"
	TopicPayoutReviewed         = "payout.reviewed"
	TopicReconciliationRequired = "payment.reconciliation_required"
)

// Event is one pending notification.
type Event struct {
	ID            string
	Topic         string
	AggregateType string
	AggregateID   string
	RecipientID   string
	Payload       json.RawMessage
	CreatedAt     time.Time
	DispatchedAt  *time.Time
	Attempts      int
	LastError     string
	// ClaimedUntil is the end of the lease held by the drainer sending it.
	ClaimedUntil *time.Time
}

// Repository is the transaction-bound outbox table.
type Repository interface {
	Insert(ctx context.Context, event Event) error
	// Claim leases up to limit undelivered events, oldest first, until
	// leaseUntil. Events leased past now or already attempted maxAttempts
	// times are left alone.
	Claim(ctx context.Context, now, leaseUntil time.Time, maxAttempts, limit int) ([]Event, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	// MarkFailed counts a failed attempt and releases the lease.
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Tx is the slice of a unit of work the outbox needs.
type Tx interface {
	Outbox() Repository
}

// TxRunner runs fn inside one unit of work.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// NewEvent builds an event with a JSON payload.
func NewEvent(topic, aggregateType, aggregateID, recipientID string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return Event{
		ID:            uuid.NewString(),
		Topic:         topic,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RecipientID:   recipientID,
		Payload:       body,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Enqueue builds and inserts an event in one call.
func Enqueue(ctx context.Context, repo Repository, topic, aggregateType, aggregateID, recipientID string, payload any) error {
	event, err := NewEvent(topic, aggregateType, aggregateID, recipientID, payload)
	if err != nil {
		return err
	}
	if err := repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("enqueue %s: %w", topic, err)
	}
	return nil
}
