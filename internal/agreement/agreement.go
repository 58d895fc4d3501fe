// Package agreement drives the priced collaboration contract between a
// requester and a provider, from the initial payment hold to the provider's
// earning on completion.
package agreement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/identity"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/outbox"
)

var (
	ErrNotFound = apperr.New(apperr.KindNotFound, "agreement not found")
	// ErrIllegalTransition is returned when the current status is not the
	// predecessor the event requires.
	ErrIllegalTransition = apperr.New(apperr.KindValidation, "illegal transition")
	ErrUnknownEvent      = apperr.New(apperr.KindValidation, "unknown agreement event")
	ErrForbidden         = apperr.New(apperr.KindAuthorization, "actor may not perform this transition")
	// ErrNothingToReconcile means the hold is not in a failed state or another
	// reconcile already holds it.
	ErrNothingToReconcile = apperr.New(apperr.KindConflict, "nothing to reconcile")
)

// Status is the lifecycle state of an agreement.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDelivered  Status = "DELIVERED"
	StatusCompleted  Status = "COMPLETED"
	StatusInDispute  Status = "IN_DISPUTE"
)

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// CaptureState tracks the payment hold attached to an agreement.
type CaptureState string

const (
	CaptureOpen      CaptureState = "open"
	CaptureCaptured  CaptureState = "captured"
	CaptureFailed    CaptureState = "capture_failed"
	CaptureCancelled CaptureState = "cancelled"
	CancelFailed     CaptureState = "cancel_failed"
	// CaptureRetrying and CancelRetrying mark a reconcile that has claimed the
	// hold and is calling the gateway.
	CaptureRetrying CaptureState = "capture_retrying"
	CancelRetrying  CaptureState = "cancel_retrying"
)

// Agreement is one collaboration between a requester and a provider.
type Agreement struct {
	ID             string
	RequesterID    string
	ProviderID     string
	ProductRef     string
	PackageTierRef string
	Price          decimal.Decimal
	Status         Status
	PaymentHoldRef string
	CaptureState   CaptureState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Event names a requested transition.
type Event string

const (
	EventAccept          Event = "accept"
	EventReject          Event = "reject"
	EventStart           Event = "start"
	EventDeliver         Event = "deliver"
	EventComplete        Event = "complete"
	EventDispute         Event = "dispute"
	EventResolveComplete Event = "resolve_complete"
	EventResolveReject   Event = "resolve_reject"
)

type party int

const (
	byProvider party = 1 << iota
	byRequester
	byAdmin
)

type transition struct {
	from Status
	to   Status
	by   party
}

var transitions = map[Event]transition{
	EventAccept:          {from: StatusPending, to: StatusAccepted, by: byProvider},
	EventReject:          {from: StatusPending, to: StatusRejected, by: byProvider},
	EventStart:           {from: StatusAccepted, to: StatusInProgress, by: byProvider},
	EventDeliver:         {from: StatusInProgress, to: StatusDelivered, by: byProvider},
	EventComplete:        {from: StatusDelivered, to: StatusCompleted, by: byRequester | byAdmin},
	EventDispute:         {from: StatusDelivered, to: StatusInDispute, by: byAdmin},
	EventResolveComplete: {from: StatusInDispute, to: StatusCompleted, by: byAdmin},
	EventResolveReject:   {from: StatusInDispute, to: StatusRejected, by: byAdmin},
}

// allowed reports whether actor may fire t on a. Provider and requester
// actions require both the matching role and the matching id.
func (t transition) allowed(actor identity.Actor, a Agreement) bool {
	switch {
	case t.by&byAdmin != 0 && actor.Role == identity.RoleAdmin:
		return true
	case t.by&byProvider != 0 && actor.Role == identity.RoleProvider && actor.ID == a.ProviderID:
		return true
	case t.by&byRequester != 0 && actor.Role == identity.RoleRequester && actor.ID == a.RequesterID:
		return true
	}
	return false
}

// Visible reports whether actor may read a.
func (a Agreement) Visible(actor identity.Actor) bool {
	return actor.IsAdmin() || actor.ID == a.RequesterID || actor.ID == a.ProviderID
}

// Repository persists agreements inside a unit of work.
type Repository interface {
	Insert(ctx context.Context, a Agreement) error
	Get(ctx context.Context, id string) (Agreement, error)
	// GetForUpdate reads the row and holds its lock until the unit of work ends.
	GetForUpdate(ctx context.Context, id string) (Agreement, error)
	Update(ctx context.Context, a Agreement) error
	ListByParty(ctx context.Context, accountID string) ([]Agreement, error)
	ListByCaptureState(ctx context.Context, states ...CaptureState) ([]Agreement, error)
}

// Tx is the part of a unit of work agreement transitions write through.
type Tx interface {
	Agreements() Repository
	Ledger() ledger.Repository
	Outbox() outbox.Repository
}

// TxRunner runs fn inside one unit of work.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
