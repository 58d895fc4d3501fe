// Package gateway is the boundary to the external payment processor that
// places, captures and releases holds on a requester's funds.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnknownHold is returned for a hold reference the processor never issued.
var ErrUnknownHold = errors.New("unknown payment hold")

// Gateway places a hold at agreement creation and resolves it exactly once.
// Calls are made outside of database transactions.
type Gateway interface {
	Authorize(ctx context.Context, amount decimal.Decimal) (holdRef string, err error)
	Capture(ctx context.Context, holdRef string) error
	Cancel(ctx context.Context, holdRef string) error
}

// StaticGateway approves every call with synthetic references.
type StaticGateway struct {
	Logger *slog.Logger
}

// Authorize approves the hold with a synthetic reference.
func (g StaticGateway) Authorize(_ context.Context, amount decimal.Decimal) (string, error) {
	ref := "hold_" + uuid.NewString()
	g.log("authorize", ref, slog.String("amount", amount.StringFixed(2)))
	return ref, nil
}

// Capture accepts any non-empty reference.
func (g StaticGateway) Capture(_ context.Context, holdRef string) error {
	if holdRef == "" {
		return ErrUnknownHold
	}
	g.log("capture", holdRef)
	return nil
}

// Cancel accepts any non-empty reference.
func (g StaticGateway) Cancel(_ context.Context, holdRef string) error {
	if holdRef == "" {
		return ErrUnknownHold
	}
	g.log("cancel", holdRef)
	return nil
}

func (g StaticGateway) log(op, ref string, attrs ...any) {
	if g.Logger == nil {
		return
	}
	g.Logger.Debug("payment gateway", append([]any{slog.String("op", op), slog.String("hold_ref", ref)}, attrs...)...)
}
