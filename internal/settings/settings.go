// Package settings reads the platform configuration the settlement flows
// depend on: commission percentages and the clearance hold period.
package settings

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// CommissionAgreement is the commission kind applied when an agreement completes.
const CommissionAgreement = "agreement"

// Setting keys in platform_settings.
const (
	keyCommissionPrefix = "commission_rate."
	keyClearanceDays    = "clearance_hold_days"
)

// Provider answers configuration lookups. Values may change between calls.
type Provider interface {
	CommissionRate(ctx context.Context, kind string) (decimal.Decimal, error)
	ClearancePeriodDays(ctx context.Context) (int, error)
}

// Static serves fixed values, typically loaded from the environment.
type Static struct {
	CommissionPercent decimal.Decimal
	ClearanceDays     int
}

func (s Static) CommissionRate(_ context.Context, _ string) (decimal.Decimal, error) {
	return s.CommissionPercent, nil
}

func (s Static) ClearancePeriodDays(_ context.Context) (int, error) {
	return s.ClearanceDays, nil
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("commission rate %s outside 0..100", rate)
	}
	return nil
}

func validateDays(days int) error {
	if days < 0 {
		return fmt.Errorf("clearance hold days %d is negative", days)
	}
	return nil
}
