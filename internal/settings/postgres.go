package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres reads overrides from platform_settings and falls back to another
// provider for keys that are not set.
type Postgres struct {
	db       *pgxpool.Pool
	fallback Provider
}

func NewPostgres(db *pgxpool.Pool, fallback Provider) *Postgres {
	return &Postgres{db: db, fallback: fallback}
}

func (p *Postgres) CommissionRate(ctx context.Context, kind string) (decimal.Decimal, error) {
	raw, ok, err := p.lookup(ctx, keyCommissionPrefix+kind)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return p.fallback.CommissionRate(ctx, kind)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse commission rate %q: %w", raw, err)
	}
	if err := validateRate(rate); err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}

func (p *Postgres) ClearancePeriodDays(ctx context.Context) (int, error) {
	raw, ok, err := p.lookup(ctx, keyClearanceDays)
	if err != nil {
		return 0, err
	}
	if !ok {
		return p.fallback.ClearancePeriodDays(ctx)
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse clearance hold days %q: %w", raw, err)
	}
	if err := validateDays(days); err != nil {
		return 0, err
	}
	return days, nil
}

func (p *Postgres) lookup(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRow(ctx, `SELECT value FROM platform_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}
