package settings

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/linyora/settlement/internal/logging"
)

type countingProvider struct {
	Static
	rateCalls int
	dayCalls  int
}

func (p *countingProvider) CommissionRate(ctx context.Context, kind string) (decimal.Decimal, error) {
	p.rateCalls++
	return p.Static.CommissionRate(ctx, kind)
}

func (p *countingProvider) ClearancePeriodDays(ctx context.Context) (int, error) {
	p.dayCalls++
	return p.Static.ClearancePeriodDays(ctx)
}

func TestCachedServesRepeatLookupsFromRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	next := &countingProvider{Static: Static{CommissionPercent: decimal.NewFromInt(10), ClearanceDays: 14}}
	c := NewCached(cache, next, time.Minute, logging.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rate, err := c.CommissionRate(ctx, CommissionAgreement)
		if err != nil {
			t.Fatalf("rate: %v", err)
		}
		if !rate.Equal(decimal.NewFromInt(10)) {
			t.Fatalf("expected 10, got %s", rate)
		}
		days, err := c.ClearancePeriodDays(ctx)
		if err != nil || days != 14 {
			t.Fatalf("expected 14 days, got %d (%v)", days, err)
		}
	}
	if next.rateCalls != 1 || next.dayCalls != 1 {
		t.Fatalf("expected one upstream call each, got %d and %d", next.rateCalls, next.dayCalls)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := c.ClearancePeriodDays(ctx); err != nil {
		t.Fatalf("days after expiry: %v", err)
	}
	if next.dayCalls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", next.dayCalls)
	}
}

func TestCachedFallsThroughWhenRedisIsDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer cache.Close()
	mr.Close()

	next := &countingProvider{Static: Static{CommissionPercent: decimal.NewFromInt(12), ClearanceDays: 7}}
	c := NewCached(cache, next, time.Minute, logging.Discard())
	rate, err := c.CommissionRate(context.Background(), CommissionAgreement)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("expected 12, got %s", rate)
	}
}
