package payout_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/identity"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/logging"
	"github.com/linyora/settlement/internal/metrics"
	"github.com/linyora/settlement/internal/money"
	"github.com/linyora/settlement/internal/outbox"
	"github.com/linyora/settlement/internal/payout"
	"github.com/linyora/settlement/internal/store"
)

var (
	provider = identity.Actor{ID: "prov-1", Role: identity.RoleProvider}
	admin    = identity.Actor{ID: "admin-1", Role: identity.RoleAdmin}
)

func setup(t *testing.T, available string) (*store.Memory, *payout.Service) {
	t.Helper()
	mem := store.NewMemory()
	if available != "" {
		if _, err := mem.SeedEntry(context.Background(), ledger.Entry{
			AccountID:   provider.ID,
			Amount:      money.MustParse(available),
			Kind:        ledger.KindAdjustment,
			Status:      ledger.StatusCleared,
			Description: "opening balance",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	svc := payout.NewService(store.PayoutRunner(mem), money.MustParse("10.00"), metrics.New(), logging.Discard())
	return mem, svc
}

func available(t *testing.T, mem *store.Memory, account string) string {
	t.Helper()
	return money.String(ledger.Summarize(account, mem.LedgerEntries()).Available)
}

func TestPendingCheckedBeforeBalance(t *testing.T) {
	ctx := context.Background()
	mem, svc := setup(t, "30.00")

	req, err := svc.Request(ctx, provider, money.MustParse("30.00"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != payout.StatusPending || req.LinkedLedgerEntryID == "" {
		t.Fatalf("unexpected request %+v", req)
	}
	if got := available(t, mem, provider.ID); got != "0.00" {
		t.Fatalf("expected available 0.00 after debit, got %s", got)
	}

	_, err = svc.Request(ctx, provider, money.MustParse("10.00"))
	if !errors.Is(err, payout.ErrAlreadyPending) {
		t.Fatalf("expected already pending, got %v", err)
	}
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict kind, got %v", apperr.KindOf(err))
	}
	if n := len(mem.LedgerEntries()); n != 2 {
		t.Fatalf("expected seed plus one debit, got %d entries", n)
	}
}

func TestRequestValidation(t *testing.T) {
	ctx := context.Background()
	mem, svc := setup(t, "20.00")

	if _, err := svc.Request(ctx, provider, money.MustParse("9.99")); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected below-minimum validation error, got %v", err)
	}
	if _, err := svc.Request(ctx, provider, money.MustParse("-5")); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected negative amount validation error, got %v", err)
	}
	_, err := svc.Request(ctx, provider, money.MustParse("20.01"))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if n := len(mem.LedgerEntries()); n != 1 {
		t.Fatalf("failed requests must not write, got %d entries", n)
	}
}

func TestRejectRefundsOnce(t *testing.T) {
	ctx := context.Background()
	mem, svc := setup(t, "80.00")

	req, err := svc.Request(ctx, provider, money.MustParse("50.00"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := available(t, mem, provider.ID); got != "30.00" {
		t.Fatalf("expected 30.00 available, got %s", got)
	}

	reviewed, err := svc.Review(ctx, admin, req.ID, payout.DecisionRejected, "  bank details mismatch ")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != payout.StatusRejected || reviewed.RefundLedgerEntryID == "" || reviewed.ReviewedAt == nil {
		t.Fatalf("unexpected reviewed request %+v", reviewed)
	}
	if reviewed.ReviewNotes != "bank details mismatch" {
		t.Fatalf("notes not trimmed: %q", reviewed.ReviewNotes)
	}
	if got := available(t, mem, provider.ID); got != "80.00" {
		t.Fatalf("expected 80.00 after refund, got %s", got)
	}

	entriesBefore := len(mem.LedgerEntries())
	_, err = svc.Review(ctx, admin, req.ID, payout.DecisionRejected, "again")
	if !errors.Is(err, payout.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
	if n := len(mem.LedgerEntries()); n != entriesBefore {
		t.Fatalf("second review must not write, got %d new entries", n-entriesBefore)
	}
	if n := len(mem.Events(outbox.TopicPayoutReviewed)); n != 1 {
		t.Fatalf("expected one review event, got %d", n)
	}

	if _, err := svc.Request(ctx, provider, money.MustParse("10.00")); err != nil {
		t.Fatalf("request after rejection: %v", err)
	}
}

func TestApproveKeepsDebit(t *testing.T) {
	ctx := context.Background()
	mem, svc := setup(t, "100.00")
	req, err := svc.Request(ctx, provider, money.MustParse("40.00"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	queue, err := svc.ListPending(ctx, admin)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != req.ID {
		t.Fatalf("unexpected queue %+v", queue)
	}

	if _, err := svc.Review(ctx, provider, req.ID, payout.DecisionApproved, ""); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("non-admin review must be refused, got %v", err)
	}
	out, err := svc.Review(ctx, admin, req.ID, payout.DecisionApproved, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if out.Status != payout.StatusApproved || out.RefundLedgerEntryID != "" {
		t.Fatalf("unexpected approved request %+v", out)
	}
	if got := available(t, mem, provider.ID); got != "60.00" {
		t.Fatalf("expected 60.00 available, got %s", got)
	}
	if _, err := svc.Review(ctx, admin, req.ID, payout.DecisionRejected, ""); !errors.Is(err, payout.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
}

func TestConcurrentRequestsLeaveOnePending(t *testing.T) {
	ctx := context.Background()
	mem, svc := setup(t, "100.00")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		pending int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Request(ctx, provider, money.MustParse("10.00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, payout.ErrAlreadyPending):
				pending++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || pending != 9 {
		t.Fatalf("expected 1 created and 9 already pending, got %d and %d", created, pending)
	}
	if got := available(t, mem, provider.ID); got != "90.00" {
		t.Fatalf("expected a single debit, got available %s", got)
	}
}

func TestGetHidesOtherAccounts(t *testing.T) {
	ctx := context.Background()
	_, svc := setup(t, "50.00")
	req, err := svc.Request(ctx, provider, money.MustParse("25.00"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	other := identity.Actor{ID: "prov-2", Role: identity.RoleProvider}
	if _, err := svc.Get(ctx, other, req.ID); !errors.Is(err, payout.ErrNotFound) {
		t.Fatalf("expected not found for another account, got %v", err)
	}
	if _, err := svc.Get(ctx, admin, req.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}
	mine, err := svc.ListByAccount(ctx, provider)
	if err != nil || len(mine) != 1 {
		t.Fatalf("list: %v %+v", err, mine)
	}
}

func TestParseDecision(t *testing.T) {
	if _, err := payout.ParseDecision("maybe"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if d, err := payout.ParseDecision("approved"); err != nil || d != payout.DecisionApproved {
		t.Fatalf("parse approved: %v %v", d, err)
	}
}
