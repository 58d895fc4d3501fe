package wallet_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/identity"
	"github.com/linyora/settlement/internal/ledger"
	"github.com/linyora/settlement/internal/logging"
	"github.com/linyora/settlement/internal/middleware"
	"github.com/linyora/settlement/internal/money"
	"github.com/linyora/settlement/internal/store"
	"github.com/linyora/settlement/internal/wallet"
)

var (
	provider = identity.Actor{ID: "prov-1", Role: identity.RoleProvider}
	other    = identity.Actor{ID: "prov-2", Role: identity.RoleProvider}
	admin    = identity.Actor{ID: "admin-1", Role: identity.RoleAdmin}
)

func seeded(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, e := range []ledger.Entry{
		{AccountID: provider.ID, Amount: money.MustParse("900.00"), Kind: ledger.KindEarning, Status: ledger.StatusPendingClearance, Description: "earning"},
		{AccountID: provider.ID, Amount: money.MustParse("120.50"), Kind: ledger.KindAdjustment, Status: ledger.StatusCleared, Description: "opening balance"},
		{AccountID: other.ID, Amount: money.MustParse("5.00"), Kind: ledger.KindAdjustment, Status: ledger.StatusCleared, Description: "other"},
	} {
		if _, err := mem.SeedEntry(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return mem
}

func TestStatementAccess(t *testing.T) {
	ctx := context.Background()
	svc := wallet.NewService(store.WalletRunner(seeded(t)))

	st, err := svc.Statement(ctx, provider, "", 0)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if money.String(st.Balances.Available) != "120.50" || money.String(st.Balances.PendingClearance) != "900.00" {
		t.Fatalf("unexpected balances %+v", st.Balances)
	}
	if len(st.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(st.Entries))
	}

	if _, err := svc.Statement(ctx, other, provider.ID, 0); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	b, err := svc.Balance(ctx, admin, provider.ID)
	if err != nil {
		t.Fatalf("admin balance: %v", err)
	}
	if money.String(b.Total()) != "1020.50" {
		t.Fatalf("unexpected total %s", b.Total())
	}
}

func newApp(t *testing.T, mem *store.Memory) (*fiber.App, *identity.Issuer) {
	t.Helper()
	secret := []byte("wallet-test-secret")
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Discard())})
	h := wallet.NewHandler(wallet.NewService(store.WalletRunner(mem)))
	app.Get("/wallet", middleware.JWTAuth(identity.NewVerifier(secret)), h.Get)
	return app, identity.NewIssuer(secret, time.Hour)
}

func get(t *testing.T, app *fiber.App, issuer *identity.Issuer, actor identity.Actor, target string) *http.Response {
	t.Helper()
	token, err := issuer.Issue(actor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func TestHandlerGet(t *testing.T) {
	app, issuer := newApp(t, seeded(t))

	resp := get(t, app, issuer, provider, "/wallet")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		AccountID        string `json:"account_id"`
		Available        string `json:"available"`
		PendingClearance string `json:"pending_clearance"`
		Entries          []struct {
			Amount string `json:"amount"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AccountID != provider.ID || body.Available != "120.50" || body.PendingClearance != "900.00" {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(body.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(body.Entries))
	}

	resp = get(t, app, issuer, other, "/wallet?account_id="+provider.ID)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign wallet, got %d", resp.StatusCode)
	}
	resp = get(t, app, issuer, admin, "/wallet?account_id="+provider.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}
