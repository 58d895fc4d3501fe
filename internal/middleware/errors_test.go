package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/apperr"
	"github.com/linyora/settlement/internal/logging"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad"), http.StatusBadRequest},
		{apperr.Authorization("no"), http.StatusForbidden},
		{apperr.New(apperr.KindInsufficientFunds, "short"), http.StatusUnprocessableEntity},
		{apperr.New(apperr.KindConflict, "again"), http.StatusConflict},
		{apperr.NotFound("gone"), http.StatusNotFound},
		{apperr.Gateway("capture", errors.New("timeout")), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
		{apperr.Wrap("op", apperr.Validation("wrapped")), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(RequestID())
	app.Get("/internal", func(c *fiber.Ctx) error { return errors.New("connection refused on 10.0.0.3") })
	app.Get("/conflict", func(c *fiber.Ctx) error {
		return apperr.Wrap("payout.Review", apperr.New(apperr.KindConflict, "payout request already processed"))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/internal", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError || body["error"] != "internal error" {
		t.Fatalf("unexpected internal response %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/conflict", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body = map[string]string{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusConflict || body["kind"] != "conflict" || body["error"] != "payout request already processed" {
		t.Fatalf("unexpected conflict response %d %v", resp.StatusCode, body)
	}
}
