package middleware

import (
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/linyora/settlement/internal/logging"
)

func rateLimitedApp(cache *redis.Client, perMinute int) *fiber.App {
	app := fiber.New()
	app.Use(asActor)
	app.Post("/payouts", RateLimit(cache, perMinute, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	return app
}

func statusFor(t *testing.T, app *fiber.App, actor string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/payouts", nil)
	req.Header.Set("X-Test-Actor", actor)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestRateLimitCountsPerActorInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := rateLimitedApp(cache, 2)
	for i := 0; i < 2; i++ {
		if got := statusFor(t, app, "p1"); got != fiber.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, got)
		}
	}
	if got := statusFor(t, app, "p1"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
	if got := statusFor(t, app, "p2"); got != fiber.StatusCreated {
		t.Fatalf("other actor should not be limited, got %d", got)
	}
	if ttl := mr.TTL(rateLimitPrefix + "p1"); ttl <= 0 {
		t.Fatalf("expected counter to expire, ttl=%v", ttl)
	}
}

func TestRateLimitFallsBackWithoutRedis(t *testing.T) {
	app := rateLimitedApp(nil, 1)
	if got := statusFor(t, app, "p1"); got != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", got)
	}
	if got := statusFor(t, app, "p1"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected local limiter to reject, got %d", got)
	}
}

func TestRateLimitRequiresActor(t *testing.T) {
	app := rateLimitedApp(nil, 1)
	if got := statusFor(t, app, ""); got != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without actor, got %d", got)
	}
}
