package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"
	idempotencyPrefix       = "settlement:idempotency:v2:"
	idempotencyOpTimeout    = 2 * time.Second
)

// replay is what Redis holds per key: a pending marker while the first request
// runs, then the response it produced.
type replay struct {
	Fingerprint string `json:"fingerprint"`
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the stored response of an unsafe request retried with the
// same Idempotency-Key. Keys are scoped to the authenticated actor and route.
// Reusing a key with a different body is refused with 422.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		log := logger.With(slog.String("idempotency_key", key))
		slot := idempotencySlot{cache: cache, key: idempotencyCacheKey(c, key), ttl: ttl}
		fingerprint := requestFingerprint(c.Body())

		reserved, err := slot.reserve(c.UserContext(), fingerprint)
		if err != nil {
			log.Error("idempotency reservation failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}
		if !reserved {
			return replayPrior(c, slot, fingerprint, log)
		}

		if err := c.Next(); err != nil {
			slot.release(log)
			return err
		}

		// Server errors are not replayed; the caller may retry them.
		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			slot.release(log)
			return nil
		}

		done := replay{
			Fingerprint: fingerprint,
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if err := slot.save(done); err != nil {
			log.Error("persist idempotent response", slog.Any("error", err))
			slot.release(log)
		}
		return nil
	}
}

func replayPrior(c *fiber.Ctx, slot idempotencySlot, fingerprint string, log *slog.Logger) error {
	prior, err := slot.load(c.UserContext())
	if errors.Is(err, redis.Nil) {
		return fiber.NewError(fiber.StatusConflict, "duplicate request, retry")
	}
	if err != nil {
		log.Error("idempotency lookup failed", slog.Any("error", err))
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
	}
	if prior.Fingerprint != fingerprint {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key reused with a different request body")
	}
	if prior.Pending {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}
	if prior.ContentType != "" {
		c.Set(fiber.HeaderContentType, prior.ContentType)
	}
	c.Set(idempotencyReplayHeader, "true")
	return c.Status(prior.Status).Send(prior.Body)
}

func idempotencyCacheKey(c *fiber.Ctx, key string) string {
	scope := "anonymous"
	if actor, ok := ActorFrom(c); ok {
		scope = actor.ID
	}
	return idempotencyPrefix + scope + ":" + c.Method() + ":" + c.Path() + ":" + key
}

func requestFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type idempotencySlot struct {
	cache *redis.Client
	key   string
	ttl   time.Duration
}

func (s idempotencySlot) reserve(ctx context.Context, fingerprint string) (bool, error) {
	payload, err := json.Marshal(replay{Fingerprint: fingerprint, Pending: true})
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()
	return s.cache.SetNX(ctx, s.key, payload, s.ttl).Result()
}

func (s idempotencySlot) load(ctx context.Context) (replay, error) {
	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()
	raw, err := s.cache.Get(ctx, s.key).Bytes()
	if err != nil {
		return replay{}, err
	}
	var r replay
	if err := json.Unmarshal(raw, &r); err != nil {
		return replay{}, err
	}
	return r, nil
}

// save and release run detached from the request context so a cancelled client
// cannot leave the key stuck in the pending state.
func (s idempotencySlot) save(r replay) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	return s.cache.Set(ctx, s.key, payload, s.ttl).Err()
}

func (s idempotencySlot) release(log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	if err := s.cache.Del(ctx, s.key).Err(); err != nil {
		log.Warn("release idempotency key", slog.Any("error", err))
	}
}
