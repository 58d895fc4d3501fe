package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const rateLimitPrefix = "rl:payout:"

// RateLimit caps requests per actor per minute. Counts live in Redis so every
// instance shares them; when Redis is unavailable each instance falls back to
// an in-process token bucket per actor.
func RateLimit(cache *redis.Client, perMinute int, logger *slog.Logger) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 5
	}
	local := newLocalLimiter(perMinute)
	return func(c *fiber.Ctx) error {
		actor, err := RequireActor(c)
		if err != nil {
			return err
		}
		if cache != nil {
			key := rateLimitPrefix + actor.ID
			cnt, err := cache.Incr(c.UserContext(), key).Result()
			if err == nil {
				if cnt == 1 {
					cache.Expire(c.UserContext(), key, time.Minute)
				}
				if cnt > int64(perMinute) {
					return fiber.NewError(http.StatusTooManyRequests, "too many payout requests, try again later")
				}
				return c.Next()
			}
			logger.Warn("rate limit store unavailable, using local limiter", slog.Any("error", err))
		}
		if !local.allow(actor.ID) {
			return fiber.NewError(http.StatusTooManyRequests, "too many payout requests, try again later")
		}
		return c.Next()
	}
}

type localLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
}

func newLocalLimiter(perMinute int) *localLimiter {
	return &localLimiter{perMin: perMinute, limiters: make(map[string]*rate.Limiter)}
}

func (l *localLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
