package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/metrics"
)

// Metrics records request counts and latency by matched route.
func Metrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = StatusFor(err)
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		m.ObserveHTTP(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}
