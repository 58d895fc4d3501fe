package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/payout"
)

// RegisterPayoutRoutes wires payout request and review endpoints.
func RegisterPayoutRoutes(r fiber.Router, h *payout.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/payouts")
	if rateLimiter != nil {
		group.Post("/", rateLimiter, h.Create)
	} else {
		group.Post("/", h.Create)
	}
	group.Get("/", h.List)
	group.Get("/:id", h.Get)

	admin := r.Group("/admin/payouts")
	admin.Get("/pending", h.Pending)
	admin.Post("/:id/review", h.Review)
}
