package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/clearance"
	"github.com/linyora/settlement/internal/metrics"
	"github.com/linyora/settlement/internal/outbox"
)

// RegisterOpsRoutes exposes on-demand runs of the background jobs for
// operators.
func RegisterOpsRoutes(r fiber.Router, clearer *clearance.Service, dispatcher *outbox.Dispatcher, m *metrics.Metrics) {
	r.Post("/clearance/run", func(c *fiber.Ctx) error {
		report, err := clearer.Run(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(report)
	})
	r.Post("/outbox/drain", func(c *fiber.Ctx) error {
		res, err := dispatcher.Drain(c.UserContext())
		if err != nil {
			return err
		}
		m.RecordOutbox(res.Dispatched, res.Failed)
		return c.JSON(res)
	})
}
