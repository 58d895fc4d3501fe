package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/agreement"
)

// RegisterAgreementRoutes wires agreement lifecycle endpoints.
func RegisterAgreementRoutes(r fiber.Router, h *agreement.Handler) {
	group := r.Group("/agreements")
	group.Post("/", h.Initiate)
	group.Get("/", h.List)
	group.Get("/:id", h.Get)
	for _, event := range []agreement.Event{
		agreement.EventAccept,
		agreement.EventReject,
		agreement.EventStart,
		agreement.EventDeliver,
		agreement.EventComplete,
		agreement.EventDispute,
	} {
		group.Post("/:id/"+string(event), h.Transition(event))
	}
	group.Post("/:id/resolve", h.Resolve)
	group.Post("/:id/reconcile", h.Reconcile)

	r.Get("/admin/reconciliation", h.Reconciliation)
}
