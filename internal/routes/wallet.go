package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallet", h.Get)
}
