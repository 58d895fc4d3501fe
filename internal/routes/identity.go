package routes

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/identity"
)

// RegisterDevTokenRoute issues signed tokens for any account and role. It is
// only mounted in development.
func RegisterDevTokenRoute(r fiber.Router, issuer *identity.Issuer, logger *slog.Logger) {
	r.Post("/dev/token", func(c *fiber.Ctx) error {
		var req struct {
			AccountID string `json:"account_id"`
			Role      string `json:"role"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		role, err := identity.ParseRole(req.Role)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if req.AccountID == "" {
			return fiber.NewError(http.StatusBadRequest, "account_id is required")
		}
		token, err := issuer.Issue(identity.Actor{ID: req.AccountID, Role: role})
		if err != nil {
			return err
		}
		logger.Info("dev token issued", slog.String("account_id", req.AccountID), slog.String("role", string(role)))
		return c.Status(http.StatusCreated).JSON(fiber.Map{"token": token, "token_type": "Bearer"})
	})
}
