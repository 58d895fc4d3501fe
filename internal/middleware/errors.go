package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/apperr"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error as {"error": ..., "kind": ...}. Internal
// errors are logged and their text is not exposed.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		status := StatusFor(err)
		kind := apperr.KindOf(err)
		msg := apperr.Message(err)
		if status == http.StatusInternalServerError {
			requestID, _ := c.Locals(requestIDHeader).(string)
			logger.Error("request failed", slog.String("path", c.Path()), slog.String("request_id", requestID), slog.Any("error", err))
			msg = "internal error"
		}
		return c.Status(status).JSON(fiber.Map{"error": msg, "kind": kind.String()})
	}
}
