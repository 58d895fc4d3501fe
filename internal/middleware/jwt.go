package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/linyora/settlement/internal/identity"
)

const (
	actorLocal        = "actor"
	operatorKeyHeader = "X-Operator-Key"
)

// JWTAuth validates bearer tokens and stores the actor in the request locals.
func JWTAuth(verifier *identity.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		actor, err := verifier.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals(actorLocal, actor)
		return c.Next()
	}
}

// ActorFrom returns the authenticated actor of the request.
func ActorFrom(c *fiber.Ctx) (identity.Actor, bool) {
	actor, ok := c.Locals(actorLocal).(identity.Actor)
	return actor, ok && actor.ID != ""
}

// RequireActor is ActorFrom for handlers mounted behind JWTAuth.
func RequireActor(c *fiber.Ctx) (identity.Actor, error) {
	actor, ok := ActorFrom(c)
	if !ok {
		return identity.Actor{}, fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	return actor, nil
}

// RequireRole rejects actors whose role is not listed.
func RequireRole(roles ...identity.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := RequireActor(c)
		if err != nil {
			return err
		}
		for _, r := range roles {
			if actor.Role == r {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "role not permitted")
	}
}

// OperatorKey guards maintenance endpoints with the X-Operator-Key header.
func OperatorKey(key identity.OperatorKey) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := key.Check(c.Get(operatorKeyHeader)); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid operator key")
		}
		return c.Next()
	}
}
