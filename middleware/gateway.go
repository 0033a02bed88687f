package middleware

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// UserContextMiddleware reads the identity headers set by the gateway into
// Locals: user_id, user_roles and otp_not_required. Routes under /s/ and
// /user/ require X-User-ID.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		rolesStr := c.Get("X-User-Roles")

		path := c.Path()
		isSecured := strings.HasPrefix(path, "/s/") || strings.HasPrefix(path, "/user/")
		if isSecured && userID == "" {
			log.WithField("path", path).Warn("❌ [USER_CTX] X-User-ID required but missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "UNAUTHORIZED",
				"message": "missing X-User-ID, request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(rolesStr, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)
		c.Locals("otp_not_required", strings.EqualFold(c.Get("X-Otp-Not-Required"), "true"))

		log.WithFields(log.Fields{"user_id": userID, "roles": roles, "path": path}).Debug("👤 [USER_CTX]")
		return c.Next()
	}
}

// RequireRole rejects callers whose gateway roles include none of allowed.
func RequireRole(allowed ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals("user_roles").([]string)
		for _, r := range allowed {
			if slices.Contains(roles, r) {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "FORBIDDEN",
			"message": strings.Join(allowed, " or ") + " role required",
		})
	}
}
