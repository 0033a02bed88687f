package middleware

import (
	"context"
	"strings"

	"loop-economy/services"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// TokenValidator is satisfied by services.AuthServiceClient.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// SSEAuthMiddleware validates the `token` and `device_id` query params with
// the auth service. EventSource cannot send headers, so stream routes
// authenticate here instead of through gateway identity headers.
func SSEAuthMiddleware(authClient TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			log.WithField("path", c.Path()).Warn("[SSEAuth] ❌ Missing token or device_id")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "VALIDATION_ERROR",
				"message": "missing token or device_id in query",
			})
		}

		resp, err := authClient.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			log.WithError(err).WithField("device_id", deviceID).Warn("[SSEAuth] ❌ Validation failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "UNAUTHORIZED",
				"message": "invalid access token",
			})
		}

		c.Locals("user_id", resp.UserID)
		c.Locals("device_id", resp.DeviceID)
		c.Locals("user_roles", resp.Roles)
		c.Locals("otp_not_required", resp.OTPNotRequiredForDevice)

		log.WithFields(log.Fields{"user_id": resp.UserID, "device_id": resp.DeviceID}).Info("[SSEAuth] ✅ Authenticated")
		return c.Next()
	}
}
