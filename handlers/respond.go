package handlers

import (
	"strings"

	"loop-economy/apperrors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

const maxIdempotencyKeyLen = 128

var validate = validator.New()

// respondError writes {"error": code, "message": ...} with the error's status.
func respondError(c *fiber.Ctx, err error) error {
	appErr := apperrors.FromError(err)
	if appErr.StatusCode >= fiber.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{"path": c.Path(), "method": c.Method()}).Error("request failed")
	}
	body := fiber.Map{
		"error":   appErr.Code,
		"message": appErr.Message,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	return c.Status(appErr.StatusCode).JSON(body)
}

// parseBody decodes and validates a JSON body into out.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.Validation("invalid request body").WithError(err)
	}
	if err := validate.Struct(out); err != nil {
		return apperrors.ParseValidationErrors(err)
	}
	return nil
}

func idempotencyKey(c *fiber.Ctx) (string, error) {
	key := strings.TrimSpace(c.Get("Idempotency-Key"))
	if len(key) > maxIdempotencyKeyLen {
		return "", apperrors.Validation("Idempotency-Key must be at most %d characters", maxIdempotencyKeyLen)
	}
	return key, nil
}

func currentUser(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}
