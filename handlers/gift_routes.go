package handlers

import (
	"loop-economy/services"

	"github.com/gofiber/fiber/v2"
)

type sendGiftRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	ItemID      string `json:"item_id" validate:"required,uuid"`
	Message     string `json:"message" validate:"max=280"`
	IsAnonymous bool   `json:"is_anonymous"`
}

func listCatalog(engine *services.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		items, err := engine.ListCatalog(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"items": items})
	}
}

func setupGiftRoutes(user fiber.Router, engine *services.Engine, limit fiber.Handler) {
	user.Post("/gifts", limit, func(c *fiber.Ctx) error {
		var req sendGiftRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		key, err := idempotencyKey(c)
		if err != nil {
			return respondError(c, err)
		}
		gt, err := engine.SendGift(c.UserContext(), key, currentUser(c), req.RecipientID, req.ItemID, req.Message, req.IsAnonymous)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(gt)
	})

	user.Get("/inventory", func(c *fiber.Ctx) error {
		items, err := engine.Inventory(c.UserContext(), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"items": items})
	})
}
