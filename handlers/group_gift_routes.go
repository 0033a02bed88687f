package handlers

import (
	"time"

	"loop-economy/apperrors"
	"loop-economy/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type createGroupGiftRequest struct {
	RecipientID string    `json:"recipient_id" validate:"required"`
	ItemID      string    `json:"item_id" validate:"required,uuid"`
	Deadline    time.Time `json:"deadline" validate:"required"`
	Message     string    `json:"message" validate:"max=280"`
}

type contributeRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// groupGiftID rejects ids that cannot name a group gift before they reach
// the uuid column.
func groupGiftID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", apperrors.ErrGroupGiftNotFound.WithDetails(map[string]interface{}{"group_gift_id": id})
	}
	return id, nil
}

func setupGroupGiftRoutes(user fiber.Router, engine *services.Engine, limit fiber.Handler) {
	user.Post("/group-gifts", limit, func(c *fiber.Ctx) error {
		var req createGroupGiftRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		key, err := idempotencyKey(c)
		if err != nil {
			return respondError(c, err)
		}
		gg, err := engine.CreateGroupGift(c.UserContext(), key, currentUser(c), req.RecipientID, req.ItemID, req.Deadline, req.Message)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(gg)
	})

	user.Get("/group-gifts/:id", func(c *fiber.Ctx) error {
		id, err := groupGiftID(c)
		if err != nil {
			return respondError(c, err)
		}
		view, err := engine.GroupGift(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(view)
	})

	user.Post("/group-gifts/:id/contribute", limit, func(c *fiber.Ctx) error {
		id, err := groupGiftID(c)
		if err != nil {
			return respondError(c, err)
		}
		var req contributeRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		key, err := idempotencyKey(c)
		if err != nil {
			return respondError(c, err)
		}
		res, err := engine.ContributeToGroupGift(c.UserContext(), key, id, currentUser(c), req.Amount)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}
