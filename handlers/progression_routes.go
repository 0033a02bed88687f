package handlers

import (
	"loop-economy/services"

	"github.com/gofiber/fiber/v2"
)

type advanceChallengeRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Increment int64  `json:"increment" validate:"required,gt=0"`
}

type awardXPRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Action string `json:"action" validate:"required,max=48"`
}

func setupProgressionRoutes(user fiber.Router, engine *services.Engine, limit fiber.Handler) {
	user.Get("/overview", func(c *fiber.Ctx) error {
		overview, err := engine.Overview(c.UserContext(), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(overview)
	})

	user.Get("/ledger", func(c *fiber.Ctx) error {
		page, err := engine.LedgerPage(c.UserContext(), currentUser(c), c.Query("before"), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(page)
	})

	user.Get("/achievements", func(c *fiber.Ctx) error {
		board, err := engine.AchievementBoard(c.UserContext(), currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"achievements": board})
	})

	user.Post("/achievements/evaluate", limit, func(c *fiber.Ctx) error {
		key, err := idempotencyKey(c)
		if err != nil {
			return respondError(c, err)
		}
		unlocked, err := engine.EvaluateAchievements(c.UserContext(), key, currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"unlocked": unlocked})
	})

	// Generating is idempotent per UTC day, so GET is safe here.
	user.Get("/challenges", limit, func(c *fiber.Ctx) error {
		challenges, err := engine.GenerateDailyChallenges(c.UserContext(), "", currentUser(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"challenges": challenges})
	})
}

// setupEventRoutes takes activity events from other platform services.
func setupEventRoutes(events fiber.Router, engine *services.Engine) {
	events.Post("/challenge-progress", func(c *fiber.Ctx) error {
		var req advanceChallengeRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		key, err := idempotencyKey(c)
		if err != nil {
			return respondError(c, err)
		}
		res, err := engine.AdvanceChallenge(c.UserContext(), key, req.UserID, req.Type, req.Increment)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	events.Post("/xp", func(c *fiber.Ctx) error {
		var req awardXPRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		key, err := idempotencyKey(c)
		if err != nil {
			return respondError(c, err)
		}
		progress, err := engine.AwardXP(c.UserContext(), key, req.UserID, req.Amount, req.Action)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(progress)
	})
}
