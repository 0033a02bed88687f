package handlers

import (
	"loop-economy/models"
	"loop-economy/services"

	"github.com/gofiber/fiber/v2"
)

type grantCoinsRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Amount int64  `json:"amount" validate:"required,ne=0"`
	Note   string `json:"note" validate:"max=200"`
}

type catalogItemRequest struct {
	Slug            string `json:"slug"`
	Name            string `json:"name" validate:"required"`
	Emoji           string `json:"emoji"`
	CoinPrice       int64  `json:"coin_price" validate:"gte=0"`
	Multiplier      int64  `json:"multiplier" validate:"gte=0"`
	GrantsInventory bool   `json:"grants_inventory"`
	IsActive        *bool  `json:"is_active"`
}

type achievementRequest struct {
	Code         string               `json:"code"`
	Name         string               `json:"name" validate:"required"`
	Description  string               `json:"description"`
	IconURL      string               `json:"icon_url" validate:"omitempty,url"`
	Rarity       string               `json:"rarity" validate:"omitempty,oneof=common rare epic legendary"`
	XPReward     int64                `json:"xp_reward" validate:"gte=0"`
	Requirements []models.Requirement `json:"requirements"`
	IsActive     *bool                `json:"is_active"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func setupAdminRoutes(admin fiber.Router, engine *services.Engine) {
	admin.Post("/xp/grant", func(c *fiber.Ctx) error {
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

	admin.Post("/coins/grant", func(c *fiber.Ctx) error {
		var req grantCoinsRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		key, err := idempotencyKey(c)
		if err != nil {
			return respondError(c, err)
		}
		res, err := engine.GrantCoins(c.UserContext(), key, currentUser(c), req.UserID, req.Amount, req.Note)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	admin.Put("/catalog", func(c *fiber.Ctx) error {
		var req catalogItemRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		item := &models.GiftCatalogItem{
			Slug:            req.Slug,
			Name:            req.Name,
			Emoji:           req.Emoji,
			CoinPrice:       req.CoinPrice,
			Multiplier:      req.Multiplier,
			GrantsInventory: req.GrantsInventory,
			IsActive:        boolOr(req.IsActive, true),
		}
		if err := engine.UpsertCatalogItem(c.UserContext(), item); err != nil {
			return respondError(c, err)
		}
		return c.JSON(item)
	})

	admin.Post("/achievements", func(c *fiber.Ctx) error {
		var req achievementRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		def := &models.AchievementDef{
			Code:         req.Code,
			Name:         req.Name,
			Description:  req.Description,
			IconURL:      req.IconURL,
			Rarity:       req.Rarity,
			XPReward:     req.XPReward,
			Requirements: req.Requirements,
			IsActive:     boolOr(req.IsActive, true),
		}
		if def.Rarity == "" {
			def.Rarity = "common"
		}
		if err := engine.UpsertAchievement(c.UserContext(), def); err != nil {
			return respondError(c, err)
		}
		return c.JSON(def)
	})

	admin.Post("/group-gifts/reconcile", func(c *fiber.Ctx) error {
		delivered, refunded, err := engine.ReconcileDeliveries(c.UserContext(), 200)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"delivered": delivered, "refunded": refunded})
	})
}
