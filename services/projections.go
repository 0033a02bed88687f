package services

import (
	"context"
	"errors"

	"loop-economy/apperrors"
	"loop-economy/models"
	"loop-economy/store"

	"golang.org/x/sync/errgroup"
)

const (
	defaultLedgerPage = 50
	maxLedgerPage     = 200
)

// Overview is the read model behind the profile header: balance, level and
// what is left to do today.
type Overview struct {
	UserID               string                  `json:"user_id"`
	Balance              int64                   `json:"balance"`
	Progress             Progress                `json:"progress"`
	OpenChallenges       []models.DailyChallenge `json:"open_challenges"`
	AchievementsUnlocked int                     `json:"achievements_unlocked"`
}

func (e *Engine) Overview(ctx context.Context, userID string) (*Overview, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	out := &Overview{UserID: userID, Progress: ProgressFor(userID, 0)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acct, err := e.store.GetAccount(gctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.Balance = acct.Balance
		out.Progress = ProgressFor(userID, acct.XPTotal)
		return nil
	})
	g.Go(func() error {
		open, err := e.Challenges.ListOpen(gctx, e.store, userID)
		if err != nil {
			return err
		}
		out.OpenChallenges = open
		return nil
	})
	g.Go(func() error {
		unlocked, err := e.store.ListUserAchievements(gctx, userID)
		if err != nil {
			return err
		}
		out.AchievementsUnlocked = len(unlocked)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, apperrors.FromError(err)
	}
	return out, nil
}

type LedgerPage struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// LedgerPage lists a user's entries newest first. Pass NextCursor back as
// before to read the following page.
func (e *Engine) LedgerPage(ctx context.Context, userID, before string, limit int) (*LedgerPage, error) {
	if limit <= 0 {
		limit = defaultLedgerPage
	}
	limit = min(limit, maxLedgerPage)

	entries, err := e.store.ListLedger(ctx, userID, before, limit+1)
	if err != nil {
		return nil, apperrors.FromError(err)
	}
	page := &LedgerPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = entries[limit-1].ID
	}
	return page, nil
}

type AchievementStatus struct {
	models.AchievementDef
	Unlocked   bool   `json:"unlocked"`
	UnlockedAt *int64 `json:"unlocked_at,omitempty"`
}

// AchievementBoard lists every active definition with the user's unlock state.
func (e *Engine) AchievementBoard(ctx context.Context, userID string) ([]AchievementStatus, error) {
	defs, err := e.Achievements.Definitions(ctx, e.store)
	if err != nil {
		return nil, apperrors.FromError(err)
	}
	mine, err := e.store.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, apperrors.FromError(err)
	}
	unlockedAt := make(map[string]*int64, len(mine))
	for _, ua := range mine {
		var ts *int64
		if ua.UnlockedAt != nil {
			v := ua.UnlockedAt.Unix()
			ts = &v
		}
		unlockedAt[ua.AchievementID] = ts
	}

	board := make([]AchievementStatus, 0, len(defs))
	for _, d := range defs {
		ts, ok := unlockedAt[d.ID]
		board = append(board, AchievementStatus{AchievementDef: d, Unlocked: ok, UnlockedAt: ts})
	}
	return board, nil
}

func (e *Engine) Inventory(ctx context.Context, userID string) ([]models.InventoryItem, error) {
	items, err := e.store.ListInventory(ctx, userID)
	if err != nil {
		return nil, apperrors.FromError(err)
	}
	return items, nil
}

func (e *Engine) GroupGift(ctx context.Context, id string) (*GroupGiftView, error) {
	view, err := e.GroupGifts.Get(ctx, e.store, id)
	if err != nil {
		return nil, apperrors.FromError(err)
	}
	return view, nil
}

func (e *Engine) ListCatalog(ctx context.Context) ([]models.GiftCatalogItem, error) {
	items, err := e.Catalog.List(ctx, e.store)
	if err != nil {
		return nil, apperrors.FromError(err)
	}
	return items, nil
}

func (e *Engine) UpsertCatalogItem(ctx context.Context, item *models.GiftCatalogItem) error {
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		return e.Catalog.Upsert(ctx, tx, item)
	})
	if err != nil {
		return e.fail("upsert_catalog_item", err)
	}
	e.Catalog.Invalidate()
	return nil
}

func (e *Engine) UpsertAchievement(ctx context.Context, def *models.AchievementDef) error {
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		return e.Achievements.UpsertDefinition(ctx, tx, def)
	})
	if err != nil {
		return e.fail("upsert_achievement", err)
	}
	e.Achievements.Invalidate()
	return nil
}
