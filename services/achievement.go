package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"loop-economy/apperrors"
	"loop-economy/config"
	"loop-economy/metrics"
	"loop-economy/models"
	"loop-economy/store"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	log "github.com/sirupsen/logrus"
)

// Engine-owned stats merged into every snapshot.
const (
	StatXPTotal              = "xp_total"
	StatLevel                = "level"
	StatBalance              = "balance"
	StatGiftsSent            = "gifts_sent"
	StatGiftsReceived        = "gifts_received"
	StatChallengesCompleted  = "challenges_completed"
	StatAchievementsUnlocked = "achievements_unlocked"
)

// StatsProvider returns a user's stat snapshot.
type StatsProvider interface {
	Snapshot(ctx context.Context, st store.Store, userID string) (map[string]int64, error)
}

// StoreStatsProvider reads platform stats synced into user_stats and overlays
// the stats this service owns.
type StoreStatsProvider struct{}

func (StoreStatsProvider) Snapshot(ctx context.Context, st store.Store, userID string) (map[string]int64, error) {
	snap, err := st.GetUserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user stats: %w", err)
	}

	var xp, balance int64
	acct, err := st.GetAccount(ctx, userID)
	switch {
	case err == nil:
		xp, balance = acct.XPTotal, acct.Balance
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	counts, err := st.CountActivity(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count activity: %w", err)
	}

	snap[StatXPTotal] = xp
	snap[StatLevel] = int64(LevelForXP(xp))
	snap[StatBalance] = balance
	snap[StatGiftsSent] = counts.GiftsSent
	snap[StatGiftsReceived] = counts.GiftsReceived
	snap[StatChallengesCompleted] = counts.ChallengesCompleted
	snap[StatAchievementsUnlocked] = counts.AchievementsUnlocked
	return snap, nil
}

// RequirementsMet applies AND semantics; an empty list is always met.
func RequirementsMet(reqs []models.Requirement, snapshot map[string]int64) bool {
	for _, r := range reqs {
		if !requirementMet(r, snapshot) {
			return false
		}
	}
	return true
}

func requirementMet(r models.Requirement, snapshot map[string]int64) bool {
	switch r.Kind {
	case models.RequirementMinStat:
		v, ok := snapshot[r.Stat]
		return ok && v >= r.Threshold
	case models.RequirementMinLevel:
		xp, ok := snapshot[StatXPTotal]
		return ok && int64(LevelForXP(xp)) >= r.Threshold
	case models.RequirementMinXP:
		xp, ok := snapshot[StatXPTotal]
		return ok && xp >= r.Threshold
	default:
		return false
	}
}

// ValidateRequirements rejects unknown kinds and malformed entries.
func ValidateRequirements(reqs []models.Requirement) error {
	for i, r := range reqs {
		switch r.Kind {
		case models.RequirementMinStat:
			if strings.TrimSpace(r.Stat) == "" {
				return apperrors.Validation("requirement %d: min_stat needs a stat name", i)
			}
		case models.RequirementMinLevel, models.RequirementMinXP:
		default:
			return apperrors.Validation("requirement %d: unknown kind %q", i, r.Kind)
		}
		if r.Threshold < 0 {
			return apperrors.Validation("requirement %d: threshold must not be negative", i)
		}
	}
	return nil
}

type AchievementEngine struct {
	stats    StatsProvider
	xp       *XPService
	notifier *Notifier
	now      func() time.Time
	defs     *refCache
}

func NewAchievementEngine(stats StatsProvider, xp *XPService, notifier *Notifier, now func() time.Time) *AchievementEngine {
	e := &AchievementEngine{
		stats:    stats,
		xp:       xp,
		notifier: notifier,
		now:      now,
		defs:     newRefCache(8, time.Minute),
	}
	xp.SetEvaluator(e)
	return e
}

// Evaluate unlocks every active, not yet unlocked achievement whose
// requirements the user's current snapshot meets. Each candidate runs in its
// own savepoint: one failing unlock is logged and the rest still run.
// Unlock rewards can satisfy further requirements, so passes repeat until
// one unlocks nothing.
func (e *AchievementEngine) Evaluate(ctx context.Context, st store.Store, userID string) ([]models.AchievementDef, error) {
	var unlocked []models.AchievementDef
	for {
		batch, err := e.evaluateOnce(ctx, st, userID)
		if err != nil {
			return unlocked, err
		}
		if len(batch) == 0 {
			return unlocked, nil
		}
		unlocked = append(unlocked, batch...)
	}
}

func (e *AchievementEngine) evaluateOnce(ctx context.Context, st store.Store, userID string) ([]models.AchievementDef, error) {
	snapshot, err := e.stats.Snapshot(ctx, st, userID)
	if err != nil {
		return nil, err
	}
	candidates, err := st.ListLockedAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list locked achievements: %w", err)
	}

	var unlocked []models.AchievementDef
	for i := range candidates {
		def := candidates[i]
		if !RequirementsMet(def.Requirements, snapshot) {
			continue
		}

		first, err := e.unlock(ctx, st, userID, &def)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"user_id":        userID,
				"achievement_id": def.ID,
			}).Warn("achievement unlock failed, continuing with remaining candidates")
			metrics.RecordOperationError("evaluate_achievements", apperrors.FromError(err).Code)
			continue
		}
		if !first {
			log.WithFields(log.Fields{"user_id": userID, "code": def.Code}).
				Debug(apperrors.ErrAlreadyUnlocked.Message)
			continue
		}
		unlocked = append(unlocked, def)
	}
	return unlocked, nil
}

func (e *AchievementEngine) unlock(ctx context.Context, st store.Store, userID string, def *models.AchievementDef) (bool, error) {
	var first bool
	err := st.WithTx(ctx, func(tx store.Store) error {
		now := e.now()
		created, err := tx.UnlockAchievement(ctx, &models.UserAchievement{
			ID:            uuid.NewString(),
			UserID:        userID,
			AchievementID: def.ID,
			UnlockedAt:    &now,
			CreatedAt:     now,
		})
		if err != nil || !created {
			return err
		}
		first = true

		if def.XPReward > 0 {
			if _, err := e.xp.addXP(ctx, tx, userID, def.XPReward, models.ActionAchievementUnlock, map[string]any{
				"achievement_id": def.ID,
				"code":           def.Code,
			}); err != nil {
				return err
			}
		}
		return e.notifier.AchievementUnlocked(ctx, tx, userID, def)
	})
	if err != nil {
		return false, err
	}
	if first {
		metrics.RecordAchievementUnlocked()
		log.WithFields(log.Fields{"user_id": userID, "code": def.Code}).Info("🎖️ Achievement unlocked")
	}
	return first, nil
}

// Definitions returns the active definitions, cached for a minute.
func (e *AchievementEngine) Definitions(ctx context.Context, st store.Store) ([]models.AchievementDef, error) {
	if v, ok := e.defs.get("active"); ok {
		return v.([]models.AchievementDef), nil
	}
	defs, err := st.ListActiveAchievements(ctx)
	if err != nil {
		return nil, err
	}
	e.defs.put("active", defs)
	return defs, nil
}

// UpsertDefinition validates and stores a definition by code. The code
// defaults to a slug of the name.
func (e *AchievementEngine) UpsertDefinition(ctx context.Context, st store.Store, def *models.AchievementDef) error {
	if strings.TrimSpace(def.Name) == "" {
		return apperrors.Validation("achievement name is required")
	}
	if def.Code == "" {
		def.Code = slug.Make(def.Name)
	}
	if def.XPReward < 0 {
		return apperrors.Validation("xp_reward must not be negative")
	}
	if err := ValidateRequirements(def.Requirements); err != nil {
		return err
	}
	return st.UpsertAchievementDef(ctx, def)
}

// Invalidate drops the cached definitions once an upsert has committed.
func (e *AchievementEngine) Invalidate() {
	e.defs.purge()
}

// Seed upserts the definitions listed in the economy config.
func (e *AchievementEngine) Seed(ctx context.Context, st store.Store, seeds []config.AchievementSeed) error {
	for _, s := range seeds {
		reqs := make([]models.Requirement, 0, len(s.Requirements))
		for _, r := range s.Requirements {
			reqs = append(reqs, models.Requirement{
				Kind:      models.RequirementKind(r.Kind),
				Stat:      r.Stat,
				Threshold: r.Threshold,
			})
		}
		def := &models.AchievementDef{
			Code:         s.Code,
			Name:         s.Name,
			Description:  s.Description,
			Rarity:       s.Rarity,
			XPReward:     s.XPReward,
			Requirements: reqs,
			IsActive:     true,
		}
		if def.Rarity == "" {
			def.Rarity = "common"
		}
		if err := e.UpsertDefinition(ctx, st, def); err != nil {
			return fmt.Errorf("seed achievement %q: %w", s.Name, err)
		}
	}
	return nil
}
