package services

import (
	"context"
	"errors"
	"testing"

	"loop-economy/apperrors"
	"loop-economy/config"
	"loop-economy/models"
	"loop-economy/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func achievementEconomy() config.Economy {
	econ := testEconomy()
	econ.Achievements = []config.AchievementSeed{
		{Code: "welcome", Name: "Welcome Aboard", XPReward: 25},
		{Code: "creator", Name: "Creator", XPReward: 50, Requirements: []config.RequirementSeed{
			{Kind: "min_stat", Stat: "loops_created", Threshold: 5},
		}},
		{Code: "generous", Name: "Generous", XPReward: 100, Requirements: []config.RequirementSeed{
			{Kind: "min_stat", Stat: StatGiftsSent, Threshold: 1},
		}},
		{Code: "level-2", Name: "Level Two", Rarity: "rare", Requirements: []config.RequirementSeed{
			{Kind: "min_level", Threshold: 2},
		}},
	}
	return econ
}

func codes(defs []models.AchievementDef) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Code)
	}
	return out
}

func TestRequirementsMet(t *testing.T) {
	snapshot := map[string]int64{StatXPTotal: 2500, "followers": 10}

	tests := []struct {
		name string
		reqs []models.Requirement
		want bool
	}{
		{"empty list", nil, true},
		{"stat at threshold", []models.Requirement{models.MinStat("followers", 10)}, true},
		{"stat below threshold", []models.Requirement{models.MinStat("followers", 11)}, false},
		{"unknown stat", []models.Requirement{models.MinStat("loops_created", 0)}, false},
		{"level", []models.Requirement{models.MinLevel(3)}, true},
		{"level too high", []models.Requirement{models.MinLevel(4)}, false},
		{"xp", []models.Requirement{models.MinXP(2500)}, true},
		{"all must hold", []models.Requirement{models.MinXP(100), models.MinStat("followers", 50)}, false},
		{"unknown kind", []models.Requirement{{Kind: "min_vibes", Threshold: 1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequirementsMet(tt.reqs, snapshot))
		})
	}
}

func TestValidateRequirements(t *testing.T) {
	assert.NoError(t, ValidateRequirements([]models.Requirement{models.MinLevel(5), models.MinStat("followers", 1)}))
	assert.Error(t, ValidateRequirements([]models.Requirement{{Kind: models.RequirementMinStat, Threshold: 1}}))
	assert.Error(t, ValidateRequirements([]models.Requirement{{Kind: "bogus"}}))
	assert.Error(t, ValidateRequirements([]models.Requirement{models.MinXP(-1)}))
}

func TestEvaluateUnlocksOnceAndPaysReward(t *testing.T) {
	h := newHarness(t, achievementEconomy())

	require.NoError(t, h.store.UpsertUserStats(h.ctx, []models.UserStat{
		{UserID: "carol", Stat: "loops_created", Value: 5},
	}))

	unlocked, err := h.engine.EvaluateAchievements(h.ctx, "", "carol")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"creator", "welcome"}, codes(unlocked))

	progress, err := h.engine.XP.ProgressOf(h.ctx, h.store, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(75), progress.XPTotal)
	assert.Len(t, h.outboxFor("carol", models.NotifyAchievementUnlocked), 2)

	again, err := h.engine.EvaluateAchievements(h.ctx, "", "carol")
	require.NoError(t, err)
	assert.NotNil(t, again)
	assert.Empty(t, again)
	assert.Len(t, h.outboxFor("carol", models.NotifyAchievementUnlocked), 2)
}

// faultyStore fails selected writes, including those made inside nested
// transactions.
type faultyStore struct {
	store.Store
	failUnlock func(ua *models.UserAchievement) bool
	failXP     func(delta int64) bool
}

func (s faultyStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return s.Store.WithTx(ctx, func(tx store.Store) error {
		return fn(faultyStore{Store: tx, failUnlock: s.failUnlock, failXP: s.failXP})
	})
}

func (s faultyStore) UnlockAchievement(ctx context.Context, ua *models.UserAchievement) (bool, error) {
	if s.failUnlock != nil && s.failUnlock(ua) {
		return false, errors.New("connection reset")
	}
	return s.Store.UnlockAchievement(ctx, ua)
}

func (s faultyStore) AddXP(ctx context.Context, userID string, delta int64) (int64, error) {
	if s.failXP != nil && s.failXP(delta) {
		return 0, errors.New("connection reset")
	}
	return s.Store.AddXP(ctx, userID, delta)
}

func TestEvaluateIsolatesFailingCandidate(t *testing.T) {
	tests := []struct {
		name  string
		store func(creatorID string, root store.Store) store.Store
	}{
		{"unlock insert fails", func(creatorID string, root store.Store) store.Store {
			return faultyStore{Store: root, failUnlock: func(ua *models.UserAchievement) bool {
				return ua.AchievementID == creatorID
			}}
		}},
		{"reward fails after insert", func(_ string, root store.Store) store.Store {
			return faultyStore{Store: root, failXP: func(delta int64) bool { return delta == 50 }}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, achievementEconomy())
			require.NoError(t, h.store.UpsertUserStats(h.ctx, []models.UserStat{
				{UserID: "carol", Stat: "loops_created", Value: 5},
			}))

			var creatorID string
			defs, err := h.engine.Achievements.Definitions(h.ctx, h.store)
			require.NoError(t, err)
			for _, d := range defs {
				if d.Code == "creator" {
					creatorID = d.ID
				}
			}
			require.NotEmpty(t, creatorID)

			unlocked, err := h.engine.Achievements.Evaluate(h.ctx, tt.store(creatorID, h.store), "carol")
			require.NoError(t, err)
			assert.Equal(t, []string{"welcome"}, codes(unlocked))

			owned, err := h.store.ListUserAchievements(h.ctx, "carol")
			require.NoError(t, err)
			require.Len(t, owned, 1)
			assert.NotEqual(t, creatorID, owned[0].AchievementID)

			progress, err := h.engine.XP.ProgressOf(h.ctx, h.store, "carol")
			require.NoError(t, err)
			assert.Equal(t, int64(25), progress.XPTotal)
			assert.Len(t, h.outboxFor("carol", models.NotifyAchievementUnlocked), 1)

			again, err := h.engine.EvaluateAchievements(h.ctx, "", "carol")
			require.NoError(t, err)
			assert.Equal(t, []string{"creator"}, codes(again))
		})
	}
}

func TestXPAwardTriggersLevelAchievement(t *testing.T) {
	h := newHarness(t, achievementEconomy())

	progress, err := h.engine.AwardXP(h.ctx, "", "dave", 990, "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Level)

	board, err := h.engine.AchievementBoard(h.ctx, "dave")
	require.NoError(t, err)
	state := map[string]bool{}
	for _, s := range board {
		state[s.Code] = s.Unlocked
	}
	// welcome's 25 xp pushes dave past 1000, which unlocks level-2 in the same call
	assert.True(t, state["welcome"])
	assert.True(t, state["level-2"])
	assert.False(t, state["creator"])
	assert.False(t, state["generous"])

	progress, err = h.engine.XP.ProgressOf(h.ctx, h.store, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(1015), progress.XPTotal)
	assert.Equal(t, 2, progress.Level)
}

func TestGiftUnlocksGiftStatAchievement(t *testing.T) {
	h := newHarness(t, achievementEconomy())
	h.fund(t, "erin", 10)

	_, err := h.engine.SendGift(h.ctx, "", "erin", "frank", h.item(t, "rose").ID, "", false)
	require.NoError(t, err)

	mine, err := h.store.ListUserAchievements(h.ctx, "erin")
	require.NoError(t, err)
	assert.Len(t, mine, 2) // welcome and generous
}

func TestUpsertAchievementValidates(t *testing.T) {
	h := newHarness(t, achievementEconomy())

	err := h.engine.UpsertAchievement(h.ctx, &models.AchievementDef{Name: "Broken", Requirements: []models.Requirement{{Kind: "nope"}}})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	def := &models.AchievementDef{Name: "Night Owl", IsActive: true, Requirements: []models.Requirement{models.MinXP(1)}}
	require.NoError(t, h.engine.UpsertAchievement(h.ctx, def))
	assert.Equal(t, "night-owl", def.Code)
	assert.NotEmpty(t, def.ID)

	board, err := h.engine.AchievementBoard(h.ctx, "nobody")
	require.NoError(t, err)
	assert.Len(t, board, 5)
}
