package services

import (
	"errors"
	"testing"
	"time"

	"loop-economy/apperrors"
	"loop-economy/config"
	"loop-economy/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDailyIsOncePerDay(t *testing.T) {
	h := newHarness(t, testEconomy())

	first, err := h.engine.GenerateDailyChallenges(h.ctx, "", "alice")
	require.NoError(t, err)
	require.Len(t, first, 3)
	for _, ch := range first {
		assert.Equal(t, "2026-10-18", ch.Day)
		assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), ch.ExpiresAt)
		assert.Zero(t, ch.CurrentProgress)
	}

	second, err := h.engine.GenerateDailyChallenges(h.ctx, "", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, first, second)

	h.clock.Advance(24 * time.Hour)
	tomorrow, err := h.engine.GenerateDailyChallenges(h.ctx, "", "alice")
	require.NoError(t, err)
	require.Len(t, tomorrow, 3)
	assert.Equal(t, "2026-10-19", tomorrow[0].Day)
}

func TestTemplatesForRotatesStably(t *testing.T) {
	templates := []config.ChallengeTemplate{{Type: "a"}, {Type: "b"}, {Type: "c"}, {Type: "d"}}
	tracker := NewChallengeTracker(nil, nil, nil, templates, 2, time.Now)

	picked := tracker.templatesFor("alice", "2026-10-18")
	require.Len(t, picked, 2)
	assert.Equal(t, picked, tracker.templatesFor("alice", "2026-10-18"))

	all := NewChallengeTracker(nil, nil, nil, templates, 0, time.Now)
	assert.Len(t, all.templatesFor("alice", "2026-10-18"), 4)
}

func TestAdvanceClampsAndRewardsOnce(t *testing.T) {
	h := newHarness(t, testEconomy())
	_, err := h.engine.GenerateDailyChallenges(h.ctx, "", "alice")
	require.NoError(t, err)

	res, err := h.engine.AdvanceChallenge(h.ctx, "", "alice", "like", 2)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, int64(2), res.Challenge.CurrentProgress)

	res, err = h.engine.AdvanceChallenge(h.ctx, "", "alice", "like", 5)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.JustCompleted)
	assert.Equal(t, int64(3), res.Challenge.CurrentProgress)

	res, err = h.engine.AdvanceChallenge(h.ctx, "", "alice", "like", 1)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.False(t, res.JustCompleted)

	assert.Equal(t, int64(15), h.balance(t, "alice"))
	progress, err := h.engine.XP.ProgressOf(h.ctx, h.store, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(30), progress.XPTotal)
	assert.Len(t, h.outboxFor("alice", models.NotifyChallengeCompleted), 1)
}

func TestAdvanceMissingOrExpiredChallenge(t *testing.T) {
	h := newHarness(t, testEconomy())

	res, err := h.engine.AdvanceChallenge(h.ctx, "", "alice", "like", 1)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Nil(t, res.Challenge)

	_, err = h.engine.AdvanceChallenge(h.ctx, "", "alice", "like", 0)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = h.engine.GenerateDailyChallenges(h.ctx, "", "alice")
	require.NoError(t, err)
	h.clock.Advance(13 * time.Hour)

	// the old day's challenge is out of reach once the UTC day rolls over
	res, err = h.engine.AdvanceChallenge(h.ctx, "", "alice", "like", 3)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Zero(t, h.balance(t, "alice"))
}

func TestExpiredChallengeIsInert(t *testing.T) {
	h := newHarness(t, testEconomy())
	_, err := h.engine.GenerateDailyChallenges(h.ctx, "", "alice")
	require.NoError(t, err)

	ch, err := h.store.FindDailyChallenge(h.ctx, "alice", "like", "2026-10-18")
	require.NoError(t, err)
	res, err := h.engine.Challenges.Advance(h.ctx, h.store, "alice", "like", 1)
	require.NoError(t, err)
	require.Equal(t, ch.ID, res.Challenge.ID)

	advanced, err := h.store.AdvanceChallenge(h.ctx, ch.ID, 5, ch.ExpiresAt)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestSendGiftAdvancesSendGiftChallenge(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 10)
	_, err := h.engine.GenerateDailyChallenges(h.ctx, "", "alice")
	require.NoError(t, err)

	_, err = h.engine.SendGift(h.ctx, "", "alice", "bob", h.item(t, "rose").ID, "", false)
	require.NoError(t, err)

	ch, err := h.store.FindDailyChallenge(h.ctx, "alice", ChallengeSendGift, "2026-10-18")
	require.NoError(t, err)
	assert.True(t, ch.IsCompleted)
	// 10 funded - 10 spent + 20 challenge reward
	assert.Equal(t, int64(20), h.balance(t, "alice"))

	open, err := h.engine.Challenges.ListOpen(h.ctx, h.store, "alice")
	require.NoError(t, err)
	assert.Len(t, open, 2)
}
