package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"loop-economy/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverview(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 40)
	_, err := h.engine.AwardXP(h.ctx, "", "alice", 1500, "manual")
	require.NoError(t, err)
	_, err = h.engine.GenerateDailyChallenges(h.ctx, "", "alice")
	require.NoError(t, err)

	ov, err := h.engine.Overview(h.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), ov.Balance)
	assert.Equal(t, 2, ov.Progress.Level)
	assert.Equal(t, int64(500), ov.Progress.Progress)
	assert.Len(t, ov.OpenChallenges, 3)
	assert.Zero(t, ov.AchievementsUnlocked)

	fresh, err := h.engine.Overview(h.ctx, "stranger")
	require.NoError(t, err)
	assert.Zero(t, fresh.Balance)
	assert.Equal(t, 1, fresh.Progress.Level)
}

func TestLedgerPagination(t *testing.T) {
	h := newHarness(t, testEconomy())
	for amount := int64(1); amount <= 5; amount++ {
		h.fund(t, "alice", amount)
	}

	var seen []int64
	cursor := ""
	for pages := 0; pages < 5; pages++ {
		page, err := h.engine.LedgerPage(h.ctx, "alice", cursor, 2)
		require.NoError(t, err)
		for _, e := range page.Entries {
			seen = append(seen, e.Amount)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, seen)

	page, err := h.engine.LedgerPage(h.ctx, "alice", "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 5)
	assert.Empty(t, page.NextCursor)
}

func TestLevelMath(t *testing.T) {
	tests := []struct {
		xp       int64
		level    int
		progress int64
	}{
		{0, 1, 0},
		{999, 1, 999},
		{1000, 2, 0},
		{2500, 3, 500},
		{-5, 1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, LevelForXP(tt.xp), "xp %d", tt.xp)
		assert.Equal(t, tt.progress, ProgressForXP(tt.xp), "xp %d", tt.xp)
	}
	assert.Equal(t, "Bronze", ProgressFor("u", 4000).RankName)
	assert.Equal(t, "Rookie", ProgressFor("u", 0).RankName)
}

func TestAwardXPReportsLevelUp(t *testing.T) {
	h := newHarness(t, testEconomy())

	p, err := h.engine.AwardXP(h.ctx, "", "alice", 1200, "manual")
	require.NoError(t, err)
	assert.True(t, p.LeveledUp)
	assert.Equal(t, int64(200), p.Progress)

	p, err = h.engine.AwardXP(h.ctx, "", "alice", 100, "manual")
	require.NoError(t, err)
	assert.False(t, p.LeveledUp)

	entries, err := h.store.ListLedger(h.ctx, "alice", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.LedgerKindXP, entries[0].Kind)
	assert.Equal(t, int64(1300), entries[0].BalanceAfter)

	_, err = h.engine.AwardXP(h.ctx, "", "alice", 0, "manual")
	assert.Error(t, err)
}

type recordedUpload struct {
	key, contentType string
	body             []byte
}

func TestLedgerArchiver(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 10)
	h.fund(t, "bob", 20)

	var uploads []recordedUpload
	archiver := &LedgerArchiver{
		Store: h.store,
		Upload: func(_ context.Context, key string, body []byte, contentType string) error {
			uploads = append(uploads, recordedUpload{key: key, body: body, contentType: contentType})
			return nil
		},
		Now: func() time.Time { return h.clock.Now().Add(24 * time.Hour) },
	}

	n, err := archiver.ArchivePreviousDay(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, uploads, 1)
	assert.Equal(t, "ledger/2026-10-18.jsonl", uploads[0].key)
	assert.Equal(t, "application/x-ndjson", uploads[0].contentType)

	var users []string
	sc := bufio.NewScanner(bytes.NewReader(uploads[0].body))
	for sc.Scan() {
		var e models.LedgerEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		users = append(users, e.UserID)
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)

	n, err = archiver.ArchiveDay(h.ctx, h.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	archiver.Upload = func(context.Context, string, []byte, string) error { return errors.New("bucket gone") }
	_, err = archiver.ArchiveDay(h.ctx, h.clock.Now())
	assert.Error(t, err)
}

func TestParseClock(t *testing.T) {
	h, m, err := parseClock("03:30")
	require.NoError(t, err)
	assert.Equal(t, uint(3), h)
	assert.Equal(t, uint(30), m)

	for _, bad := range []string{"24:00", "12:60", "noon", "7"} {
		_, _, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestRefCacheExpires(t *testing.T) {
	c := newRefCache(2, time.Millisecond)
	c.put("k", 1)
	v, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	time.Sleep(5 * time.Millisecond)
	_, ok = c.get("k")
	assert.False(t, ok)
}
