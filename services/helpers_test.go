package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"loop-economy/config"
	"loop-economy/models"
	"loop-economy/store"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testEconomy() config.Economy {
	return config.Economy{
		GiftSenderXP:        10,
		DailyChallengeCount: 0,
		OutboxMaxAttempts:   3,
		Challenges: []config.ChallengeTemplate{
			{Type: ChallengeSendGift, Title: "Send a gift", Target: 1, XPReward: 50, CoinReward: 20},
			{Type: "like", Title: "Like 3 loops", Target: 3, XPReward: 30, CoinReward: 15},
			{Type: ChallengeContribute, Title: "Chip in", Target: 1, XPReward: 60, CoinReward: 5},
		},
		Catalog: []config.CatalogSeed{
			{Slug: "rose", Name: "Rose", Emoji: "🌹", CoinPrice: 10, Multiplier: 1, GrantsInventory: true},
			{Slug: "rocket", Name: "Rocket", Emoji: "🚀", CoinPrice: 50, Multiplier: 4, GrantsInventory: true},
			{Slug: "clap", Name: "Clap", Emoji: "👏", CoinPrice: 100, Multiplier: 1},
		},
	}
}

type harness struct {
	engine *Engine
	store  *store.MemoryStore
	clock  *fakeClock
	ctx    context.Context
}

func newHarness(t *testing.T, econ config.Economy) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	clock := newFakeClock()
	engine := NewEngine(st, Options{Economy: econ, Clock: clock.Now})
	ctx := context.Background()
	require.NoError(t, engine.Seed(ctx))
	return &harness{engine: engine, store: st, clock: clock, ctx: ctx}
}

func (h *harness) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := h.engine.GrantCoins(h.ctx, "", "admin", userID, amount, "test funding")
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := h.engine.Balance.Balance(h.ctx, h.store, userID)
	require.NoError(t, err)
	return b
}

func (h *harness) item(t *testing.T, slug string) models.GiftCatalogItem {
	t.Helper()
	items, err := h.store.ListCatalogItems(h.ctx, false)
	require.NoError(t, err)
	for _, it := range items {
		if it.Slug == slug {
			return it
		}
	}
	t.Fatalf("catalog item %q not seeded", slug)
	return models.GiftCatalogItem{}
}

func (h *harness) outboxFor(userID, typ string) []models.OutboxEvent {
	var out []models.OutboxEvent
	for _, ev := range h.store.Outbox() {
		if ev.UserID == userID && ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (h *harness) coinEntries(t *testing.T, userID string) []models.LedgerEntry {
	t.Helper()
	all, err := h.store.ListLedger(h.ctx, userID, "", 1000)
	require.NoError(t, err)
	var out []models.LedgerEntry
	for _, e := range all {
		if e.Kind == models.LedgerKindCoins {
			out = append(out, e)
		}
	}
	return out
}
