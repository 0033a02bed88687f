package services

import (
	"errors"
	"sync"
	"testing"

	"loop-economy/apperrors"
	"loop-economy/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendGiftChargesAndRecords(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 300)
	rocket := h.item(t, "rocket")

	gt, err := h.engine.SendGift(h.ctx, "", "alice", "bob", rocket.ID, "gg", false)
	require.NoError(t, err)

	assert.Equal(t, int64(200), gt.AmountCharged)
	assert.Equal(t, "alice", gt.FundingAccountID)
	assert.Equal(t, models.GiftStatusSent, gt.Status)
	assert.Equal(t, int64(100), h.balance(t, "alice"))

	entries := h.coinEntries(t, "alice")
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-200), entries[0].Amount)
	assert.Equal(t, int64(100), entries[0].BalanceAfter)
	assert.Equal(t, models.ReasonGiftSent, entries[0].Reason)
	assert.Equal(t, models.ReasonAdminGrant, entries[1].Reason)

	inv, err := h.engine.Inventory(h.ctx, "bob")
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, rocket.ID, inv[0].ItemID)
	assert.Equal(t, gt.ID, inv[0].SourceGiftID)

	notes := h.outboxFor("bob", models.NotifyGiftReceived)
	require.Len(t, notes, 1)
	assert.Equal(t, "alice", notes[0].Data["sender_id"])
	assert.Equal(t, "gg", notes[0].Data["message"])

	progress, err := h.engine.XP.ProgressOf(h.ctx, h.store, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), progress.XPTotal)
}

func TestSendGiftInsufficientFundsLeavesNoTrace(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 100)
	rocket := h.item(t, "rocket")

	_, err := h.engine.SendGift(h.ctx, "", "alice", "bob", rocket.ID, "", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))

	assert.Equal(t, int64(100), h.balance(t, "alice"))
	assert.Len(t, h.coinEntries(t, "alice"), 1)
	assert.Empty(t, h.outboxFor("bob", models.NotifyGiftReceived))

	inv, err := h.engine.Inventory(h.ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, inv)

	progress, err := h.engine.XP.ProgressOf(h.ctx, h.store, "alice")
	require.NoError(t, err)
	assert.Zero(t, progress.XPTotal)
}

func TestSendGiftAnonymousHidesSender(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 50)

	gt, err := h.engine.SendGift(h.ctx, "", "alice", "bob", h.item(t, "rose").ID, "", true)
	require.NoError(t, err)
	assert.True(t, gt.IsAnonymous)

	notes := h.outboxFor("bob", models.NotifyGiftReceived)
	require.Len(t, notes, 1)
	assert.NotContains(t, notes[0].Data, "sender_id")
	assert.NotContains(t, notes[0].Message, "alice")
	assert.Equal(t, true, notes[0].Data["is_anonymous"])
}

func TestSendGiftRejectsBadItems(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 500)

	_, err := h.engine.SendGift(h.ctx, "", "alice", "bob", uuid.NewString(), "", false)
	assert.True(t, errors.Is(err, apperrors.ErrItemNotFound))

	rose := h.item(t, "rose")
	rose.IsActive = false
	require.NoError(t, h.engine.UpsertCatalogItem(h.ctx, &rose))

	_, err = h.engine.SendGift(h.ctx, "", "alice", "bob", rose.ID, "", false)
	assert.True(t, errors.Is(err, apperrors.ErrItemNotFound))

	_, err = h.engine.SendGift(h.ctx, "", "alice", "alice", h.item(t, "rocket").ID, "", false)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	assert.Equal(t, int64(500), h.balance(t, "alice"))
}

func TestSendGiftWithoutInventoryGrant(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 100)

	_, err := h.engine.SendGift(h.ctx, "", "alice", "bob", h.item(t, "clap").ID, "", false)
	require.NoError(t, err)
	assert.Zero(t, h.balance(t, "alice"))

	inv, err := h.engine.Inventory(h.ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, inv)
}

func TestConcurrentGiftsNeverOverdraw(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 250)
	clap := h.item(t, "clap")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.SendGift(h.ctx, "", "alice", "bob", clap.ID, "", false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperrors.ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 6, rejected)
	assert.Equal(t, int64(50), h.balance(t, "alice"))
	assert.Len(t, h.outboxFor("bob", models.NotifyGiftReceived), 2)
}

func TestIdempotentSendGiftReplays(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 100)
	rose := h.item(t, "rose")

	first, err := h.engine.SendGift(h.ctx, "gift-1", "alice", "bob", rose.ID, "", false)
	require.NoError(t, err)
	second, err := h.engine.SendGift(h.ctx, "gift-1", "alice", "bob", rose.ID, "", false)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(90), h.balance(t, "alice"))
	assert.Len(t, h.outboxFor("bob", models.NotifyGiftReceived), 1)

	_, err = h.engine.AwardXP(h.ctx, "gift-1", "alice", 10, "manual")
	assert.True(t, errors.Is(err, apperrors.ErrIdempotencyConflict))

	_, err = h.engine.SendGift(h.ctx, "gift-1", "carol", "bob", rose.ID, "", false)
	assert.True(t, errors.Is(err, apperrors.ErrIdempotencyConflict))
}

func TestFailedCallDoesNotConsumeKey(t *testing.T) {
	h := newHarness(t, testEconomy())
	rose := h.item(t, "rose")

	_, err := h.engine.SendGift(h.ctx, "retry-me", "alice", "bob", rose.ID, "", false)
	require.Error(t, err)

	h.fund(t, "alice", 10)
	gt, err := h.engine.SendGift(h.ctx, "retry-me", "alice", "bob", rose.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), gt.AmountCharged)
	assert.Zero(t, h.balance(t, "alice"))
}

func TestGrantCoinsDebitCannotOverdraw(t *testing.T) {
	h := newHarness(t, testEconomy())
	h.fund(t, "alice", 40)

	res, err := h.engine.GrantCoins(h.ctx, "", "admin", "alice", -15, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Balance)

	_, err = h.engine.GrantCoins(h.ctx, "", "admin", "alice", -26, "too much")
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))

	_, err = h.engine.GrantCoins(h.ctx, "", "admin", "nobody", -1, "")
	assert.True(t, errors.Is(err, apperrors.ErrAccountNotFound))

	_, err = h.engine.GrantCoins(h.ctx, "", "admin", "alice", 0, "")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
