// Package store is the transactional data store behind the economy engine.
//
// Every counter mutation (balances, xp, group gift amounts, challenge progress)
// is a single conditional statement; callers never read a value and write back
// a computed one. Unique-guarded inserts report whether a row was created.
package store

import (
	"context"
	"errors"
	"time"

	"loop-economy/models"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("store: unique constraint conflict")
	// ErrConditionFailed is returned when a conditional update matched no row.
	ErrConditionFailed = errors.New("store: condition not met")
	// ErrKeyTaken is returned only by CreateIdempotencyRecord.
	ErrKeyTaken = errors.New("store: idempotency key already recorded")
)

type Store interface {
	// WithTx runs fn in a transaction. Nested calls run as savepoints: an
	// error from the inner fn rolls back only the inner work.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	AccountStore
	LedgerStore
	AchievementStore
	CatalogStore
	GiftStore
	GroupGiftStore
	ChallengeStore
	OutboxStore

	GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	// CreateIdempotencyRecord returns ErrKeyTaken when the key exists.
	CreateIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) error

	GetUserStats(ctx context.Context, userID string) (map[string]int64, error)
	UpsertUserStats(ctx context.Context, stats []models.UserStat) error
	LatestUserStatUpdate(ctx context.Context) (time.Time, error)
}

type AccountStore interface {
	// EnsureAccount creates the account when missing and returns it.
	EnsureAccount(ctx context.Context, userID string, kind models.AccountKind) (*models.Account, error)
	GetAccount(ctx context.Context, userID string) (*models.Account, error)
	// AddBalance applies delta only if the balance stays non-negative.
	// Returns ErrNotFound for an unknown account and ErrConditionFailed when
	// the debit cannot be afforded.
	AddBalance(ctx context.Context, userID string, delta int64) (int64, error)
	AddXP(ctx context.Context, userID string, delta int64) (int64, error)
}

type LedgerStore interface {
	AppendLedger(ctx context.Context, entry *models.LedgerEntry) error
	// ListLedger returns entries newest first, strictly older than beforeID when set.
	ListLedger(ctx context.Context, userID, beforeID string, limit int) ([]models.LedgerEntry, error)
	// LedgerAfter returns entries oldest first, strictly newer than afterID.
	LedgerAfter(ctx context.Context, userID, afterID string, limit int) ([]models.LedgerEntry, error)
	LedgerBetween(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error)
}

type AchievementStore interface {
	ListActiveAchievements(ctx context.Context) ([]models.AchievementDef, error)
	// ListLockedAchievements returns active definitions the user has not unlocked.
	ListLockedAchievements(ctx context.Context, userID string) ([]models.AchievementDef, error)
	// UnlockAchievement inserts the row unless (user, achievement) exists.
	// The bool reports whether this call created it.
	UnlockAchievement(ctx context.Context, ua *models.UserAchievement) (bool, error)
	ListUserAchievements(ctx context.Context, userID string) ([]models.UserAchievement, error)
	// UpsertAchievementDef inserts or updates by code.
	UpsertAchievementDef(ctx context.Context, def *models.AchievementDef) error
}

type CatalogStore interface {
	GetCatalogItem(ctx context.Context, id string) (*models.GiftCatalogItem, error)
	ListCatalogItems(ctx context.Context, activeOnly bool) ([]models.GiftCatalogItem, error)
	// UpsertCatalogItem inserts or updates by slug.
	UpsertCatalogItem(ctx context.Context, item *models.GiftCatalogItem) error
}

type GiftStore interface {
	CreateGiftTransaction(ctx context.Context, gt *models.GiftTransaction) error
	GetGiftTransaction(ctx context.Context, id string) (*models.GiftTransaction, error)
	// GrantInventory is idempotent on (user_id, item_id).
	GrantInventory(ctx context.Context, inv *models.InventoryItem) (bool, error)
	ListInventory(ctx context.Context, userID string) ([]models.InventoryItem, error)
	CountActivity(ctx context.Context, userID string) (models.ActivityCounts, error)
}

type GroupGiftStore interface {
	CreateGroupGift(ctx context.Context, gg *models.GroupGift) error
	// GetGroupGift with forUpdate takes a row lock until the transaction ends.
	GetGroupGift(ctx context.Context, id string, forUpdate bool) (*models.GroupGift, error)
	// IncrementGroupGift adds delta while the gift is open and the result
	// stays within target; otherwise ErrConditionFailed.
	IncrementGroupGift(ctx context.Context, id string, delta int64) error
	// TransitionGroupGift moves from → to. The bool is false when another
	// caller already moved it.
	TransitionGroupGift(ctx context.Context, id string, from, to models.GroupGiftStatus, at time.Time) (bool, error)
	SetGroupGiftDelivery(ctx context.Context, id string, status models.DeliveryStatus, giftTxID *string) error
	CreateContribution(ctx context.Context, c *models.Contribution) error
	ListContributions(ctx context.Context, groupGiftID string) ([]models.Contribution, error)
	ListOverdueGroupGifts(ctx context.Context, now time.Time, limit int) ([]models.GroupGift, error)
	ListUndeliveredGroupGifts(ctx context.Context, limit int) ([]models.GroupGift, error)
}

type ChallengeStore interface {
	// ClaimChallengeDay reports whether this call claimed (user, day).
	ClaimChallengeDay(ctx context.Context, userID, day string) (bool, error)
	CreateDailyChallenges(ctx context.Context, challenges []models.DailyChallenge) error
	ListDailyChallenges(ctx context.Context, userID, day string) ([]models.DailyChallenge, error)
	FindDailyChallenge(ctx context.Context, userID, challengeType, day string) (*models.DailyChallenge, error)
	GetDailyChallenge(ctx context.Context, id string) (*models.DailyChallenge, error)
	// AdvanceChallenge adds inc clamped to the target on an incomplete,
	// unexpired challenge. The bool is false when nothing matched.
	AdvanceChallenge(ctx context.Context, id string, inc int64, now time.Time) (bool, error)
	// CompleteChallenge flips is_completed once progress reached the target.
	CompleteChallenge(ctx context.Context, id string, now time.Time) (bool, error)
}

type OutboxStore interface {
	EnqueueOutbox(ctx context.Context, ev *models.OutboxEvent) error
	// ClaimOutbox leases up to limit pending events until the given time,
	// skipping events under another drainer's unexpired lease. The lease is
	// committed on return; marking an event releases it.
	ClaimOutbox(ctx context.Context, limit int, now, until time.Time) ([]models.OutboxEvent, error)
	MarkOutboxDispatched(ctx context.Context, id string, at time.Time) error
	// MarkOutboxAttempt records a failed attempt; the event becomes failed
	// after maxAttempts.
	MarkOutboxAttempt(ctx context.Context, id, lastErr string, maxAttempts int) error
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
