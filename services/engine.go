package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loop-economy/apperrors"
	"loop-economy/config"
	"loop-economy/metrics"
	"loop-economy/models"
	"loop-economy/store"

	log "github.com/sirupsen/logrus"
)

// Operation names stored with idempotency records and used as metric labels.
const (
	OpAwardXP              = "award_xp"
	OpSendGift             = "send_gift"
	OpCreateGroupGift      = "create_group_gift"
	OpContribute           = "contribute_group_gift"
	OpGenerateChallenges   = "generate_daily_challenges"
	OpAdvanceChallenge     = "advance_challenge"
	OpEvaluateAchievements = "evaluate_achievements"
	OpGrantCoins           = "grant_coins"
)

type Options struct {
	Economy config.Economy
	Stats   StatsProvider
	Clock   func() time.Time
}

// Engine is the economy's public surface. Every mutating call runs in one
// store transaction and accepts an optional idempotency key.
type Engine struct {
	store store.Store
	econ  config.Economy
	now   func() time.Time

	Ledger       *Ledger
	Balance      *BalanceService
	XP           *XPService
	Achievements *AchievementEngine
	Catalog      *CatalogService
	Gifts        *GiftTransactionService
	GroupGifts   *GroupGiftService
	Challenges   *ChallengeTracker
	Notifier     *Notifier
}

func NewEngine(st store.Store, opts Options) *Engine {
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	stats := opts.Stats
	if stats == nil {
		stats = StoreStatsProvider{}
	}

	ledger := NewLedger(now)
	notifier := NewNotifier(now)
	balance := NewBalanceService(ledger)
	xp := NewXPService(ledger)
	achievements := NewAchievementEngine(stats, xp, notifier, now)
	challenges := NewChallengeTracker(balance, xp, notifier, opts.Economy.Challenges, opts.Economy.DailyChallengeCount, now)
	gifts := NewGiftTransactionService(balance, xp, challenges, notifier, opts.Economy.GiftSenderXP, now)

	return &Engine{
		store:        st,
		econ:         opts.Economy,
		now:          now,
		Ledger:       ledger,
		Balance:      balance,
		XP:           xp,
		Achievements: achievements,
		Catalog:      NewCatalogService(),
		Gifts:        gifts,
		GroupGifts:   NewGroupGiftService(balance, gifts, challenges, notifier, now),
		Challenges:   challenges,
		Notifier:     notifier,
	}
}

func (e *Engine) Store() store.Store {
	return e.store
}

// Seed upserts the catalog and achievement definitions from the economy config.
func (e *Engine) Seed(ctx context.Context) error {
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		if err := e.Catalog.Seed(ctx, tx, e.econ.Catalog); err != nil {
			return err
		}
		return e.Achievements.Seed(ctx, tx, e.econ.Achievements)
	})
	if err != nil {
		return err
	}
	e.Catalog.Invalidate()
	e.Achievements.Invalidate()
	return nil
}

func (e *Engine) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	appErr := apperrors.FromError(err)
	metrics.RecordOperationError(op, appErr.Code)
	return appErr
}

// runIdempotent runs fn in a transaction. With a key, the JSON result is
// stored in the same transaction; a replay of the key by the same user and
// operation returns the stored result without running fn.
func runIdempotent[T any](ctx context.Context, e *Engine, key, op, userID string, fn func(tx store.Store) (T, error)) (T, error) {
	var result T
	if key == "" {
		err := e.store.WithTx(ctx, func(tx store.Store) error {
			var err error
			result, err = fn(tx)
			return err
		})
		return result, e.fail(op, err)
	}

	err := e.store.WithTx(ctx, func(tx store.Store) error {
		rec, err := tx.GetIdempotencyRecord(ctx, key)
		switch {
		case err == nil:
			return replay(rec, op, userID, &result)
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("read idempotency record: %w", err)
		}

		result, err = fn(tx)
		if err != nil {
			return err
		}
		body, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode %s result: %w", op, err)
		}
		return tx.CreateIdempotencyRecord(ctx, &models.IdempotencyRecord{
			Key:       key,
			UserID:    userID,
			Operation: op,
			Response:  string(body),
			CreatedAt: e.now(),
		})
	})

	if errors.Is(err, store.ErrKeyTaken) {
		// a concurrent request with the same key committed first
		var zero T
		result = zero
		rec, getErr := e.store.GetIdempotencyRecord(ctx, key)
		if getErr != nil {
			return zero, e.fail(op, apperrors.ErrIdempotencyConflict)
		}
		err = replay(rec, op, userID, &result)
	}
	if err != nil {
		var zero T
		return zero, e.fail(op, err)
	}
	return result, nil
}

func replay[T any](rec *models.IdempotencyRecord, op, userID string, out *T) error {
	if rec.Operation != op || rec.UserID != userID {
		return apperrors.ErrIdempotencyConflict.WithDetails(map[string]interface{}{"operation": rec.Operation})
	}
	if err := json.Unmarshal([]byte(rec.Response), out); err != nil {
		return fmt.Errorf("decode stored %s result: %w", op, err)
	}
	log.WithFields(log.Fields{"operation": op, "user_id": userID}).Debug("idempotent replay")
	return nil
}

func (e *Engine) AwardXP(ctx context.Context, key, userID string, amount int64, action string) (*Progress, error) {
	return runIdempotent(ctx, e, key, OpAwardXP, userID, func(tx store.Store) (*Progress, error) {
		return e.XP.AwardXP(ctx, tx, userID, amount, action, nil)
	})
}

// SendGift sends a gift paid from the sender's own balance.
func (e *Engine) SendGift(ctx context.Context, key, senderID, recipientID, itemID, message string, anonymous bool) (*models.GiftTransaction, error) {
	return runIdempotent(ctx, e, key, OpSendGift, senderID, func(tx store.Store) (*models.GiftTransaction, error) {
		return e.Gifts.SendGift(ctx, tx, senderID, recipientID, itemID, SendOptions{
			Message:     message,
			IsAnonymous: anonymous,
		})
	})
}

func (e *Engine) CreateGroupGift(ctx context.Context, key, organizerID, recipientID, itemID string, deadline time.Time, message string) (*models.GroupGift, error) {
	return runIdempotent(ctx, e, key, OpCreateGroupGift, organizerID, func(tx store.Store) (*models.GroupGift, error) {
		return e.GroupGifts.Create(ctx, tx, organizerID, recipientID, itemID, deadline, message)
	})
}

// ContributeToGroupGift pledges coins to a campaign. When the campaign is
// past its deadline the expiry and refunds are committed separately before
// ExpiredGroupGift is returned.
func (e *Engine) ContributeToGroupGift(ctx context.Context, key, groupGiftID, contributorID string, amount int64) (*ContributionResult, error) {
	res, err := runIdempotent(ctx, e, key, OpContribute, contributorID, func(tx store.Store) (*ContributionResult, error) {
		return e.GroupGifts.Contribute(ctx, tx, groupGiftID, contributorID, amount)
	})
	if errors.Is(err, apperrors.ErrExpiredGroupGift) {
		if _, expErr := e.GroupGifts.ExpireOverdue(ctx, e.store, groupGiftID); expErr != nil {
			log.WithError(expErr).WithField("group_gift_id", groupGiftID).Error("expiring overdue group gift failed")
		}
	}
	return res, err
}

func (e *Engine) GenerateDailyChallenges(ctx context.Context, key, userID string) ([]models.DailyChallenge, error) {
	return runIdempotent(ctx, e, key, OpGenerateChallenges, userID, func(tx store.Store) ([]models.DailyChallenge, error) {
		return e.Challenges.GenerateDaily(ctx, tx, userID)
	})
}

func (e *Engine) AdvanceChallenge(ctx context.Context, key, userID, challengeType string, increment int64) (*AdvanceResult, error) {
	return runIdempotent(ctx, e, key, OpAdvanceChallenge, userID, func(tx store.Store) (*AdvanceResult, error) {
		return e.Challenges.Advance(ctx, tx, userID, challengeType, increment)
	})
}

func (e *Engine) EvaluateAchievements(ctx context.Context, key, userID string) ([]models.AchievementDef, error) {
	return runIdempotent(ctx, e, key, OpEvaluateAchievements, userID, func(tx store.Store) ([]models.AchievementDef, error) {
		unlocked, err := e.Achievements.Evaluate(ctx, tx, userID)
		if unlocked == nil {
			unlocked = []models.AchievementDef{}
		}
		return unlocked, err
	})
}

type GrantResult struct {
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance"`
}

// GrantCoins credits (or with a negative amount, debits) coins by an admin.
func (e *Engine) GrantCoins(ctx context.Context, key, adminID, userID string, amount int64, note string) (*GrantResult, error) {
	return runIdempotent(ctx, e, key, OpGrantCoins, userID, func(tx store.Store) (*GrantResult, error) {
		bal, err := e.Balance.ApplyDelta(ctx, tx, userID, amount, models.ReasonAdminGrant, map[string]any{
			"admin_id": adminID,
			"note":     note,
		})
		if err != nil {
			return nil, err
		}
		return &GrantResult{UserID: userID, Amount: amount, Balance: bal}, nil
	})
}

// SweepExpiredGroupGifts and ReconcileDeliveries are the scheduler's entry points.
func (e *Engine) SweepExpiredGroupGifts(ctx context.Context, limit int) (int, error) {
	return e.GroupGifts.SweepExpired(ctx, e.store, limit)
}

func (e *Engine) ReconcileDeliveries(ctx context.Context, limit int) (int, int, error) {
	return e.GroupGifts.ReconcileDeliveries(ctx, e.store, limit)
}
