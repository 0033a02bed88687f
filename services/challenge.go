package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"loop-economy/apperrors"
	"loop-economy/config"
	"loop-economy/metrics"
	"loop-economy/models"
	"loop-economy/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Challenge types advanced by the engine itself.
const (
	ChallengeSendGift   = "send_gift"
	ChallengeContribute = "contribute_group_gift"
)

// AdvanceResult reports a challenge after an advance. Completed is false for
// a missing or expired challenge; JustCompleted is true only for the call
// that paid the reward.
type AdvanceResult struct {
	Challenge     *models.DailyChallenge `json:"challenge,omitempty"`
	Completed     bool                   `json:"completed"`
	JustCompleted bool                   `json:"just_completed"`
	Expired       bool                   `json:"expired,omitempty"`
}

type ChallengeTracker struct {
	balance   *BalanceService
	xp        *XPService
	notifier  *Notifier
	templates []config.ChallengeTemplate
	perDay    int
	now       func() time.Time
}

func NewChallengeTracker(balance *BalanceService, xp *XPService, notifier *Notifier, templates []config.ChallengeTemplate, perDay int, now func() time.Time) *ChallengeTracker {
	return &ChallengeTracker{
		balance:   balance,
		xp:        xp,
		notifier:  notifier,
		templates: templates,
		perDay:    perDay,
		now:       now,
	}
}

func challengeDay(t time.Time) string {
	return t.UTC().Format(models.ChallengeDayLayout)
}

func nextUTCMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// templatesFor picks perDay consecutive templates starting at a position
// derived from (user, day), so every user gets a stable daily rotation.
func (c *ChallengeTracker) templatesFor(userID, day string) []config.ChallengeTemplate {
	n := len(c.templates)
	if n == 0 {
		return nil
	}
	if c.perDay <= 0 || c.perDay >= n {
		return c.templates
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID + "|" + day))
	start := int(h.Sum32() % uint32(n))

	picked := make([]config.ChallengeTemplate, 0, c.perDay)
	for i := 0; i < c.perDay; i++ {
		picked = append(picked, c.templates[(start+i)%n])
	}
	return picked
}

// GenerateDaily creates today's challenges once per (user, UTC day) and
// returns them. Later calls on the same day return the existing set.
func (c *ChallengeTracker) GenerateDaily(ctx context.Context, st store.Store, userID string) ([]models.DailyChallenge, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	now := c.now()
	day := challengeDay(now)

	claimed, err := st.ClaimChallengeDay(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("claim challenge day: %w", err)
	}
	if claimed {
		expires := nextUTCMidnight(now)
		var batch []models.DailyChallenge
		for _, t := range c.templatesFor(userID, day) {
			if t.Target <= 0 {
				continue
			}
			batch = append(batch, models.DailyChallenge{
				ID:          uuid.NewString(),
				UserID:      userID,
				Type:        t.Type,
				Day:         day,
				Title:       t.Title,
				TargetValue: t.Target,
				XPReward:    t.XPReward,
				CoinReward:  t.CoinReward,
				ExpiresAt:   expires,
				CreatedAt:   now,
			})
		}
		if err := st.CreateDailyChallenges(ctx, batch); err != nil {
			return nil, fmt.Errorf("create daily challenges: %w", err)
		}
		log.WithFields(log.Fields{"user_id": userID, "day": day, "count": len(batch)}).Info("📅 Daily challenges generated")
	}

	return st.ListDailyChallenges(ctx, userID, day)
}

// Advance adds increment to today's challenge of the given type, clamped to
// its target. The call that moves it to completed pays the XP and coin
// reward and enqueues a notification; no other call does.
func (c *ChallengeTracker) Advance(ctx context.Context, st store.Store, userID, challengeType string, increment int64) (*AdvanceResult, error) {
	if increment <= 0 {
		return nil, apperrors.Validation("increment must be positive")
	}
	now := c.now()

	ch, err := st.FindDailyChallenge(ctx, userID, challengeType, challengeDay(now))
	if errors.Is(err, store.ErrNotFound) {
		return &AdvanceResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find challenge: %w", err)
	}

	advanced, err := st.AdvanceChallenge(ctx, ch.ID, increment, now)
	if err != nil {
		return nil, fmt.Errorf("advance challenge: %w", err)
	}
	if !advanced {
		// completed earlier, or expired and inert
		expired := !ch.ExpiresAt.After(now)
		if expired && !ch.IsCompleted {
			log.WithFields(log.Fields{"user_id": userID, "type": challengeType}).
				Debug(apperrors.ErrChallengeExpired.Message)
		}
		return &AdvanceResult{Challenge: ch, Completed: ch.IsCompleted, Expired: expired}, nil
	}

	flipped, err := st.CompleteChallenge(ctx, ch.ID, now)
	if err != nil {
		return nil, fmt.Errorf("complete challenge: %w", err)
	}
	fresh, err := st.GetDailyChallenge(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	if flipped {
		if err := c.reward(ctx, st, fresh); err != nil {
			return nil, err
		}
	}
	return &AdvanceResult{Challenge: fresh, Completed: fresh.IsCompleted, JustCompleted: flipped}, nil
}

func (c *ChallengeTracker) reward(ctx context.Context, st store.Store, ch *models.DailyChallenge) error {
	meta := map[string]any{"challenge_id": ch.ID, "type": ch.Type}
	if ch.XPReward > 0 {
		if _, err := c.xp.AwardXP(ctx, st, ch.UserID, ch.XPReward, models.ActionChallengeComplete, meta); err != nil {
			return err
		}
	}
	if ch.CoinReward > 0 {
		if _, err := c.balance.ApplyDelta(ctx, st, ch.UserID, ch.CoinReward, models.ReasonChallengeReward, meta); err != nil {
			return err
		}
	}
	if err := c.notifier.ChallengeCompleted(ctx, st, ch); err != nil {
		return err
	}
	metrics.RecordChallengeCompleted()
	log.WithFields(log.Fields{"user_id": ch.UserID, "type": ch.Type}).Info("🏁 Daily challenge completed")
	return nil
}

// AdvanceQuietly advances a challenge as a side effect of another operation.
// It runs in a savepoint and never fails the caller.
func (c *ChallengeTracker) AdvanceQuietly(ctx context.Context, st store.Store, userID, challengeType string, increment int64) {
	err := st.WithTx(ctx, func(tx store.Store) error {
		_, err := c.Advance(ctx, tx, userID, challengeType, increment)
		return err
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"user_id": userID, "type": challengeType}).
			Warn("challenge side-effect advance failed")
	}
}

// ListOpen returns today's incomplete, unexpired challenges.
func (c *ChallengeTracker) ListOpen(ctx context.Context, st store.Store, userID string) ([]models.DailyChallenge, error) {
	now := c.now()
	all, err := st.ListDailyChallenges(ctx, userID, challengeDay(now))
	if err != nil {
		return nil, err
	}
	open := make([]models.DailyChallenge, 0, len(all))
	for _, ch := range all {
		if !ch.IsCompleted && ch.ExpiresAt.After(now) {
			open = append(open, ch)
		}
	}
	return open, nil
}
