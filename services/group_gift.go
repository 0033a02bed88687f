package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loop-economy/apperrors"
	"loop-economy/metrics"
	"loop-economy/models"
	"loop-economy/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ContributionResult is what a contributor gets back. Accepted plus Refunded
// always equals the pledged amount.
type ContributionResult struct {
	GroupGift       *models.GroupGift       `json:"group_gift"`
	Contribution    *models.Contribution    `json:"contribution"`
	Accepted        int64                   `json:"accepted"`
	Refunded        int64                   `json:"refunded"`
	Completed       bool                    `json:"completed"`
	GiftTransaction *models.GiftTransaction `json:"gift_transaction,omitempty"`
}

// GroupGiftView is the read projection of one campaign.
type GroupGiftView struct {
	models.GroupGift
	PoolBalance   int64                 `json:"pool_balance"`
	Contributions []models.Contribution `json:"contributions"`
}

type GroupGiftService struct {
	balance    *BalanceService
	gifts      *GiftTransactionService
	challenges *ChallengeTracker
	notifier   *Notifier
	now        func() time.Time
}

func NewGroupGiftService(balance *BalanceService, gifts *GiftTransactionService, challenges *ChallengeTracker, notifier *Notifier, now func() time.Time) *GroupGiftService {
	return &GroupGiftService{
		balance:    balance,
		gifts:      gifts,
		challenges: challenges,
		notifier:   notifier,
		now:        now,
	}
}

// Create opens a campaign whose target is the item's current cost.
func (s *GroupGiftService) Create(ctx context.Context, st store.Store, organizerID, recipientID, itemID string, deadline time.Time, message string) (*models.GroupGift, error) {
	if organizerID == "" || recipientID == "" {
		return nil, apperrors.Validation("organizer and recipient are required")
	}
	if organizerID == recipientID {
		return nil, apperrors.Validation("organizer cannot be the recipient")
	}
	now := s.now()
	if !deadline.After(now) {
		return nil, apperrors.Validation("deadline must be in the future")
	}

	item, err := st.GetCatalogItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !item.IsActive) {
		return nil, apperrors.ErrItemNotFound.WithDetails(map[string]interface{}{"item_id": itemID})
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog item: %w", err)
	}
	if item.Cost() <= 0 {
		return nil, apperrors.Validation("free items cannot be group gifted")
	}

	id := uuid.NewString()
	gg := &models.GroupGift{
		ID:             id,
		OrganizerID:    organizerID,
		RecipientID:    recipientID,
		ItemID:         item.ID,
		PoolAccountID:  models.PoolAccountID(id),
		TargetAmount:   item.Cost(),
		Deadline:       deadline.UTC(),
		Status:         models.GroupGiftOpen,
		DeliveryStatus: models.DeliveryNone,
		Message:        message,
	}
	if _, err := st.EnsureAccount(ctx, gg.PoolAccountID, models.AccountKindPool); err != nil {
		return nil, fmt.Errorf("create pool account: %w", err)
	}
	if err := st.CreateGroupGift(ctx, gg); err != nil {
		return nil, fmt.Errorf("create group gift: %w", err)
	}

	metrics.RecordGroupGift("created")
	log.WithFields(log.Fields{
		"group_gift_id": id,
		"organizer_id":  organizerID,
		"target":        gg.TargetAmount,
		"deadline":      gg.Deadline,
	}).Info("🎀 Group gift opened")
	return gg, nil
}

// Contribute pledges amount toward an open campaign. The contributor is
// debited the full amount, the part above the remaining target is refunded,
// and the contribution that reaches the target completes the campaign and
// sends the gift from the pool.
//
// A campaign found past its deadline is rejected with ExpiredGroupGift; the
// caller runs ExpireOverdue in a fresh transaction so the expiry survives
// the rejected call's rollback.
func (s *GroupGiftService) Contribute(ctx context.Context, st store.Store, groupGiftID, contributorID string, amount int64) (*ContributionResult, error) {
	if amount <= 0 {
		return nil, apperrors.Validation("contribution must be positive")
	}
	if contributorID == "" {
		return nil, apperrors.Validation("contributor is required")
	}

	gg, err := st.GetGroupGift(ctx, groupGiftID, true)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrGroupGiftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock group gift: %w", err)
	}

	now := s.now()
	switch {
	case gg.Status == models.GroupGiftCompleted:
		return nil, apperrors.ErrAlreadyCompletedGroupGift
	case gg.Status == models.GroupGiftExpired, now.After(gg.Deadline):
		return nil, apperrors.ErrExpiredGroupGift.WithDetails(map[string]interface{}{"deadline": gg.Deadline})
	}

	meta := map[string]any{"group_gift_id": gg.ID}
	if _, err := s.balance.ApplyDelta(ctx, st, contributorID, -amount, models.ReasonGroupContribution, meta); err != nil {
		return nil, err
	}

	accepted := min(amount, gg.Remaining())
	if err := st.IncrementGroupGift(ctx, gg.ID, accepted); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, apperrors.ErrAlreadyCompletedGroupGift
		}
		return nil, fmt.Errorf("increment group gift: %w", err)
	}
	if _, err := s.balance.ApplyDelta(ctx, st, gg.PoolAccountID, accepted, models.ReasonGroupPoolCredit, map[string]any{
		"group_gift_id":  gg.ID,
		"contributor_id": contributorID,
	}); err != nil {
		return nil, err
	}

	contribution := &models.Contribution{
		ID:            uuid.NewString(),
		GroupGiftID:   gg.ID,
		ContributorID: contributorID,
		Amount:        accepted,
		CreatedAt:     now,
	}
	if err := st.CreateContribution(ctx, contribution); err != nil {
		return nil, fmt.Errorf("record contribution: %w", err)
	}

	excess := amount - accepted
	if excess > 0 {
		if _, err := s.balance.ApplyDelta(ctx, st, contributorID, excess, models.ReasonGroupRefund, map[string]any{
			"group_gift_id": gg.ID,
			"excess":        true,
		}); err != nil {
			return nil, err
		}
	}

	result := &ContributionResult{Contribution: contribution, Accepted: accepted, Refunded: excess}

	if gg.CurrentAmount+accepted >= gg.TargetAmount {
		won, err := st.TransitionGroupGift(ctx, gg.ID, models.GroupGiftOpen, models.GroupGiftCompleted, now)
		if err != nil {
			return nil, fmt.Errorf("complete group gift: %w", err)
		}
		if won {
			result.Completed = true
			metrics.RecordGroupGift("completed")
			log.WithFields(log.Fields{"group_gift_id": gg.ID, "target": gg.TargetAmount}).Info("🎯 Group gift target reached")

			gt, err := s.deliverInSavepoint(ctx, st, gg.ID)
			if err != nil {
				log.WithError(err).WithField("group_gift_id", gg.ID).
					Warn("group gift delivery failed, left for reconciler")
			}
			result.GiftTransaction = gt
		}
	}

	s.challenges.AdvanceQuietly(ctx, st, contributorID, ChallengeContribute, 1)

	fresh, err := st.GetGroupGift(ctx, gg.ID, false)
	if err != nil {
		return nil, err
	}
	result.GroupGift = fresh
	return result, nil
}

func (s *GroupGiftService) deliverInSavepoint(ctx context.Context, st store.Store, groupGiftID string) (*models.GiftTransaction, error) {
	var gt *models.GiftTransaction
	err := st.WithTx(ctx, func(tx store.Store) error {
		var err error
		gt, err = s.deliver(ctx, tx, groupGiftID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return gt, nil
}

// deliver sends the gift from the pool, returns any pool leftover to the
// contributors and tells everyone involved.
func (s *GroupGiftService) deliver(ctx context.Context, st store.Store, groupGiftID string) (*models.GiftTransaction, error) {
	gg, err := st.GetGroupGift(ctx, groupGiftID, false)
	if err != nil {
		return nil, err
	}
	id := gg.ID
	gt, err := s.gifts.SendGift(ctx, st, gg.OrganizerID, gg.RecipientID, gg.ItemID, SendOptions{
		Message:        gg.Message,
		FundingAccount: gg.PoolAccountID,
		GroupGiftID:    &id,
	})
	if err != nil {
		return nil, err
	}
	if err := st.SetGroupGiftDelivery(ctx, gg.ID, models.DeliveryDelivered, &gt.ID); err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	if _, err := s.refundPool(ctx, st, gg); err != nil {
		return nil, err
	}

	contributions, err := st.ListContributions(ctx, gg.ID)
	if err != nil {
		return nil, err
	}
	notified := map[string]bool{gg.OrganizerID: true}
	if err := s.notifier.GroupGiftCompleted(ctx, st, gg.OrganizerID, gg, gt); err != nil {
		return nil, err
	}
	for _, c := range contributions {
		if notified[c.ContributorID] {
			continue
		}
		notified[c.ContributorID] = true
		if err := s.notifier.GroupGiftCompleted(ctx, st, c.ContributorID, gg, gt); err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{"group_gift_id": gg.ID, "gift_transaction_id": gt.ID}).Info("📦 Group gift delivered")
	return gt, nil
}

// refundPool returns whatever the pool holds to the contributors, newest
// contribution first, and reports the total refunded.
func (s *GroupGiftService) refundPool(ctx context.Context, st store.Store, gg *models.GroupGift) (int64, error) {
	left, err := s.balance.Balance(ctx, st, gg.PoolAccountID)
	if err != nil {
		return 0, err
	}
	if left <= 0 {
		return 0, nil
	}
	contributions, err := st.ListContributions(ctx, gg.ID)
	if err != nil {
		return 0, err
	}

	var total int64
	for i := len(contributions) - 1; i >= 0 && left > 0; i-- {
		c := contributions[i]
		amt := min(c.Amount, left)
		meta := map[string]any{"group_gift_id": gg.ID, "contribution_id": c.ID}
		if _, err := s.balance.ApplyDelta(ctx, st, gg.PoolAccountID, -amt, models.ReasonGroupPoolRefund, meta); err != nil {
			return total, err
		}
		if _, err := s.balance.ApplyDelta(ctx, st, c.ContributorID, amt, models.ReasonGroupRefund, meta); err != nil {
			return total, err
		}
		if err := s.notifier.GroupGiftRefunded(ctx, st, c.ContributorID, gg, amt); err != nil {
			return total, err
		}
		left -= amt
		total += amt
	}
	if left > 0 {
		log.WithFields(log.Fields{"group_gift_id": gg.ID, "left": left}).Warn("pool balance exceeds recorded contributions")
	}
	return total, nil
}

// ExpireOverdue moves an open campaign past its deadline to expired and
// refunds every contributor. It reports false when the campaign was not
// open and overdue, so repeated calls are harmless.
func (s *GroupGiftService) ExpireOverdue(ctx context.Context, root store.Store, groupGiftID string) (bool, error) {
	expired := false
	err := root.WithTx(ctx, func(tx store.Store) error {
		gg, err := tx.GetGroupGift(ctx, groupGiftID, true)
		if err != nil {
			return err
		}
		now := s.now()
		if gg.Status != models.GroupGiftOpen || !now.After(gg.Deadline) {
			return nil
		}
		moved, err := tx.TransitionGroupGift(ctx, gg.ID, models.GroupGiftOpen, models.GroupGiftExpired, now)
		if err != nil || !moved {
			return err
		}
		refunded, err := s.refundPool(ctx, tx, gg)
		if err != nil {
			return err
		}
		if refunded > 0 {
			if err := tx.SetGroupGiftDelivery(ctx, gg.ID, models.DeliveryRefunded, nil); err != nil {
				return err
			}
		}
		if err := s.notifier.GroupGiftExpired(ctx, tx, gg); err != nil {
			return err
		}
		expired = true
		log.WithFields(log.Fields{
			"group_gift_id": gg.ID,
			"raised":        gg.CurrentAmount,
			"target":        gg.TargetAmount,
			"refunded":      refunded,
		}).Info("⌛ Group gift expired")
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		metrics.RecordGroupGift("expired")
	}
	return expired, nil
}

// SweepExpired expires every overdue open campaign, each in its own
// transaction.
func (s *GroupGiftService) SweepExpired(ctx context.Context, root store.Store, limit int) (int, error) {
	overdue, err := root.ListOverdueGroupGifts(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, gg := range overdue {
		ok, err := s.ExpireOverdue(ctx, root, gg.ID)
		if err != nil {
			log.WithError(err).WithField("group_gift_id", gg.ID).Error("[Scheduler] group gift expiry failed")
			continue
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// ReconcileDeliveries retries completed campaigns whose gift was never sent.
// A missing item or a pool that cannot cover the current price is final:
// the pool goes back to the contributors. Anything else waits for the next
// pass.
func (s *GroupGiftService) ReconcileDeliveries(ctx context.Context, root store.Store, limit int) (delivered, refunded int, err error) {
	pending, err := root.ListUndeliveredGroupGifts(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, g := range pending {
		outcome, err := s.reconcileOne(ctx, root, g.ID)
		if err != nil {
			log.WithError(err).WithField("group_gift_id", g.ID).Warn("[Reconciler] delivery retry failed")
			continue
		}
		switch outcome {
		case models.DeliveryDelivered:
			delivered++
		case models.DeliveryRefunded:
			refunded++
		}
	}
	return delivered, refunded, nil
}

func (s *GroupGiftService) reconcileOne(ctx context.Context, root store.Store, groupGiftID string) (models.DeliveryStatus, error) {
	var outcome models.DeliveryStatus
	err := root.WithTx(ctx, func(tx store.Store) error {
		gg, err := tx.GetGroupGift(ctx, groupGiftID, true)
		if err != nil {
			return err
		}
		if gg.Status != models.GroupGiftCompleted || gg.DeliveryStatus != models.DeliveryPending {
			return nil
		}

		_, sendErr := s.deliverInSavepoint(ctx, tx, gg.ID)
		if sendErr == nil {
			outcome = models.DeliveryDelivered
			return nil
		}
		if !errors.Is(sendErr, apperrors.ErrItemNotFound) && !errors.Is(sendErr, apperrors.ErrInsufficientFunds) {
			return sendErr
		}

		if _, err := s.refundPool(ctx, tx, gg); err != nil {
			return err
		}
		if err := tx.SetGroupGiftDelivery(ctx, gg.ID, models.DeliveryRefunded, nil); err != nil {
			return err
		}
		if err := s.notifier.GroupGiftUndeliverable(ctx, tx, gg, sendErr); err != nil {
			return err
		}
		outcome = models.DeliveryRefunded
		metrics.RecordGroupGift("refunded")
		log.WithFields(log.Fields{"group_gift_id": gg.ID, "cause": sendErr}).Info("[Reconciler] 💸 Group gift refunded")
		return nil
	})
	return outcome, err
}

// Get returns the campaign with its contributions and pool balance.
func (s *GroupGiftService) Get(ctx context.Context, st store.Store, groupGiftID string) (*GroupGiftView, error) {
	gg, err := st.GetGroupGift(ctx, groupGiftID, false)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrGroupGiftNotFound
	}
	if err != nil {
		return nil, err
	}
	contributions, err := st.ListContributions(ctx, gg.ID)
	if err != nil {
		return nil, err
	}
	pool, err := s.balance.Balance(ctx, st, gg.PoolAccountID)
	if err != nil {
		return nil, err
	}
	return &GroupGiftView{GroupGift: *gg, PoolBalance: pool, Contributions: contributions}, nil
}
