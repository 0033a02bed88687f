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

// SendOptions are the caller's gift options. FundingAccount and GroupGiftID
// are set only when a group gift pool pays.
type SendOptions struct {
	Message        string
	IsAnonymous    bool
	FundingAccount string
	GroupGiftID    *string
}

type GiftTransactionService struct {
	balance    *BalanceService
	xp         *XPService
	challenges *ChallengeTracker
	notifier   *Notifier
	senderXP   int64
	now        func() time.Time
}

func NewGiftTransactionService(balance *BalanceService, xp *XPService, challenges *ChallengeTracker, notifier *Notifier, senderXP int64, now func() time.Time) *GiftTransactionService {
	return &GiftTransactionService{
		balance:    balance,
		xp:         xp,
		challenges: challenges,
		notifier:   notifier,
		senderXP:   senderXP,
		now:        now,
	}
}

// SendGift charges price × multiplier and records the gift, inventory grant,
// notification and sender XP on st. Run it inside one transaction: every
// step commits or none does.
func (s *GiftTransactionService) SendGift(ctx context.Context, st store.Store, senderID, recipientID, itemID string, opts SendOptions) (*models.GiftTransaction, error) {
	if senderID == "" || recipientID == "" {
		return nil, apperrors.Validation("sender and recipient are required")
	}
	if senderID == recipientID {
		return nil, apperrors.Validation("cannot send a gift to yourself")
	}

	item, err := st.GetCatalogItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !item.IsActive) {
		return nil, apperrors.ErrItemNotFound.WithDetails(map[string]interface{}{"item_id": itemID})
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog item: %w", err)
	}

	cost := item.Cost()
	funding := senderID
	if opts.FundingAccount != "" {
		funding = opts.FundingAccount
	}

	gt := &models.GiftTransaction{
		ID:               uuid.NewString(),
		SenderID:         senderID,
		RecipientID:      recipientID,
		FundingAccountID: funding,
		ItemID:           item.ID,
		AmountCharged:    cost,
		Status:           models.GiftStatusSent,
		Message:          opts.Message,
		IsAnonymous:      opts.IsAnonymous,
		GroupGiftID:      opts.GroupGiftID,
		CreatedAt:        s.now(),
	}

	if cost > 0 {
		if _, err := s.balance.ApplyDelta(ctx, st, funding, -cost, models.ReasonGiftSent, map[string]any{
			"item_id":             item.ID,
			"gift_transaction_id": gt.ID,
			"recipient_id":        recipientID,
		}); err != nil {
			return nil, err
		}
	}

	if err := st.CreateGiftTransaction(ctx, gt); err != nil {
		return nil, fmt.Errorf("create gift transaction: %w", err)
	}
	if _, err := st.EnsureAccount(ctx, recipientID, models.AccountKindUser); err != nil {
		return nil, fmt.Errorf("ensure recipient account: %w", err)
	}

	if item.GrantsInventory {
		if _, err := st.GrantInventory(ctx, &models.InventoryItem{
			ID:           uuid.NewString(),
			UserID:       recipientID,
			ItemID:       item.ID,
			SourceGiftID: gt.ID,
			GrantedAt:    s.now(),
		}); err != nil {
			return nil, fmt.Errorf("grant inventory: %w", err)
		}
	}

	if err := s.notifier.GiftReceived(ctx, st, gt, item); err != nil {
		return nil, fmt.Errorf("enqueue gift notification: %w", err)
	}

	if s.senderXP > 0 {
		if _, err := s.xp.AwardXP(ctx, st, senderID, s.senderXP, models.ActionSendGift, map[string]any{
			"gift_transaction_id": gt.ID,
		}); err != nil {
			return nil, err
		}
	}

	// pool-funded gifts do not count toward the organizer's own challenge
	if opts.GroupGiftID == nil {
		s.challenges.AdvanceQuietly(ctx, st, senderID, ChallengeSendGift, 1)
	}

	metrics.RecordGiftSent(cost)
	log.WithFields(log.Fields{
		"gift_transaction_id": gt.ID,
		"sender_id":           senderID,
		"recipient_id":        recipientID,
		"item":                item.Slug,
		"cost":                cost,
	}).Info("🎁 Gift sent")
	return gt, nil
}
