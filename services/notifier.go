package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loop-economy/apperrors"
	"loop-economy/models"
	"loop-economy/store"
	"loop-economy/utils"

	"github.com/google/uuid"
)

// Notifier writes notifications to the outbox inside the caller's
// transaction. Delivery happens later in the outbox worker, so a dispatch
// failure can never undo an economic write.
type Notifier struct {
	now func() time.Time
}

func NewNotifier(now func() time.Time) *Notifier {
	return &Notifier{now: now}
}

func (n *Notifier) Enqueue(ctx context.Context, st store.Store, userID, typ, title, message string, data map[string]any) error {
	return st.EnqueueOutbox(ctx, &models.OutboxEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		Status:    models.OutboxPending,
		CreatedAt: n.now(),
	})
}

// GiftReceived tells the recipient about a gift. Anonymous gifts carry no
// sender identity at all.
func (n *Notifier) GiftReceived(ctx context.Context, st store.Store, gt *models.GiftTransaction, item *models.GiftCatalogItem) error {
	data := map[string]any{
		"gift_transaction_id": gt.ID,
		"item_id":             item.ID,
		"item_slug":           item.Slug,
		"amount":              gt.AmountCharged,
		"is_anonymous":        gt.IsAnonymous,
	}
	if gt.Message != "" {
		data["message"] = gt.Message
	}
	if gt.GroupGiftID != nil {
		data["group_gift_id"] = *gt.GroupGiftID
	}

	title := "You received a gift!"
	message := fmt.Sprintf("Someone sent you %s %s", item.Name, item.Emoji)
	if !gt.IsAnonymous {
		data["sender_id"] = gt.SenderID
		message = fmt.Sprintf("You received %s %s worth %s", item.Name, item.Emoji, utils.FormatCoins(gt.AmountCharged))
	}
	return n.Enqueue(ctx, st, gt.RecipientID, models.NotifyGiftReceived, title, message, data)
}

func (n *Notifier) AchievementUnlocked(ctx context.Context, st store.Store, userID string, def *models.AchievementDef) error {
	return n.Enqueue(ctx, st, userID, models.NotifyAchievementUnlocked,
		"🎉 Achievement unlocked!",
		fmt.Sprintf("You earned '%s' (+%s XP)", def.Name, utils.FormatNumber(def.XPReward)),
		map[string]any{"achievement_id": def.ID, "code": def.Code, "xp_reward": def.XPReward},
	)
}

func (n *Notifier) ChallengeCompleted(ctx context.Context, st store.Store, ch *models.DailyChallenge) error {
	return n.Enqueue(ctx, st, ch.UserID, models.NotifyChallengeCompleted,
		"Daily challenge complete",
		fmt.Sprintf("%s: +%s XP and %s", ch.Title, utils.FormatNumber(ch.XPReward), utils.FormatCoins(ch.CoinReward)),
		map[string]any{"challenge_id": ch.ID, "type": ch.Type, "xp_reward": ch.XPReward, "coin_reward": ch.CoinReward},
	)
}

func (n *Notifier) GroupGiftCompleted(ctx context.Context, st store.Store, userID string, gg *models.GroupGift, gt *models.GiftTransaction) error {
	return n.Enqueue(ctx, st, userID, models.NotifyGroupGiftCompleted,
		"Group gift delivered",
		fmt.Sprintf("The group gift reached %s and was sent", utils.FormatCoins(gg.TargetAmount)),
		map[string]any{"group_gift_id": gg.ID, "gift_transaction_id": gt.ID},
	)
}

func (n *Notifier) GroupGiftExpired(ctx context.Context, st store.Store, gg *models.GroupGift) error {
	return n.Enqueue(ctx, st, gg.OrganizerID, models.NotifyGroupGiftExpired,
		"Group gift expired",
		fmt.Sprintf("Your group gift raised %s of %s before the deadline",
			utils.FormatNumber(gg.CurrentAmount), utils.FormatCoins(gg.TargetAmount)),
		map[string]any{"group_gift_id": gg.ID},
	)
}

func (n *Notifier) GroupGiftRefunded(ctx context.Context, st store.Store, userID string, gg *models.GroupGift, amount int64) error {
	return n.Enqueue(ctx, st, userID, models.NotifyGroupGiftRefunded,
		"Group gift refund",
		fmt.Sprintf("%s returned to your balance", utils.FormatCoins(amount)),
		map[string]any{"group_gift_id": gg.ID, "amount": amount},
	)
}

// GroupGiftUndeliverable tells the organizer a completed group gift was
// refunded instead of delivered, naming the cause.
func (n *Notifier) GroupGiftUndeliverable(ctx context.Context, st store.Store, gg *models.GroupGift, cause error) error {
	message := "The gift could not be delivered, so every contribution was refunded"
	switch {
	case errors.Is(cause, apperrors.ErrItemNotFound):
		message = "The item is no longer available, so every contribution was refunded"
	case errors.Is(cause, apperrors.ErrInsufficientFunds):
		message = "The item's price went up past what was raised, so every contribution was refunded"
	}
	return n.Enqueue(ctx, st, gg.OrganizerID, models.NotifyGroupGiftRefunded,
		"Group gift could not be delivered",
		message,
		map[string]any{"group_gift_id": gg.ID, "reason": apperrors.FromError(cause).Code},
	)
}
