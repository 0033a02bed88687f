package models

import "time"

type GiftStatus string

const (
	GiftStatusPending GiftStatus = "pending"
	GiftStatusSent    GiftStatus = "sent"
	GiftStatusFailed  GiftStatus = "failed"
)

// GiftCatalogItem is a giftable item. Cost is CoinPrice × Multiplier.
type GiftCatalogItem struct {
	ID              string `gorm:"primaryKey;type:uuid" json:"id"`
	Slug            string `gorm:"uniqueIndex;not null" json:"slug"`
	Name            string `gorm:"not null" json:"name"`
	Emoji           string `json:"emoji,omitempty"`
	CoinPrice       int64  `gorm:"not null;check:coin_price >= 0" json:"coin_price"`
	Multiplier      int64  `gorm:"not null;default:1;check:multiplier >= 1" json:"multiplier"`
	GrantsInventory bool   `gorm:"not null" json:"grants_inventory"`
	IsActive        bool   `gorm:"not null;index" json:"is_active"`

	Timestamps
}

func (i *GiftCatalogItem) Cost() int64 {
	m := i.Multiplier
	if m < 1 {
		m = 1
	}
	return i.CoinPrice * m
}

// GiftTransaction is one transfer from a sender to a recipient. FundingAccountID
// is the account that was debited: the sender's own, or a group gift pool.
type GiftTransaction struct {
	ID               string     `gorm:"primaryKey;type:uuid" json:"id"`
	SenderID         string     `gorm:"index;not null" json:"sender_id"`
	RecipientID      string     `gorm:"index;not null" json:"recipient_id"`
	FundingAccountID string     `gorm:"not null" json:"funding_account_id"`
	ItemID           string     `gorm:"type:uuid;not null" json:"item_id"`
	AmountCharged    int64      `gorm:"not null" json:"amount_charged"`
	Status           GiftStatus `gorm:"type:varchar(16);not null" json:"status"`
	Message          string     `gorm:"type:text" json:"message,omitempty"`
	IsAnonymous      bool       `gorm:"not null" json:"is_anonymous"`
	GroupGiftID      *string    `gorm:"type:uuid;index" json:"group_gift_id,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// InventoryItem: unique per (user, item); granting twice is a no-op
type InventoryItem struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string    `gorm:"uniqueIndex:idx_inventory_user_item;not null" json:"user_id"`
	ItemID       string    `gorm:"uniqueIndex:idx_inventory_user_item;type:uuid;not null" json:"item_id"`
	SourceGiftID string    `gorm:"type:uuid" json:"source_gift_id"`
	GrantedAt    time.Time `gorm:"autoCreateTime" json:"granted_at"`
}

// ActivityCounts are engine-owned stats derived from gifts, challenges and unlocks.
type ActivityCounts struct {
	GiftsSent            int64
	GiftsReceived        int64
	ChallengesCompleted  int64
	AchievementsUnlocked int64
}
