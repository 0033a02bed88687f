package models

import "time"

type GroupGiftStatus string

const (
	GroupGiftOpen      GroupGiftStatus = "open"
	GroupGiftCompleted GroupGiftStatus = "completed"
	GroupGiftExpired   GroupGiftStatus = "expired"
)

type DeliveryStatus string

const (
	DeliveryNone      DeliveryStatus = "none" // still open
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRefunded  DeliveryStatus = "refunded"
)

// GroupGift is a crowdfunded campaign. Status moves open→completed or
// open→expired and never back.
type GroupGift struct {
	ID                string          `gorm:"primaryKey;type:uuid" json:"id"`
	OrganizerID       string          `gorm:"index;not null" json:"organizer_id"`
	RecipientID       string          `gorm:"index;not null" json:"recipient_id"`
	ItemID            string          `gorm:"type:uuid;not null" json:"item_id"`
	PoolAccountID     string          `gorm:"not null" json:"pool_account_id"`
	TargetAmount      int64           `gorm:"not null;check:target_amount > 0" json:"target_amount"`
	CurrentAmount     int64           `gorm:"not null;default:0;check:current_amount >= 0 AND current_amount <= target_amount" json:"current_amount"`
	Deadline          time.Time       `gorm:"index;not null" json:"deadline"`
	Status            GroupGiftStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	DeliveryStatus    DeliveryStatus  `gorm:"type:varchar(16);not null;default:'none'" json:"delivery_status"`
	GiftTransactionID *string         `gorm:"type:uuid" json:"gift_transaction_id,omitempty"`
	Message           string          `gorm:"type:text" json:"message,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	ExpiredAt         *time.Time      `json:"expired_at,omitempty"`

	Timestamps
}

func (g *GroupGift) Remaining() int64 {
	return g.TargetAmount - g.CurrentAmount
}

// Contribution records the accepted (capped) part of one pledge.
type Contribution struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`
	// Seq orders contributions by insertion; refunds walk it newest first.
	Seq           int64     `gorm:"autoIncrement;uniqueIndex;not null" json:"seq"`
	GroupGiftID   string    `gorm:"type:uuid;index;not null" json:"group_gift_id"`
	ContributorID string    `gorm:"index;not null" json:"contributor_id"`
	Amount        int64     `gorm:"not null;check:amount > 0" json:"amount"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
