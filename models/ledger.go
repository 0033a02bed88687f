package models

import "time"

type LedgerKind string

const (
	LedgerKindCoins LedgerKind = "coins"
	LedgerKindXP    LedgerKind = "xp"
)

// Ledger reasons
const (
	ReasonGiftSent          = "gift_sent"
	ReasonGroupContribution = "group_gift_contribution"
	ReasonGroupPoolCredit   = "group_gift_pool_credit"
	ReasonGroupRefund       = "group_gift_refund"
	ReasonGroupPoolRefund   = "group_gift_pool_refund"
	ReasonChallengeReward   = "challenge_reward"
	ReasonAdminGrant        = "admin_grant"
	ActionSendGift          = "send_gift"
	ActionAchievementUnlock = "achievement_unlock"
	ActionChallengeComplete = "challenge_complete"
	ActionAdminGrant        = "admin_grant"
)

// LedgerEntry is an immutable record of one coin or XP delta. IDs are ULIDs so
// they sort in creation order.
type LedgerEntry struct {
	ID           string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	UserID       string         `gorm:"index:idx_ledger_user_id_id,priority:1;not null" json:"user_id"`
	Kind         LedgerKind     `gorm:"type:varchar(8);not null" json:"kind"`
	Amount       int64          `gorm:"not null" json:"amount"`
	BalanceAfter int64          `gorm:"not null" json:"balance_after"` // coin balance or xp total after the delta
	Reason       string         `gorm:"type:varchar(64);not null" json:"reason"`
	Metadata     map[string]any `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
