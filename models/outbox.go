package models

import "time"

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxDispatched OutboxStatus = "dispatched"
	OutboxFailed     OutboxStatus = "failed"
)

// Notification types
const (
	NotifyGiftReceived         = "gift_received"
	NotifyAchievementUnlocked  = "achievement_unlocked"
	NotifyChallengeCompleted   = "challenge_completed"
	NotifyGroupGiftCompleted   = "group_gift_completed"
	NotifyGroupGiftExpired     = "group_gift_expired"
	NotifyGroupGiftRefunded    = "group_gift_refunded"
	NotifyGroupGiftContributed = "group_gift_contribution"
)

// OutboxEvent is a notification written in the same transaction as the
// economic change it describes, dispatched later by the outbox worker.
type OutboxEvent struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string         `gorm:"index;not null" json:"user_id"`
	Type         string         `gorm:"type:varchar(32);not null" json:"type"`
	Title        string         `json:"title"`
	Message      string         `gorm:"type:text" json:"message"`
	Data         map[string]any `gorm:"type:jsonb;serializer:json" json:"data,omitempty"`
	Status       OutboxStatus   `gorm:"type:varchar(16);index;not null" json:"status"`
	Attempts     int            `gorm:"not null;default:0" json:"attempts"`
	LastError    string         `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
	// ClaimedUntil is the lease a drainer holds while it dispatches.
	ClaimedUntil *time.Time `gorm:"index" json:"-"`
}
