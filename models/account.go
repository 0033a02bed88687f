package models

import (
	"time"

	"gorm.io/gorm"
)

type AccountKind string

const (
	AccountKindUser AccountKind = "user"
	AccountKindPool AccountKind = "pool" // escrow for a group gift
)

// Account is a user's economic state: spendable coins and cumulative XP.
type Account struct {
	ID      string      `gorm:"primaryKey;type:uuid" json:"id"`
	UserID  string      `gorm:"uniqueIndex;not null" json:"user_id"` // links to profile service
	Kind    AccountKind `gorm:"type:varchar(8);not null;default:'user'" json:"kind"`
	Balance int64       `gorm:"not null;default:0;check:balance >= 0" json:"balance"`
	XPTotal int64       `gorm:"not null;default:0;check:xp_total >= 0" json:"xp_total"`

	Timestamps
}

// PoolAccountID is the account user id that escrows contributions for a group gift.
func PoolAccountID(groupGiftID string) string {
	return "pool:" + groupGiftID
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
