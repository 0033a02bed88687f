package models

import "time"

// DailyChallenge is one user's objective for a UTC calendar day.
type DailyChallenge struct {
	ID              string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID          string     `gorm:"uniqueIndex:idx_challenge_user_type_day;not null" json:"user_id"`
	Type            string     `gorm:"uniqueIndex:idx_challenge_user_type_day;type:varchar(32);not null" json:"type"`
	Day             string     `gorm:"uniqueIndex:idx_challenge_user_type_day;type:char(10);not null" json:"day"` // YYYY-MM-DD
	Title           string     `json:"title"`
	TargetValue     int64      `gorm:"not null;check:target_value > 0" json:"target_value"`
	CurrentProgress int64      `gorm:"not null;default:0;check:current_progress <= target_value" json:"current_progress"`
	XPReward        int64      `gorm:"not null;default:0" json:"xp_reward"`
	CoinReward      int64      `gorm:"not null;default:0" json:"coin_reward"`
	IsCompleted     bool       `gorm:"not null;default:false" json:"is_completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// ChallengeDay guards generation: one row per (user, day).
type ChallengeDay struct {
	UserID    string    `gorm:"primaryKey"`
	Day       string    `gorm:"primaryKey;type:char(10)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

const ChallengeDayLayout = "2006-01-02"
