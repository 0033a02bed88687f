package models

import (
	"time"
)

type RequirementKind string

const (
	RequirementMinStat  RequirementKind = "min_stat"  // snapshot[stat] >= threshold
	RequirementMinLevel RequirementKind = "min_level" // derived level >= threshold
	RequirementMinXP    RequirementKind = "min_xp"    // xp_total >= threshold
)

// Requirement is one typed condition of an achievement. All requirements of a
// definition must hold for it to unlock.
type Requirement struct {
	Kind      RequirementKind `json:"kind"`
	Stat      string          `json:"stat,omitempty"`
	Threshold int64           `json:"threshold"`
}

func MinStat(stat string, threshold int64) Requirement {
	return Requirement{Kind: RequirementMinStat, Stat: stat, Threshold: threshold}
}

func MinLevel(level int64) Requirement {
	return Requirement{Kind: RequirementMinLevel, Threshold: level}
}

func MinXP(xp int64) Requirement {
	return Requirement{Kind: RequirementMinXP, Threshold: xp}
}

// AchievementDef: reference data, seeded from the economy config or the admin API
type AchievementDef struct {
	ID           string        `gorm:"primaryKey;type:uuid" json:"id"`
	Code         string        `gorm:"uniqueIndex;not null" json:"code"` // e.g., "loop-starter", "LEVEL_10"
	Name         string        `gorm:"not null" json:"name"`
	Description  string        `json:"description"`
	IconURL      string        `gorm:"type:text" json:"icon_url,omitempty"`
	Rarity       string        `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	Requirements []Requirement `gorm:"type:jsonb;serializer:json" json:"requirements"`
	XPReward     int64         `gorm:"not null;default:0" json:"xp_reward"`
	IsActive     bool          `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserAchievement: one row per (user, achievement), inserted on unlock
type UserAchievement struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string     `gorm:"uniqueIndex:idx_user_achievement;not null" json:"user_id"`
	AchievementID string     `gorm:"uniqueIndex:idx_user_achievement;not null" json:"achievement_id"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
