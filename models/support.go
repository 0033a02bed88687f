package models

import "time"

// IdempotencyRecord stores the JSON result of a mutating call under the
// caller's key.
type IdempotencyRecord struct {
	Key       string    `gorm:"primaryKey;type:varchar(128)"`
	UserID    string    `gorm:"index;not null"`
	Operation string    `gorm:"type:varchar(48);not null"`
	Response  string    `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// UserStat mirrors one platform stat (loops_created, followers, ...) pulled
// from the stats service.
type UserStat struct {
	UserID    string    `gorm:"primaryKey" json:"user_id"`
	Stat      string    `gorm:"primaryKey;type:varchar(64)" json:"stat"`
	Value     int64     `gorm:"not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
