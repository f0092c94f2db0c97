package model

import "time"

// RateLimitRecord tracks failed attempts for one client identifier.
type RateLimitRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Identifier  string    `gorm:"size:255;uniqueIndex;not null" json:"identifier"`
	Attempts    int       `gorm:"not null;default:0" json:"attempts"`
	LastAttempt time.Time `gorm:"not null;index" json:"last_attempt"`
}

func (RateLimitRecord) TableName() string { return "rate_limits" }

// All 列出需要 AutoMigrate 的全部模型。
func All() []any {
	return []any{&Code{}, &Prize{}, &Winner{}, &RateLimitRecord{}}
}
