package model

import "time"

// Code 一次性抽奖码。Used 一旦置为 true，只能通过删除中奖记录（补偿事务）回退。
type Code struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Code   string     `gorm:"size:32;uniqueIndex;not null" json:"code"`
	Name   string     `gorm:"size:128" json:"name"`
	Email  string     `gorm:"size:255;index" json:"email"`
	Used   bool       `gorm:"not null;default:false;index" json:"used"`
	UsedAt *time.Time `json:"used_at"`
}

func (Code) TableName() string { return "spin_codes" }
