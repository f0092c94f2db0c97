package model

import "time"

// Winner 一次成功兑换的持久记录，与 Code、Prize 的一件库存一一对应。
// CodeID 唯一索引在库层面保证同一抽奖码最多一条中奖记录。
type Winner struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CodeID    uint      `gorm:"not null;uniqueIndex" json:"code_id"`
	PrizeID   uint      `gorm:"not null;index" json:"prize_id"`
	RequestID string    `gorm:"size:64;uniqueIndex;not null" json:"request_id"`
	WonAt     time.Time `gorm:"not null;index" json:"won_at"`
	PrizeSent bool      `gorm:"not null;default:false" json:"prize_sent"`
	Notes     string    `gorm:"size:1024" json:"notes"`

	Code  *Code  `gorm:"foreignKey:CodeID" json:"code,omitempty"`
	Prize *Prize `gorm:"foreignKey:PrizeID" json:"prize,omitempty"`
}

func (Winner) TableName() string { return "winners" }
