package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Prize 奖品类别：有限库存 + 抽中权重。
// QuantityRemaining 只允许在抽奖事务内 -1，或在删除中奖记录时 +1。
type Prize struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title             string `gorm:"size:128;not null" json:"title"`
	Description       string `gorm:"size:1024" json:"description"`
	ImageURL          string `gorm:"size:512" json:"image_url"`
	QuantityTotal     int    `gorm:"not null;check:chk_prize_total,quantity_total >= 0" json:"quantity_total"`
	QuantityRemaining int    `gorm:"not null;index;check:chk_prize_remaining,quantity_remaining >= 0 AND quantity_remaining <= quantity_total" json:"quantity_remaining"`
	Weight            int    `gorm:"not null;check:chk_prize_weight,weight > 0" json:"weight"`
}

func (Prize) TableName() string { return "prizes" }

var ErrPrizeInvariant = errors.New("prize: remaining must be within [0, total] and weight must be positive")

// BeforeSave 在整行写入时校验库存不变式；库存增减走 UpdateColumn，由 CHECK 约束兜底。
func (p *Prize) BeforeSave(*gorm.DB) error {
	if p.Weight <= 0 || p.QuantityRemaining < 0 || p.QuantityRemaining > p.QuantityTotal {
		return ErrPrizeInvariant
	}
	return nil
}

// PublicPrize is the only prize shape the wheel ever sends to a supporter.
// Remaining stock and weight are deliberately absent.
type PublicPrize struct {
	ID       uint   `json:"id"`
	Title    string `json:"title"`
	ImageURL string `json:"imageUrl"`
}

func (p Prize) Public() PublicPrize {
	return PublicPrize{ID: p.ID, Title: p.Title, ImageURL: p.ImageURL}
}
