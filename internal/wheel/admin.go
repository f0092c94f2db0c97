package wheel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prize_wheel/internal/events"
	"prize_wheel/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PrizeInput 是管理端创建/编辑奖品的字段。
type PrizeInput struct {
	Title         string
	Description   string
	ImageURL      string
	QuantityTotal int
	Weight        int
}

func (in PrizeInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidPrize)
	}
	if in.QuantityTotal < 1 || in.Weight < 1 {
		return fmt.Errorf("%w: quantity and weight must be at least 1", ErrInvalidPrize)
	}
	return nil
}

// WheelPrizes 返回转盘展示用的奖品，只含 id/title/imageUrl。
func (s *Service) WheelPrizes(ctx context.Context) ([]model.PublicPrize, error) {
	var list []model.Prize
	if err := s.db.WithContext(ctx).
		Select("id", "title", "image_url").
		Order("created_at, id").
		Find(&list).Error; err != nil {
		return nil, err
	}
	out := make([]model.PublicPrize, 0, len(list))
	for _, p := range list {
		out = append(out, p.Public())
	}
	return out, nil
}

func (s *Service) ListPrizes(ctx context.Context) ([]model.Prize, error) {
	var list []model.Prize
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// CreatePrize 新建奖品，初始剩余量等于总量。
func (s *Service) CreatePrize(ctx context.Context, in PrizeInput) (model.Prize, error) {
	if err := in.validate(); err != nil {
		return model.Prize{}, err
	}
	p := model.Prize{
		Title:             strings.TrimSpace(in.Title),
		Description:       in.Description,
		ImageURL:          in.ImageURL,
		QuantityTotal:     in.QuantityTotal,
		QuantityRemaining: in.QuantityTotal,
		Weight:            in.Weight,
	}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return model.Prize{}, err
	}
	s.bus.Publish(events.New(events.PrizeInventoryChanged, nil))
	return p, nil
}

// UpdatePrize edits a prize. Changing the total shifts remaining by the same
// delta, so the number of units already won stays fixed.
func (s *Service) UpdatePrize(ctx context.Context, id uint, in PrizeInput) (model.Prize, error) {
	if err := in.validate(); err != nil {
		return model.Prize{}, err
	}
	var p model.Prize
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate).First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPrizeNotFound
			}
			return err
		}
		remaining := p.QuantityRemaining + (in.QuantityTotal - p.QuantityTotal)
		if remaining < 0 {
			return ErrInvalidQuantity
		}
		p.Title = strings.TrimSpace(in.Title)
		p.Description = in.Description
		p.ImageURL = in.ImageURL
		p.QuantityTotal = in.QuantityTotal
		p.QuantityRemaining = remaining
		p.Weight = in.Weight
		return tx.Save(&p).Error
	})
	if err != nil {
		return model.Prize{}, err
	}
	s.bus.Publish(events.New(events.PrizeInventoryChanged, nil))
	return p, nil
}

// DeletePrize 删除奖品；已有中奖记录引用时拒绝。
func (s *Service) DeletePrize(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Winner{}).Where("prize_id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrPrizeHasWinners
		}
		res := tx.Delete(&model.Prize{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPrizeNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.bus.Publish(events.New(events.PrizeInventoryChanged, nil))
	return nil
}

// ListCodes lists codes newest first; used filters by state when non-nil.
func (s *Service) ListCodes(ctx context.Context, used *bool) ([]model.Code, error) {
	q := s.db.WithContext(ctx).Order("created_at desc, id desc")
	if used != nil {
		q = q.Where("used = ?", *used)
	}
	var list []model.Code
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateCode 修改持码人姓名/邮箱，不影响使用状态。
func (s *Service) UpdateCode(ctx context.Context, id uint, name, email string) (model.Code, error) {
	var c model.Code
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCodeNotFound
			}
			return err
		}
		if err := tx.Model(&c).Updates(map[string]any{
			"name":  sanitizeName(name),
			"email": normalizeEmail(email),
		}).Error; err != nil {
			return err
		}
		return tx.First(&c, id).Error
	})
	if err != nil {
		return model.Code{}, err
	}
	return c, nil
}

// DeleteCode 仅允许删除未使用的抽奖码。
func (s *Service) DeleteCode(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND used = ?", id, false).Delete(&model.Code{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		var n int64
		if err := tx.Model(&model.Code{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrCodeNotFound
		}
		return ErrCodeUsed
	})
}

// ListWinners returns winners newest first with their code and prize loaded.
// limit <= 0 means no limit.
func (s *Service) ListWinners(ctx context.Context, limit int) ([]model.Winner, error) {
	q := s.db.WithContext(ctx).
		Preload("Code").
		Preload("Prize").
		Order("won_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var list []model.Winner
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Winner loads one winner with its code and prize.
func (s *Service) Winner(ctx context.Context, id uint) (model.Winner, error) {
	var w model.Winner
	err := s.db.WithContext(ctx).Preload("Code").Preload("Prize").First(&w, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Winner{}, ErrWinnerNotFound
	}
	if err != nil {
		return model.Winner{}, err
	}
	return w, nil
}

// RecentWinner is the ticker entry shown on the public page.
type RecentWinner struct {
	Name       string    `json:"name"`
	PrizeName  string    `json:"prizeName"`
	PrizeImage string    `json:"prizeImage"`
	WonAt      time.Time `json:"wonAt"`
}

// RecentWinners 返回最近 n 条中奖展示信息，跳过缺姓名或奖品的记录。
func (s *Service) RecentWinners(ctx context.Context, n int) ([]RecentWinner, error) {
	list, err := s.ListWinners(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]RecentWinner, 0, len(list))
	for _, w := range list {
		if w.Code == nil || w.Prize == nil || w.Code.Name == "" || w.Prize.Title == "" {
			continue
		}
		out = append(out, RecentWinner{
			Name:       w.Code.Name,
			PrizeName:  w.Prize.Title,
			PrizeImage: w.Prize.ImageURL,
			WonAt:      w.WonAt,
		})
	}
	return out, nil
}

// WinnerUpdate carries the fulfillment fields an admin may change; nil leaves a field as is.
type WinnerUpdate struct {
	PrizeSent *bool
	Notes     *string
}

func (s *Service) UpdateWinner(ctx context.Context, id uint, upd WinnerUpdate) (model.Winner, error) {
	var w model.Winner
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&w, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWinnerNotFound
			}
			return err
		}
		fields := map[string]any{}
		if upd.PrizeSent != nil {
			fields["prize_sent"] = *upd.PrizeSent
		}
		if upd.Notes != nil {
			fields["notes"] = *upd.Notes
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(&w).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&w, id).Error
	})
	if err != nil {
		return model.Winner{}, err
	}
	s.bus.Publish(events.New(events.WinnerListChanged, nil))
	return w, nil
}

// DeleteWinner 补偿事务：删除中奖记录，同时回补一件库存并把抽奖码恢复为未使用。
// 三步同成同败。
func (s *Service) DeleteWinner(ctx context.Context, id uint) error {
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w model.Winner
		if err := tx.Clauses(forUpdate).First(&w, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWinnerNotFound
			}
			return err
		}

		upd := tx.Model(&model.Prize{}).
			Where("id = ? AND quantity_remaining < quantity_total", w.PrizeID).
			UpdateColumns(map[string]any{
				"quantity_remaining": gorm.Expr("quantity_remaining + ?", 1),
				"updated_at":         now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return ErrReversalConflict
		}

		upd = tx.Model(&model.Code{}).
			Where("id = ? AND used = ?", w.CodeID, true).
			UpdateColumns(map[string]any{
				"used":       false,
				"used_at":    nil,
				"updated_at": now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return ErrReversalConflict
		}

		return tx.Delete(&model.Winner{}, w.ID).Error
	})
	if err != nil {
		return err
	}
	zap.S().Infow("winner reversed", "winner_id", id)
	s.bus.PublishAll(
		events.New(events.PrizeInventoryChanged, nil),
		events.New(events.WinnerListChanged, nil),
	)
	return nil
}
