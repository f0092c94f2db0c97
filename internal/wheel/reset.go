package wheel

import (
	"context"

	"prize_wheel/internal/events"
	"prize_wheel/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResetSnapshot 是清库前读到的全部数据，调用方据此导出留档。
type ResetSnapshot struct {
	Prizes            []model.Prize
	Winners           []model.Winner
	Codes             []model.Code
	RateLimitsDeleted int64
}

// Reset 清空本轮活动数据：先快照，再按外键顺序删除中奖记录、抽奖码、奖品和限流记录。
// 快照与删除在同一事务内，任一步失败整体回滚。
func (s *Service) Reset(ctx context.Context) (ResetSnapshot, error) {
	var snap ResetSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap = ResetSnapshot{}
		if err := tx.Order("created_at desc, id desc").Find(&snap.Prizes).Error; err != nil {
			return err
		}
		if err := tx.Preload("Code").Preload("Prize").Order("won_at desc, id desc").Find(&snap.Winners).Error; err != nil {
			return err
		}
		if err := tx.Order("created_at desc, id desc").Find(&snap.Codes).Error; err != nil {
			return err
		}

		for _, m := range []any{&model.Winner{}, &model.Code{}, &model.Prize{}} {
			if err := tx.Where("1 = 1").Delete(m).Error; err != nil {
				return err
			}
		}
		res := tx.Where("1 = 1").Delete(&model.RateLimitRecord{})
		if res.Error != nil {
			return res.Error
		}
		snap.RateLimitsDeleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return ResetSnapshot{}, err
	}

	zap.S().Warnw("campaign data reset",
		"prizes", len(snap.Prizes),
		"winners", len(snap.Winners),
		"codes", len(snap.Codes),
		"rate_limits", snap.RateLimitsDeleted)
	s.bus.PublishAll(
		events.New(events.PrizeInventoryChanged, nil),
		events.New(events.WinnerListChanged, nil),
	)
	return snap, nil
}
