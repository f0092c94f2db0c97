package ratelimit

import (
	"context"
	"errors"
	"time"

	"prize_wheel/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBLimiter keeps one rate_limits row per identifier.
type DBLimiter struct {
	db     *gorm.DB
	policy Policy
	now    func() time.Time
}

func NewDBLimiter(db *gorm.DB, policy Policy) *DBLimiter {
	return &DBLimiter{db: db, policy: policy.withDefaults(), now: time.Now}
}

// WithClock 注入时钟，测试用来推进窗口。
func (l *DBLimiter) WithClock(now func() time.Time) *DBLimiter {
	l.now = now
	return l
}

func (l *DBLimiter) IsLimited(ctx context.Context, id string) (bool, error) {
	now := l.now().UTC()
	var limited bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec model.RateLimitRecord
		err := tx.Where("identifier = ?", id).Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		// 上次失败已在窗口外：显式清零后再判断。
		if now.Sub(rec.LastAttempt) > l.policy.Window {
			if rec.Attempts == 0 {
				return nil
			}
			return tx.Model(&rec).UpdateColumns(map[string]any{
				"attempts":   0,
				"updated_at": now,
			}).Error
		}
		limited = rec.Attempts >= l.policy.MaxAttempts
		return nil
	})
	return limited, err
}

func (l *DBLimiter) RecordFailure(ctx context.Context, id string) error {
	now := l.now().UTC()
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec model.RateLimitRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("identifier = ?", id).Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = model.RateLimitRecord{Identifier: id, Attempts: 1, LastAttempt: now}
			// 并发首次失败时另一事务可能已插入，冲突则退化为 +1。
			return tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "identifier"}},
				DoUpdates: clause.Assignments(map[string]any{
					"attempts":     gorm.Expr("attempts + 1"),
					"last_attempt": now,
					"updated_at":   now,
				}),
			}).Create(&rec).Error
		}
		if err != nil {
			return err
		}

		attempts := rec.Attempts + 1
		if now.Sub(rec.LastAttempt) > l.policy.Window {
			attempts = 1
		}
		return tx.Model(&rec).UpdateColumns(map[string]any{
			"attempts":     attempts,
			"last_attempt": now,
			"updated_at":   now,
		}).Error
	})
}

func (l *DBLimiter) Reset(ctx context.Context, id string) error {
	return l.db.WithContext(ctx).
		Model(&model.RateLimitRecord{}).
		Where("identifier = ?", id).
		UpdateColumns(map[string]any{"attempts": 0, "updated_at": l.now().UTC()}).Error
}

// Attempts returns the stored counter for id (0 when absent).
func (l *DBLimiter) Attempts(ctx context.Context, id string) (int, error) {
	var rec model.RateLimitRecord
	err := l.db.WithContext(ctx).Where("identifier = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Attempts, nil
}

// Purge 删除窗口外的记录（已无意义），返回删除条数。由定时任务调用。
func (l *DBLimiter) Purge(ctx context.Context) (int64, error) {
	cutoff := l.now().UTC().Add(-l.policy.Window)
	res := l.db.WithContext(ctx).Where("last_attempt < ?", cutoff).Delete(&model.RateLimitRecord{})
	return res.RowsAffected, res.Error
}
