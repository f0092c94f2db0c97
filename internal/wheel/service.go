package wheel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prize_wheel/internal/events"
	"prize_wheel/internal/model"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultSpinTimeout = 5 * time.Second

// errConflict 表示条件更新未命中：并发事务已先一步修改了同一行。
var errConflict = errors.New("concurrent modification")

// forUpdate 在支持行锁的库上加 FOR UPDATE；SQLite 方言会忽略它，由 BEGIN IMMEDIATE 串行化写事务。
var forUpdate = clause.Locking{Strength: "UPDATE"}

// Service owns every mutation of codes, prizes and winners.
type Service struct {
	db      *gorm.DB
	bus     *events.Bus
	src     Source
	now     func() time.Time
	timeout time.Duration

	codePrefix string
}

type Option func(*Service)

// WithSource overrides the random source used by the selector.
func WithSource(src Source) Option {
	return func(s *Service) { s.src = src }
}

// WithClock overrides the clock used for used_at / won_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTimeout bounds each spin transaction attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCodePrefix sets the prefix of generated codes (default "AK").
func WithCodePrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.codePrefix = prefix
		}
	}
}

func NewService(db *gorm.DB, bus *events.Bus, opts ...Option) *Service {
	s := &Service{
		db:         db,
		bus:        bus,
		src:        CryptoSource,
		now:        time.Now,
		timeout:    defaultSpinTimeout,
		codePrefix: "AK",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate 只读预校验，不消耗抽奖码。结果可能在真正抽奖前失效，抽奖事务会重新校验。
func (s *Service) Validate(ctx context.Context, code string) (CodeState, error) {
	var c model.Code
	err := s.db.WithContext(ctx).
		Select("id", "used").
		Where("code = ?", NormalizeCode(code)).
		Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CodeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("validate code: %w", err)
	}
	if c.Used {
		return CodeAlreadyUsed, nil
	}
	return CodeValid, nil
}

// SpinResult is the committed result of a spin. Only Prize.Public() may be
// returned to the supporter; the rest feeds notifications.
type SpinResult struct {
	Outcome Outcome
	Winner  model.Winner
	Code    model.Code
	Prize   model.Prize
}

func (r SpinResult) Won() bool { return r.Outcome == OutcomeWon }

// Spin 是抽奖主流程。关键步骤全部在同一个事务内：
// 1. 校验抽奖码存在且未使用
// 2. 读取有库存的奖品
// 3. 加权随机选中奖品
// 4. 条件扣减库存（remaining > 0）
// 5. 条件标记抽奖码已用（used = false）
// 6. 写中奖记录
// 任一步失败整体回滚。冲突/锁超时类错误自动重试一次，仍失败则返回 ErrTransient。
func (s *Service) Spin(ctx context.Context, code string) (SpinResult, error) {
	code = NormalizeCode(code)
	// request_id 作为整条链路的追踪与幂等主键。
	requestID := uuid.New().String()

	res, err := s.spinOnce(ctx, code, requestID)
	if err != nil && isRetryable(err) && ctx.Err() == nil {
		zap.S().Warnw("spin conflict, retrying once", "request_id", requestID, "error", err)
		res, err = s.spinOnce(ctx, code, requestID)
	}
	if err != nil {
		zap.S().Errorw("spin failed", "kind", ErrTransient.Error(), "request_id", requestID, "error", err)
		return SpinResult{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if res.Won() {
		zap.S().Infow("spin committed",
			"request_id", requestID,
			"winner_id", res.Winner.ID,
			"code_id", res.Code.ID,
			"prize_id", res.Prize.ID)
		s.bus.PublishAll(
			events.New(events.PrizeInventoryChanged, nil),
			events.New(events.WinnerListChanged, nil),
			events.New(events.WinnerCreated, events.WinnerPayload{Winner: res.Winner, Code: res.Code, Prize: res.Prize}),
		)
	}
	return res, nil
}

func (s *Service) spinOnce(ctx context.Context, code, requestID string) (SpinResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var res SpinResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res = SpinResult{}

		var c model.Code
		err := tx.Clauses(forUpdate).Where("code = ?", code).Take(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			res.Outcome = OutcomeInvalidCode
			return nil
		}
		if err != nil {
			return err
		}
		if c.Used {
			res.Outcome = OutcomeCodeAlreadyUsed
			return nil
		}

		var prizes []model.Prize
		if err := tx.Clauses(forUpdate).
			Where("quantity_remaining > ?", 0).
			Order("id").
			Find(&prizes).Error; err != nil {
			return err
		}
		if len(prizes) == 0 {
			res.Outcome = OutcomeNoPrizes
			return nil
		}

		won, err := SelectWeighted(prizes, s.src)
		if err != nil {
			return fmt.Errorf("select prize: %w", err)
		}

		now := s.now().UTC()
		upd := tx.Model(&model.Prize{}).
			Where("id = ? AND quantity_remaining > ?", won.ID, 0).
			UpdateColumns(map[string]any{
				"quantity_remaining": gorm.Expr("quantity_remaining - ?", 1),
				"updated_at":         now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return errConflict
		}
		won.QuantityRemaining--

		upd = tx.Model(&model.Code{}).
			Where("id = ? AND used = ?", c.ID, false).
			UpdateColumns(map[string]any{
				"used":       true,
				"used_at":    now,
				"updated_at": now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return errConflict
		}
		c.Used = true
		c.UsedAt = &now

		w := model.Winner{
			CodeID:    c.ID,
			PrizeID:   won.ID,
			RequestID: requestID,
			WonAt:     now,
		}
		if err := tx.Create(&w).Error; err != nil {
			return err
		}

		res = SpinResult{Outcome: OutcomeWon, Winner: w, Code: c, Prize: won}
		return nil
	})
	if err != nil {
		return SpinResult{}, err
	}
	return res, nil
}

// isRetryable 判断错误是否来自并发冲突或锁等待，这类错误重试一次通常会读到提交后的状态。
func isRetryable(err error) bool {
	if errors.Is(err, errConflict) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy ||
			se.Code == sqlite3.ErrLocked ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
