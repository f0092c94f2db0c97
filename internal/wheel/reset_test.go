package wheel

import (
	"context"
	"errors"
	"testing"
	"time"

	"prize_wheel/internal/events"
	"prize_wheel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedCampaign(t *testing.T, h *harness) SpinResult {
	t.Helper()
	h.prize(t, "Mug", 3, 3, 1)
	h.prize(t, "Hat", 1, 1, 1)
	h.code(t, "AK-2025-AAAA")
	h.code(t, "AK-2025-BBBB")
	require.NoError(t, h.db.Create(&model.RateLimitRecord{Identifier: "10.0.0.1", Attempts: 3, LastAttempt: fixedNow}).Error)

	res, err := h.svc.Spin(context.Background(), "AK-2025-AAAA")
	require.NoError(t, err)
	require.True(t, res.Won())
	return res
}

func TestReset_SnapshotsThenWipesEverything(t *testing.T) {
	h := newHarness(t)
	won := seedCampaign(t, h)
	h.events = nil

	snap, err := h.svc.Reset(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Prizes, 2)
	assert.Len(t, snap.Codes, 2)
	require.Len(t, snap.Winners, 1)
	assert.Equal(t, won.Winner.ID, snap.Winners[0].ID)
	require.NotNil(t, snap.Winners[0].Code)
	require.NotNil(t, snap.Winners[0].Prize)
	assert.Equal(t, "AK-2025-AAAA", snap.Winners[0].Code.Code)
	assert.EqualValues(t, 1, snap.RateLimitsDeleted)

	for _, m := range []any{&model.Winner{}, &model.Code{}, &model.Prize{}, &model.RateLimitRecord{}} {
		assert.EqualValues(t, 0, h.count(t, m), "%T", m)
	}
	assert.Equal(t, []events.EventType{events.PrizeInventoryChanged, events.WinnerListChanged}, h.eventTypes())

	// 清空后可以重新开始一轮
	h.prize(t, "Pen", 1, 1, 1)
	h.code(t, "AK-2025-AAAA")
	res, err := h.svc.Spin(context.Background(), "AK-2025-AAAA")
	require.NoError(t, err)
	assert.True(t, res.Won())
}

func TestReset_FailureRollsBackWholeWipe(t *testing.T) {
	h := newHarness(t)
	seedCampaign(t, h)
	h.events = nil

	// 删除奖品时失败：此前已删除的中奖记录和抽奖码必须一起回滚
	require.NoError(t, h.db.Callback().Delete().Before("gorm:delete").Register("fail_prize_delete", func(db *gorm.DB) {
		if db.Statement.Table == "prizes" {
			_ = db.AddError(errors.New("disk full"))
		}
	}))

	_, err := h.svc.Reset(context.Background())
	require.Error(t, err)

	assert.EqualValues(t, 1, h.count(t, &model.Winner{}))
	assert.EqualValues(t, 2, h.count(t, &model.Code{}))
	assert.EqualValues(t, 2, h.count(t, &model.Prize{}))
	assert.EqualValues(t, 1, h.count(t, &model.RateLimitRecord{}))
	assert.Empty(t, h.eventTypes())
}

func TestReset_EmptyStore(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := h.svc.Reset(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Prizes)
	assert.Empty(t, snap.Winners)
	assert.Empty(t, snap.Codes)
	assert.Zero(t, snap.RateLimitsDeleted)
}
