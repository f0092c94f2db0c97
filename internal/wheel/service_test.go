package wheel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"prize_wheel/internal/events"
	"prize_wheel/internal/model"
	"prize_wheel/internal/store/storetest"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC)

type harness struct {
	db     *gorm.DB
	bus    *events.Bus
	svc    *Service
	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{db: storetest.Open(t), bus: events.NewBus()}
	record := func(e events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
		return nil
	}
	for _, et := range []events.EventType{events.PrizeInventoryChanged, events.WinnerListChanged, events.WinnerCreated, events.CodesIssued} {
		h.bus.Subscribe(et, record)
	}
	h.svc = NewService(h.db, h.bus, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	return h
}

func (h *harness) prize(t *testing.T, title string, total, remaining, weight int) model.Prize {
	t.Helper()
	p := model.Prize{Title: title, QuantityTotal: total, QuantityRemaining: remaining, Weight: weight, ImageURL: "/img/" + title + ".png"}
	require.NoError(t, h.db.Create(&p).Error)
	return p
}

func (h *harness) code(t *testing.T, code string) model.Code {
	t.Helper()
	c := model.Code{Code: code, Name: "Ann", Email: "ann@example.org"}
	require.NoError(t, h.db.Create(&c).Error)
	return c
}

func (h *harness) eventTypes() []events.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.EventType, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Type)
	}
	return out
}

func (h *harness) count(t *testing.T, m any, where ...any) int64 {
	t.Helper()
	var n int64
	q := h.db.Model(m)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func TestSpin_OutOfStockPrizeIsNeverSelected(t *testing.T) {
	h := newHarness(t, WithSource(fixedSource(0)))
	h.prize(t, "P1", 5, 0, 50)
	p2 := h.prize(t, "P2", 5, 3, 10)
	h.code(t, "AK-2025-ABCD")

	res, err := h.svc.Spin(context.Background(), "ak-2025-abcd")
	require.NoError(t, err)
	require.Equal(t, OutcomeWon, res.Outcome)
	assert.Equal(t, p2.ID, res.Prize.ID)
	assert.Equal(t, model.PublicPrize{ID: p2.ID, Title: "P2", ImageURL: "/img/P2.png"}, res.Prize.Public())

	var after model.Prize
	require.NoError(t, h.db.First(&after, p2.ID).Error)
	assert.Equal(t, 2, after.QuantityRemaining)

	var code model.Code
	require.NoError(t, h.db.Where("code = ?", "AK-2025-ABCD").Take(&code).Error)
	assert.True(t, code.Used)
	require.NotNil(t, code.UsedAt)
	assert.True(t, fixedNow.Equal(*code.UsedAt))

	assert.EqualValues(t, 1, h.count(t, &model.Winner{}))
	var w model.Winner
	require.NoError(t, h.db.Take(&w).Error)
	assert.Equal(t, code.ID, w.CodeID)
	assert.Equal(t, p2.ID, w.PrizeID)
	assert.NotEmpty(t, w.RequestID)

	assert.Equal(t, []events.EventType{events.PrizeInventoryChanged, events.WinnerListChanged, events.WinnerCreated}, h.eventTypes())
	payload := h.events[2].Payload.(events.WinnerPayload)
	assert.Equal(t, "ann@example.org", payload.Code.Email)
	assert.Equal(t, "P2", payload.Prize.Title)
}

func TestSpin_Rejections(t *testing.T) {
	h := newHarness(t)
	h.prize(t, "Empty", 1, 0, 1)
	h.code(t, "AK-2025-FREE")

	res, err := h.svc.Spin(context.Background(), "AK-2025-NOPE")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidCode, res.Outcome)

	res, err = h.svc.Spin(context.Background(), "AK-2025-FREE")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoPrizes, res.Outcome)
	assert.False(t, res.Won())

	// 失败不改任何状态
	assert.EqualValues(t, 0, h.count(t, &model.Winner{}))
	assert.EqualValues(t, 0, h.count(t, &model.Code{}, "used = ?", true))
	assert.Empty(t, h.eventTypes())
}

func TestSpin_UsedCode(t *testing.T) {
	h := newHarness(t)
	h.prize(t, "Mug", 5, 5, 1)
	h.code(t, "AK-2025-ABCD")

	first, err := h.svc.Spin(context.Background(), "AK-2025-ABCD")
	require.NoError(t, err)
	require.True(t, first.Won())

	// 已用码重复提交，每次都是同样的失败且不改变任何状态
	for i := 0; i < 2; i++ {
		again, err := h.svc.Spin(context.Background(), "AK-2025-ABCD")
		require.NoError(t, err)
		assert.Equal(t, OutcomeCodeAlreadyUsed, again.Outcome)

		var p model.Prize
		require.NoError(t, h.db.Take(&p).Error)
		assert.Equal(t, 4, p.QuantityRemaining, "attempt %d", i+1)
		assert.EqualValues(t, 1, h.count(t, &model.Winner{}), "attempt %d", i+1)
	}
	assert.Equal(t, []events.EventType{events.PrizeInventoryChanged, events.WinnerListChanged, events.WinnerCreated}, h.eventTypes())
}

func TestSpin_ConcurrentSameCodeConsumedOnce(t *testing.T) {
	const n = 20
	h := newHarness(t)
	h.prize(t, "Mug", 100, 100, 1)
	h.code(t, "AK-2025-ABCD")

	outcomes := make([]Outcome, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.Spin(context.Background(), "AK-2025-ABCD")
			outcomes[i], errs[i] = res.Outcome, err
		}(i)
	}
	wg.Wait()

	counts := map[Outcome]int{}
	for i := range outcomes {
		require.NoError(t, errs[i])
		counts[outcomes[i]]++
	}
	assert.Equal(t, map[Outcome]int{OutcomeWon: 1, OutcomeCodeAlreadyUsed: n - 1}, counts)
	assert.EqualValues(t, 1, h.count(t, &model.Winner{}))

	var p model.Prize
	require.NoError(t, h.db.Take(&p).Error)
	assert.Equal(t, 99, p.QuantityRemaining)
}

func TestSpin_LastUnitAllocatedOnce(t *testing.T) {
	const n = 10
	h := newHarness(t)
	last := h.prize(t, "Last", 1, 1, 1)
	for i := 0; i < n; i++ {
		h.code(t, fmt.Sprintf("AK-2025-C%05d", i))
	}

	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.Spin(context.Background(), fmt.Sprintf("AK-2025-C%05d", i))
			assert.NoError(t, err)
			outcomes[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	counts := map[Outcome]int{}
	for _, o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, map[Outcome]int{OutcomeWon: 1, OutcomeNoPrizes: n - 1}, counts)

	var p model.Prize
	require.NoError(t, h.db.First(&p, last.ID).Error)
	assert.Equal(t, 0, p.QuantityRemaining)
	assert.EqualValues(t, 1, h.count(t, &model.Winner{}))
	assert.EqualValues(t, 1, h.count(t, &model.Code{}, "used = ?", true))
}

func TestSpin_SourceFailureIsTransient(t *testing.T) {
	h := newHarness(t, WithSource(failingSource{}))
	h.prize(t, "Mug", 1, 1, 1)
	h.code(t, "AK-2025-ABCD")

	_, err := h.svc.Spin(context.Background(), "AK-2025-ABCD")
	assert.ErrorIs(t, err, ErrTransient)

	state, err := h.svc.Validate(context.Background(), "AK-2025-ABCD")
	require.NoError(t, err)
	assert.Equal(t, CodeValid, state)
}

func TestValidate(t *testing.T) {
	h := newHarness(t)
	h.prize(t, "Mug", 1, 1, 1)
	h.code(t, "AK-2025-ABCD")

	state, err := h.svc.Validate(context.Background(), " ak-2025-abcd ")
	require.NoError(t, err)
	assert.Equal(t, CodeValid, state)

	state, err = h.svc.Validate(context.Background(), "AK-2025-XXXX")
	require.NoError(t, err)
	assert.Equal(t, CodeNotFound, state)

	_, err = h.svc.Spin(context.Background(), "AK-2025-ABCD")
	require.NoError(t, err)
	state, err = h.svc.Validate(context.Background(), "AK-2025-ABCD")
	require.NoError(t, err)
	assert.Equal(t, CodeAlreadyUsed, state)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errConflict))
	assert.True(t, isRetryable(fmt.Errorf("wrapped: %w", errConflict)))
	assert.True(t, isRetryable(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isRetryable(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}))
	assert.False(t, isRetryable(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}))
	assert.False(t, isRetryable(errors.New("boom")))
}

func TestOutcomeMessages(t *testing.T) {
	for _, o := range []Outcome{OutcomeWon, OutcomeInvalidCode, OutcomeCodeAlreadyUsed, OutcomeNoPrizes} {
		assert.NotEmpty(t, o.Message())
	}
	assert.Equal(t, "AK-2025-ABCD", NormalizeCode("  ak-2025-abcd\n"))
}
