package events

import (
	"testing"
	"time"

	"prize_wheel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAudit_RecordsWinsAndIssuedCodes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	bus := NewBus()
	Audit(bus, zap.New(core))

	wonAt := time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC)
	bus.Publish(New(WinnerCreated, WinnerPayload{
		Winner: model.Winner{ID: 7, RequestID: "req-7", WonAt: wonAt},
		Code:   model.Code{Code: "AK-2025-ABCD", Email: "ann@example.org"},
		Prize:  model.Prize{ID: 2, Title: "Mug", QuantityRemaining: 4},
	}))
	bus.Publish(New(CodesIssued, CodesPayload{Codes: []model.Code{
		{ID: 1, Code: "AK-2025-AAAAAA", Email: "a@example.org"},
		{ID: 2, Code: "AK-2025-BBBBBB", Email: "b@example.org"},
	}}))

	entries := logs.All()
	require.Len(t, entries, 3)

	won := entries[0].ContextMap()
	assert.Equal(t, "prize won", entries[0].Message)
	assert.Equal(t, "req-7", won["request_id"])
	assert.Equal(t, "AK-2025-ABCD", won["code"])
	assert.Equal(t, "Mug", won["prize"])
	assert.EqualValues(t, 4, won["prize_remaining"])

	assert.Equal(t, "code issued", entries[1].Message)
	assert.Equal(t, "AK-2025-AAAAAA", entries[1].ContextMap()["code"])
	assert.Equal(t, "b@example.org", entries[2].ContextMap()["email"])
}

func TestAudit_IgnoresBadPayload(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	bus := NewBus()
	Audit(bus, zap.New(core))

	assert.NotPanics(t, func() {
		bus.Publish(New(WinnerCreated, nil))
		bus.Publish(New(CodesIssued, "nope"))
	})
	assert.Zero(t, logs.Len())
}
