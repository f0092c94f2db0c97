package store

import (
	"path/filepath"
	"testing"

	"prize_wheel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "wheel.db?"+sqliteParams, DSN("wheel.db"))
	assert.Equal(t, "file:wheel.db?cache=private&"+sqliteParams, DSN("file:wheel.db?cache=private"))
}

func TestOpen_MigratesAndEnforcesStockCheck(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "wheel.db"))
	require.NoError(t, err)
	defer Close(db)

	for _, m := range model.All() {
		assert.True(t, db.Migrator().HasTable(m))
	}

	p := model.Prize{Title: "Mug", QuantityTotal: 1, QuantityRemaining: 1, Weight: 1}
	require.NoError(t, db.Create(&p).Error)
	// 绕过 hook 的列更新由 CHECK 约束兜底
	err = db.Model(&model.Prize{}).Where("id = ?", p.ID).UpdateColumn("quantity_remaining", -1).Error
	assert.Error(t, err)
}
