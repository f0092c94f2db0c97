package store

import (
	"fmt"
	"strings"
	"time"

	"prize_wheel/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteParams 让写事务以 BEGIN IMMEDIATE 开始并在锁竞争时等待，
// 多个连接（或多个实例共享同一文件）下写事务因此被串行化。
const sqliteParams = "_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL&_foreign_keys=on"

// DSN 为 SQLite 路径附加事务相关参数；已有参数时保持原样追加。
func DSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqliteParams
	}
	return path + "?" + sqliteParams
}

// Open 连接数据库并自动建表。
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(DSN(path)), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
