package testdb

import (
	"context"
	"fmt"
	"testing"

	"github.com/gigmarket/chat-service/internal/plugin/store/sqlstore"
	storesqlite "github.com/gigmarket/chat-service/internal/plugin/store/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewStore returns a migrated store backed by a private in-memory SQLite database.
func NewStore(tb testing.TB) *sqlstore.Store {
	tb.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("get underlying db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := sqlstore.Migrate(context.Background(), db); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}
	return sqlstore.New(db, storesqlite.IsUniqueViolation)
}
