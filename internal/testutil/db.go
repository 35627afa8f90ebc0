package testutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"SRL-GEN/internal"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated in-memory database private to the calling test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return open(t, fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name), 1)
}

// NewConcurrentDB opens a migrated file database that serves maxConns
// connections at once. Transactions begin IMMEDIATE so concurrent writers
// queue on the busy timeout instead of failing.
func NewConcurrentDB(t *testing.T, maxConns int) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "letters.db")
	return open(t, "file:"+path+"?_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate", maxConns)
}

func open(t *testing.T, dsn string, maxConns int) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("test database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := internal.Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}
