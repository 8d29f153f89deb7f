package database

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dsnplabs/social-gateway/internal/announcement"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&announcement.Record{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func insertLegacyReply(t *testing.T, db *gorm.DB, key, inReplyTo string) {
	t.Helper()
	payload := fmt.Sprintf(`{"announcementType":"Reply","fromId":"2","contentHash":"child","url":"ipfs://x","inReplyTo":%q}`, inReplyTo)
	record := announcement.Record{
		Key:         key,
		BlockNumber: 100,
		FromID:      "2",
		Type:        string(announcement.TypeReply),
		ContentHash: "child",
		Payload:     payload,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("failed to insert legacy row: %v", err)
	}
}

func TestBackfillPopulatesRelatedKeys(t *testing.T) {
	db := openTestDatabase(t)
	insertLegacyReply(t, db, "100:2:child", "dsnp://1/parent")

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var record announcement.Record
	if err := db.Where("key = ?", "100:2:child").Take(&record).Error; err != nil {
		t.Fatalf("failed to read back record: %v", err)
	}
	if record.RelatedKey == nil || *record.RelatedKey != "parent" {
		t.Fatalf("expected related key parent, got %v", record.RelatedKey)
	}
}

func TestBackfillSkipsUnparseableParentReference(t *testing.T) {
	db := openTestDatabase(t)
	insertLegacyReply(t, db, "100:2:child", "not a uri")

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var record announcement.Record
	if err := db.Where("key = ?", "100:2:child").Take(&record).Error; err != nil {
		t.Fatalf("failed to read back record: %v", err)
	}
	if record.RelatedKey != nil {
		t.Fatalf("expected related key to stay null, got %v", *record.RelatedKey)
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	db := openTestDatabase(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected second-run error: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Where("name = ?", migrationBackfillRelatedKeys).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one migration record, got %d", count)
	}
}

func TestOpenSQLiteInitializesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.db")
	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access connection: %v", err)
	}
	defer sqlDB.Close()

	if !db.Migrator().HasTable(&announcement.Record{}) {
		t.Fatal("expected announcements table to exist")
	}
	if !db.Migrator().HasTable(&migrationRecord{}) {
		t.Fatal("expected db_migrations table to exist")
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatal("expected error for empty database path")
	}
}
