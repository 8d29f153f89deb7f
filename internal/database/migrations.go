package database

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dsnplabs/social-gateway/internal/announcement"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillRelatedKeys = "2026-07-14_backfill_reply_related_keys"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillRelatedKeys, apply: backfillReplyRelatedKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillReplyRelatedKeys recomputes related_key for reply-like rows that
// were stored before relatedKey derivation handled malformed content URIs;
// rows whose parent reference still fails to parse stay null.
func backfillReplyRelatedKeys(db *gorm.DB) error {
	var records []announcement.Record
	err := db.Model(&announcement.Record{}).
		Where("related_key IS NULL").
		Where("announcement_type IN ?", []string{
			string(announcement.TypeReply),
			string(announcement.TypeReaction),
			string(announcement.TypeTombstone),
			string(announcement.TypeUpdate),
		}).
		Find(&records).Error
	if err != nil {
		return err
	}

	for _, record := range records {
		var ann announcement.Announcement
		if err := json.Unmarshal([]byte(record.Payload), &ann); err != nil {
			continue
		}
		related, ok := ann.RelatedHash()
		if !ok {
			continue
		}
		if err := db.Model(&announcement.Record{}).
			Where("key = ?", record.Key).
			Update("related_key", related).Error; err != nil {
			return err
		}
	}
	return nil
}
