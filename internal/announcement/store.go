package announcement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// StoreError carries a dotted operation code identifying where a store
// operation failed.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

const (
	opStoreNew   = "announcement.store.new"
	opStoreAdd   = "announcement.store.add"
	opStoreQuery = "announcement.store.query"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Record is the persisted shape of a received announcement. The derived key
// is unique; duplicate submissions overwrite the row (last write wins).
type Record struct {
	Key         string  `gorm:"column:key;primaryKey;size:190;not null"`
	RelatedKey  *string `gorm:"column:related_key;size:190;index:idx_announcements_related"`
	BlockNumber uint64  `gorm:"column:block_number;not null;index:idx_announcements_block"`
	FromID      string  `gorm:"column:from_id;size:64;not null;index:idx_announcements_from"`
	Type        string  `gorm:"column:announcement_type;size:32;not null"`
	SchemaID    uint16  `gorm:"column:schema_id"`
	ContentHash string  `gorm:"column:content_hash;size:190;index:idx_announcements_hash"`
	Payload     string  `gorm:"column:announcement;not null"`
	Content     *string `gorm:"column:content"`
}

// TableName pins the gorm table name.
func (Record) TableName() string {
	return "announcements"
}

// Decode unmarshals the stored announcement payload.
func (r Record) Decode() (Announcement, error) {
	var ann Announcement
	if err := json.Unmarshal([]byte(r.Payload), &ann); err != nil {
		return Announcement{}, err
	}
	return ann, nil
}

// Filter selects announcements from the store. Zero-valued fields are
// ignored; populated fields combine conjunctively.
type Filter struct {
	MSAIDs      []string
	SchemaIDs   []uint16
	Types       []Type
	FromBlock   *uint64
	ToBlock     *uint64
	ContentHash string
	RelatedHash string
	// SortBy defaults to block_number; Ascending defaults to false (newest
	// first).
	SortBy    string
	Ascending bool
}

// StoreConfig wires the announcement store dependencies.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store persists announcements keyed by their derived identity and answers
// filtered queries for the block-range cache.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore validates dependencies and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// Add upserts an announcement. The operation is idempotent: re-adding the
// same announcement leaves the store in the same observable state.
func (s *Store) Add(ctx context.Context, blockNumber uint64, ann Announcement) error {
	if err := ann.Validate(); err != nil {
		return newStoreError(opStoreAdd, "invalid_announcement", err)
	}

	encoded, err := json.Marshal(ann)
	if err != nil {
		return newStoreError(opStoreAdd, "encode_failed", err)
	}

	record := Record{
		Key:         ann.Key(blockNumber),
		BlockNumber: blockNumber,
		FromID:      ann.FromID,
		Type:        string(ann.Type),
		SchemaID:    ann.SchemaID,
		ContentHash: ann.ContentHash,
		Payload:     string(encoded),
	}
	if related, ok := ann.RelatedHash(); ok {
		record.RelatedKey = &related
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(&record).Error
	if err != nil {
		s.logger.Error("announcement upsert failed",
			zap.String("key", record.Key),
			zap.Error(err))
		return newStoreError(opStoreAdd, "upsert_failed", err)
	}
	return nil
}

// Query returns the announcements matching the filter, ordered by block
// number descending unless the filter overrides the sort.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Record, error) {
	query := s.db.WithContext(ctx).Model(&Record{})

	if len(filter.MSAIDs) > 0 {
		query = query.Where("from_id IN ?", filter.MSAIDs)
	}
	if len(filter.SchemaIDs) > 0 {
		query = query.Where("schema_id IN ?", filter.SchemaIDs)
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		query = query.Where("announcement_type IN ?", types)
	}
	if filter.FromBlock != nil {
		query = query.Where("block_number >= ?", *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		query = query.Where("block_number <= ?", *filter.ToBlock)
	}
	if filter.ContentHash != "" {
		query = query.Where("content_hash = ?", filter.ContentHash)
	}
	if filter.RelatedHash != "" {
		query = query.Where("related_key = ?", filter.RelatedHash)
	}

	// Sort column is whitelisted; anything unrecognized falls back to the
	// block-number default rather than reaching the SQL string.
	sortColumn := "block_number"
	switch filter.SortBy {
	case "", "block_number":
	case "from_id", "key", "schema_id", "content_hash":
		sortColumn = filter.SortBy
	}
	direction := "DESC"
	if filter.Ascending {
		direction = "ASC"
	}

	var records []Record
	if err := query.Order(fmt.Sprintf("%s %s", sortColumn, direction)).Find(&records).Error; err != nil {
		s.logger.Error("announcement query failed", zap.Error(err))
		return nil, newStoreError(opStoreQuery, "query_failed", err)
	}
	return records, nil
}
