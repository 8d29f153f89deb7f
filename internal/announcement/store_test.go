package announcement

import (
	"context"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func mustAdd(t *testing.T, store *Store, blockNumber uint64, ann Announcement) {
	t.Helper()
	if err := store.Add(context.Background(), blockNumber, ann); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ann := Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "h1", URL: "ipfs://abc"}

	mustAdd(t, store, 100, ann)
	mustAdd(t, store, 100, ann)

	records, err := store.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record after duplicate add, got %d", len(records))
	}
	if records[0].Key != "100:1:h1" {
		t.Fatalf("unexpected key: %s", records[0].Key)
	}
}

func TestAddUpsertsLastWriteWins(t *testing.T) {
	store := openTestStore(t)
	first := Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "h1", URL: "ipfs://old"}
	second := Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "h1", URL: "ipfs://new"}

	mustAdd(t, store, 100, first)
	mustAdd(t, store, 100, second)

	records, err := store.Query(context.Background(), Filter{ContentHash: "h1"})
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	ann, err := records[0].Decode()
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if ann.URL != "ipfs://new" {
		t.Fatalf("expected last write to win, got url %s", ann.URL)
	}
}

func TestAddRejectsUnknownType(t *testing.T) {
	store := openTestStore(t)
	err := store.Add(context.Background(), 1, Announcement{Type: "Bogus", FromID: "1"})
	if err == nil {
		t.Fatal("expected error for unknown announcement type")
	}
}

func TestAddPopulatesRelatedKeyForReply(t *testing.T) {
	store := openTestStore(t)
	mustAdd(t, store, 101, Announcement{Type: TypeReply, FromID: "2", ContentHash: "h2", URL: "ipfs://r", InReplyTo: "dsnp://1/h1"})

	records, err := store.Query(context.Background(), Filter{RelatedHash: "h1"})
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one related record, got %d", len(records))
	}
	if records[0].RelatedKey == nil || *records[0].RelatedKey != "h1" {
		t.Fatalf("unexpected related key: %v", records[0].RelatedKey)
	}
}

func TestQueryFiltersByBlockRangeAndType(t *testing.T) {
	store := openTestStore(t)
	mustAdd(t, store, 90, Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "a", URL: "ipfs://a"})
	mustAdd(t, store, 100, Announcement{Type: TypeBroadcast, FromID: "2", ContentHash: "b", URL: "ipfs://b"})
	mustAdd(t, store, 110, Announcement{Type: TypeBroadcast, FromID: "3", ContentHash: "c", URL: "ipfs://c"})
	mustAdd(t, store, 100, Announcement{Type: TypeReaction, FromID: "4", InReplyTo: "dsnp://2/b", Emoji: "👍"})

	from, to := uint64(95), uint64(105)
	records, err := store.Query(context.Background(), Filter{
		Types:     []Type{TypeBroadcast},
		FromBlock: &from,
		ToBlock:   &to,
	})
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record in range, got %d", len(records))
	}
	if records[0].FromID != "2" {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}

func TestQueryBlockBoundsAreInclusive(t *testing.T) {
	store := openTestStore(t)
	mustAdd(t, store, 100, Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "a", URL: "ipfs://a"})
	mustAdd(t, store, 105, Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "b", URL: "ipfs://b"})

	from, to := uint64(100), uint64(105)
	records, err := store.Query(context.Background(), Filter{FromBlock: &from, ToBlock: &to})
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected both boundary records, got %d", len(records))
	}
}

func TestQueryDefaultsToNewestFirst(t *testing.T) {
	store := openTestStore(t)
	mustAdd(t, store, 90, Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "a", URL: "ipfs://a"})
	mustAdd(t, store, 110, Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "c", URL: "ipfs://c"})
	mustAdd(t, store, 100, Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "b", URL: "ipfs://b"})

	records, err := store.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	blocks := make([]uint64, 0, len(records))
	for _, record := range records {
		blocks = append(blocks, record.BlockNumber)
	}
	expected := []uint64{110, 100, 90}
	for index, block := range expected {
		if blocks[index] != block {
			t.Fatalf("expected order %v, got %v", expected, blocks)
		}
	}
}

func TestQueryFiltersByMSAAndContentHash(t *testing.T) {
	store := openTestStore(t)
	mustAdd(t, store, 100, Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "h1", URL: "ipfs://a"})
	mustAdd(t, store, 100, Announcement{Type: TypeBroadcast, FromID: "2", ContentHash: "h1", URL: "ipfs://b"})
	mustAdd(t, store, 100, Announcement{Type: TypeBroadcast, FromID: "1", ContentHash: "h2", URL: "ipfs://c"})

	records, err := store.Query(context.Background(), Filter{MSAIDs: []string{"1"}, ContentHash: "h1"})
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].Key != "100:1:h1" {
		t.Fatalf("unexpected key: %s", records[0].Key)
	}
}
