package status

import (
	"context"
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// Status is the lifecycle state of an asynchronous graph or account
// operation tracked by reference id.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
	StatusSucceeded Status = "succeeded"
)

// Parse validates a raw status value received from a webhook.
func Parse(raw string) (Status, error) {
	switch Status(strings.TrimSpace(raw)) {
	case StatusPending:
		return StatusPending, nil
	case StatusExpired:
		return StatusExpired, nil
	case StatusFailed:
		return StatusFailed, nil
	case StatusSucceeded:
		return StatusSucceeded, nil
	default:
		return "", fmt.Errorf("status: unknown operation status %q", raw)
	}
}

// Store tracks operation statuses by reference id. The interface exists so
// the unbounded in-memory default can be swapped for a bounded variant
// (see RedisStore) without touching calling code.
type Store interface {
	Set(ctx context.Context, referenceID string, status Status) error
	Get(ctx context.Context, referenceID string) (Status, bool, error)
}

// MemoryStore is the default process-local implementation. Entries are
// never deleted; the map grows with every tracked operation, which is an
// accepted limitation of the single-instance design.
type MemoryStore struct {
	entries *xsync.Map[string, Status]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: xsync.NewMap[string, Status]()}
}

// Set records the status for a reference id, overwriting any prior value.
func (s *MemoryStore) Set(_ context.Context, referenceID string, status Status) error {
	s.entries.Store(referenceID, status)
	return nil
}

// Get reports the status for a reference id.
func (s *MemoryStore) Get(_ context.Context, referenceID string) (Status, bool, error) {
	status, ok := s.entries.Load(referenceID)
	return status, ok, nil
}
