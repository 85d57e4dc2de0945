package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is the stored envelope for one logical endpoint. Freshness is
// metadata only: stale entries stay readable until overwritten, so readers
// keep getting the last good payload when refreshes fail.
type Entry struct {
	StoredAt   time.Time       `json:"stored_at"`
	TTLSeconds int             `json:"ttl_seconds"`
	Value      json.RawMessage `json:"value"`
}

// Fresh reports whether the entry is within its TTL at the given instant.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.StoredAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// Store is a key/value store holding the last computed payload per logical
// endpoint. Implementations provide atomic per-key get/set; writes fully
// replace the previous value.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Ping(ctx context.Context) error
	Close()
}

// StoreError marks the backing store as unreachable. Callers treat it as a
// soft failure: reads degrade to direct aggregation, scheduled writes skip
// the cycle.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return "cache store: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }
