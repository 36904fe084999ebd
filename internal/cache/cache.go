package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one stored cache record: the wall-clock write time plus the
// cached payload. On disk it serializes as {"timestamp": ..., "data": ...}.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MissReason says why a lookup did not produce a usable entry. Callers that
// only care about hit/miss can ignore it; it exists so "not cached" and
// "cache corrupted" stay distinguishable.
type MissReason string

const (
	MissNone         MissReason = ""              // result is a hit
	MissNotFound     MissReason = "not_found"     // no entry for this key
	MissExpired      MissReason = "expired"       // entry older than max age
	MissAssetMissing MissReason = "asset_missing" // payload references a deleted asset
	MissCorrupt      MissReason = "corrupt"       // entry exists but is not valid JSON
	MissError        MissReason = "error"         // I/O failure during lookup
)

// Result is the outcome of a lookup. Entry is non-nil only when Hit is true.
type Result struct {
	Hit    bool
	Entry  *Entry
	Reason MissReason
}

// Store is the interface used by the generation services. Implemented by the
// disk store (default), memory store (dev/tests) and Redis store.
//
// Lookups fail open: a backend reports I/O or parse problems as a miss and
// returns the underlying error alongside so a decorator can log it. Callers
// must never treat a Get error as fatal.
type Store interface {
	Get(ctx context.Context, key string) (Result, error)
	Set(ctx context.Context, key string, payload any) error
	// Sweep deletes entries older than the store's max age and returns the
	// number removed. Running it twice in a row removes nothing the second time.
	Sweep(ctx context.Context) (int, error)
}

func miss(reason MissReason) Result {
	return Result{Reason: reason}
}

func hit(e *Entry) Result {
	return Result{Hit: true, Entry: e}
}
