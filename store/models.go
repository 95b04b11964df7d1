package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Domain names a logical category of cached entities. The set of known
// domains is fixed by schema migrations; writes to unregistered domains fail.
type Domain string

const (
	DomainArticles Domain = "articles"
	DomainEvents   Domain = "events"
	DomainMessages Domain = "messages"
	DomainUserData Domain = "user_data"
	DomainQueue    Domain = "queue"
	DomainSyncMeta Domain = "sync_meta"
)

// Entry is a cached record scoped to a domain. An entry whose ExpiresAt lies
// in the past is logically absent: reads evict it instead of returning it.
type Entry struct {
	Domain    Domain
	ID        string
	Data      json.RawMessage
	OwnerID   string
	StoredAt  time.Time
	ExpiresAt *time.Time
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// PutOptions carries optional attributes for cache writes.
type PutOptions struct {
	OwnerID string
	// TTL of zero means the entry never expires.
	TTL time.Duration
}

// Item pairs an id with its payload for bulk writes.
type Item struct {
	ID   string
	Data json.RawMessage
}

// ItemsFromList converts a JSON array of objects into items, keyed by each
// element's id field. Both string and numeric ids are accepted.
func ItemsFromList(data json.RawMessage) ([]Item, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("decode list payload: %w", err)
	}

	items := make([]Item, 0, len(elements))
	for i, element := range elements {
		var keyed struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(element, &keyed); err != nil {
			return nil, fmt.Errorf("decode element %d: %w", i, err)
		}
		id := strings.Trim(strings.TrimSpace(string(keyed.ID)), `"`)
		if id == "" || id == "null" {
			return nil, fmt.Errorf("element %d has no id", i)
		}
		items = append(items, Item{ID: id, Data: element})
	}
	return items, nil
}

// SyncState describes whether a domain's cache is believed to match remote
// state.
type SyncState string

const (
	SyncStateSynced  SyncState = "synced"
	SyncStatePending SyncState = "pending"
	SyncStateError   SyncState = "error"
)

// SyncStatus is the per-domain synchronization record. It is persisted by the
// store but mutated only by the sync engine.
type SyncStatus struct {
	Domain     Domain
	State      SyncState
	LastSyncAt time.Time
	LastError  string
}

// MutationRecord is the persisted form of a queued write intent. Queue
// semantics (ordering, retry dispositions) live in the outbox package; the
// store only owns durability.
type MutationRecord struct {
	ID          string
	Kind        string
	Endpoint    string
	Method      string
	Payload     json.RawMessage
	OwnerID     string
	EnqueuedAt  time.Time
	Attempts    int
	MaxAttempts int
}

// DomainStats counts live and expired entries per domain.
type DomainStats struct {
	Entries int
	Expired int
}

// DatabaseHealth captures diagnostic information about the cache database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	TotalEntries     int
	PendingMutations int
	Error            string
}
