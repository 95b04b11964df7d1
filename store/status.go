package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetSyncStatus upserts the synchronization record for a domain. Only the
// sync engine calls this.
func (s *Store) SetSyncStatus(ctx context.Context, status SyncStatus) error {
	if err := s.checkDomain(status.Domain); err != nil {
		return err
	}
	switch status.State {
	case SyncStateSynced, SyncStatePending, SyncStateError:
	default:
		return fmt.Errorf("invalid sync state %q", status.State)
	}

	var lastSync *time.Time
	if !status.LastSyncAt.IsZero() {
		t := status.LastSyncAt
		lastSync = &t
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO sync_status (domain, state, last_sync_at, last_error)
         VALUES (?, ?, ?, ?)
         ON CONFLICT (domain) DO UPDATE SET
             state = excluded.state,
             last_sync_at = excluded.last_sync_at,
             last_error = excluded.last_error`,
		string(status.Domain),
		string(status.State),
		nullableTime(lastSync),
		nullableString(status.LastError),
	)
	if err != nil {
		return fmt.Errorf("set sync status: %w", err)
	}
	return nil
}

// GetSyncStatus returns the synchronization record for a domain, or nil when
// the engine has never touched it.
func (s *Store) GetSyncStatus(ctx context.Context, domain Domain) (*SyncStatus, error) {
	if err := s.checkDomain(domain); err != nil {
		return nil, err
	}
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT domain, state, last_sync_at, last_error FROM sync_status WHERE domain = ?`,
		string(domain),
	)
	status, err := scanSyncStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync status: %w", err)
	}
	return status, nil
}

// AllSyncStatuses returns the synchronization record of every touched domain.
func (s *Store) AllSyncStatuses(ctx context.Context) ([]*SyncStatus, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, state, last_sync_at, last_error FROM sync_status ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list sync statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*SyncStatus
	for rows.Next() {
		status, err := scanSyncStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}

func scanSyncStatus(scanner interface{ Scan(dest ...any) error }) (*SyncStatus, error) {
	var (
		domain    string
		state     string
		syncedRaw sql.NullString
		lastError sql.NullString
	)
	if err := scanner.Scan(&domain, &state, &syncedRaw, &lastError); err != nil {
		return nil, err
	}
	status := &SyncStatus{
		Domain:    Domain(domain),
		State:     SyncState(state),
		LastError: lastError.String,
	}
	if syncedRaw.Valid {
		if synced, err := parseTimeString(syncedRaw.String); err == nil {
			status.LastSyncAt = synced
		}
	}
	return status, nil
}
