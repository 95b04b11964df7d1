package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"outpost/logging"
)

const entryColumns = "domain, entry_id, data, owner_id, stored_at, expires_at"

// Put upserts a cache entry. Overwriting an existing id replaces its data,
// owner, and expiry; it never appends.
func (s *Store) Put(ctx context.Context, domain Domain, id string, data json.RawMessage, opts PutOptions) error {
	if err := s.checkDomain(domain); err != nil {
		return err
	}
	if id == "" {
		return errors.New("entry id is empty")
	}
	now := time.Now().UTC()
	var expiresAt *time.Time
	if opts.TTL > 0 {
		t := now.Add(opts.TTL)
		expiresAt = &t
	}

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO cache_entries (domain, entry_id, data, owner_id, stored_at, expires_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (domain, entry_id) DO UPDATE SET
             data = excluded.data,
             owner_id = excluded.owner_id,
             stored_at = excluded.stored_at,
             expires_at = excluded.expires_at`,
		string(domain),
		id,
		string(data),
		nullableString(opts.OwnerID),
		now.Format(timeLayout),
		nullableTime(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

// PutMany upserts a batch of entries in one transaction. Either every item is
// written or none are; a failure mid-batch leaves the domain untouched.
func (s *Store) PutMany(ctx context.Context, domain Domain, items []Item, opts PutOptions) error {
	if err := s.checkDomain(domain); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	var expiresAt *time.Time
	if opts.TTL > 0 {
		t := now.Add(opts.TTL)
		expiresAt = &t
	}

	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin put tx: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO cache_entries (domain, entry_id, data, owner_id, stored_at, expires_at)
             VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT (domain, entry_id) DO UPDATE SET
                 data = excluded.data,
                 owner_id = excluded.owner_id,
                 stored_at = excluded.stored_at,
                 expires_at = excluded.expires_at`)
		if err != nil {
			return fmt.Errorf("prepare put: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			if item.ID == "" {
				return errors.New("bulk item id is empty")
			}
			if _, err := stmt.ExecContext(ctx,
				string(domain),
				item.ID,
				string(item.Data),
				nullableString(opts.OwnerID),
				now.Format(timeLayout),
				nullableTime(expiresAt),
			); err != nil {
				return fmt.Errorf("put entry %q: %w", item.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit put tx: %w", err)
		}
		return nil
	})
}

// Get returns the entry or nil when absent. A present-but-expired entry is
// evicted first and reported as absent.
func (s *Store) Get(ctx context.Context, domain Domain, id string) (*Entry, error) {
	if err := s.checkDomain(domain); err != nil {
		return nil, err
	}
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM cache_entries WHERE domain = ? AND entry_id = ?`,
		string(domain), id,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	if entry.Expired(time.Now().UTC()) {
		if err := s.Delete(ctx, domain, id); err != nil {
			return nil, fmt.Errorf("evict expired entry: %w", err)
		}
		s.logger.Debug("evicted expired entry",
			logging.String(logging.FieldDomain, string(domain)),
			logging.String("entry_id", id),
		)
		return nil, nil
	}
	return entry, nil
}

// GetAll returns every non-expired entry in a domain, optionally filtered by
// owner. Expired entries encountered by the scan are evicted as a side
// effect.
func (s *Store) GetAll(ctx context.Context, domain Domain, ownerID string) ([]*Entry, error) {
	if err := s.checkDomain(domain); err != nil {
		return nil, err
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(timeLayout)

	evicted, err := s.execWithRetry(ctx,
		`DELETE FROM cache_entries WHERE domain = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(domain), now,
	)
	if err != nil {
		return nil, fmt.Errorf("evict expired entries: %w", err)
	}
	if count, err := evicted.RowsAffected(); err == nil && count > 0 {
		s.logger.Debug("evicted expired entries",
			logging.String(logging.FieldDomain, string(domain)),
			logging.Int64("count", count),
		)
	}

	query := `SELECT ` + entryColumns + ` FROM cache_entries WHERE domain = ?`
	args := []any{string(domain)}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY stored_at, entry_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes an entry by id. Deleting an absent entry is not an error.
func (s *Store) Delete(ctx context.Context, domain Domain, id string) error {
	if err := s.checkDomain(domain); err != nil {
		return err
	}
	if _, err := s.execWithRetry(ctx,
		`DELETE FROM cache_entries WHERE domain = ? AND entry_id = ?`,
		string(domain), id,
	); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Clear removes every entry in a domain.
func (s *Store) Clear(ctx context.Context, domain Domain) (int64, error) {
	if err := s.checkDomain(domain); err != nil {
		return 0, err
	}
	res, err := s.execWithRetry(ctx,
		`DELETE FROM cache_entries WHERE domain = ?`,
		string(domain),
	)
	if err != nil {
		return 0, fmt.Errorf("clear domain: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		domain     string
		id         string
		data       string
		owner      sql.NullString
		storedRaw  sql.NullString
		expiresRaw sql.NullString
	)
	if err := scanner.Scan(&domain, &id, &data, &owner, &storedRaw, &expiresRaw); err != nil {
		return nil, err
	}

	entry := &Entry{
		Domain:  Domain(domain),
		ID:      id,
		Data:    json.RawMessage(data),
		OwnerID: owner.String,
	}
	if stored, err := parseTimeString(storedRaw.String); err == nil {
		entry.StoredAt = stored
	}
	if expiresRaw.Valid {
		if expires, err := parseTimeString(expiresRaw.String); err == nil {
			entry.ExpiresAt = &expires
		}
	}
	return entry, nil
}
