package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"outpost/logging"
)

// SweepExpired evicts every expired entry across all domains and returns the
// number removed. Reads already evict lazily; the sweep exists for callers
// that want to reclaim space eagerly.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.execWithRetry(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("swept expired entries", logging.Int64("count", removed))
	}
	return removed, nil
}

// Stats counts live and expired entries grouped by domain.
func (s *Store) Stats(ctx context.Context) (map[Domain]DomainStats, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(timeLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain,
                SUM(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 ELSE 0 END),
                SUM(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 ELSE 0 END)
         FROM cache_entries GROUP BY domain`,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Domain]DomainStats)
	for rows.Next() {
		var domain string
		var live, expired int
		if err := rows.Scan(&domain, &live, &expired); err != nil {
			return nil, err
		}
		stats[Domain(domain)] = DomainStats{Entries: live, Expired: expired}
	}
	return stats, rows.Err()
}

// CheckHealth returns diagnostic information about the cache database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("cache database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat cache database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("cache database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("cache database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping cache database: %w", err)
	}
	health.DatabaseReadable = true

	expected := []string{"domains", "cache_entries", "outbox_mutations", "sync_status", "schema_migrations"}
	missing := make(map[string]struct{}, len(expected))
	for _, table := range expected {
		missing[table] = struct{}{}
	}

	tableRows, err := s.db.QueryContext(connCtx,
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	defer tableRows.Close()
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("scan table info: %w", err)
		}
		health.TablesPresent = append(health.TablesPresent, name)
		delete(missing, name)
	}
	if err := tableRows.Err(); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("iterate table info: %w", err)
	}
	for table := range missing {
		health.MissingTables = append(health.MissingTables, table)
	}

	row := s.db.QueryRowContext(connCtx, `SELECT COUNT(*) FROM cache_entries`)
	if err := row.Scan(&health.TotalEntries); err != nil && !errors.Is(err, sql.ErrNoRows) {
		health.Error = err.Error()
		return health, fmt.Errorf("count cache entries: %w", err)
	}
	row = s.db.QueryRowContext(connCtx, `SELECT COUNT(*) FROM outbox_mutations`)
	if err := row.Scan(&health.PendingMutations); err != nil && !errors.Is(err, sql.ErrNoRows) {
		health.Error = err.Error()
		return health, fmt.Errorf("count mutations: %w", err)
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
