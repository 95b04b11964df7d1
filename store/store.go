package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"outpost/config"
	"outpost/logging"
)

// ErrUnknownDomain indicates a write to a domain the schema does not define.
var ErrUnknownDomain = errors.New("unknown domain")

// ErrLocked indicates another process holds the cache database.
var ErrLocked = errors.New("cache database locked by another process")

// Store is the persistent keyed cache backing the whole subsystem. It owns
// every cached entry and queued mutation record; no other component touches
// the database directly. The store is single-writer by design: a lock file
// beside the database rejects concurrent process access.
type Store struct {
	db      *sql.DB
	path    string
	lock    *flock.Flock
	logger  *slog.Logger
	domains map[Domain]struct{}
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is RFC3339 with fixed-width nanoseconds. Persisted timestamps
// are compared as strings (ORDER BY, expiry checks), so the encoding must
// sort the way the instants do; RFC3339Nano's trailing-zero truncation
// breaks that for whole-second values.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Open initializes or connects to the cache database, acquires the
// single-writer lock, and applies migrations.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	lock := flock.New(dbPath + ".lock")
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !held {
		return nil, ErrLocked
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:     db,
		path:   dbPath,
		lock:   lock,
		logger: logging.NewComponentLogger(logger, "store"),
	}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	if err := store.loadDomains(context.Background()); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection and releases the single-writer lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Domains returns the domains registered by schema migrations.
func (s *Store) Domains() []Domain {
	domains := make([]Domain, 0, len(s.domains))
	for domain := range s.domains {
		domains = append(domains, domain)
	}
	return domains
}

func (s *Store) loadDomains(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM domains`)
	if err != nil {
		return fmt.Errorf("load domains: %w", err)
	}
	defer rows.Close()

	domains := make(map[Domain]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan domain: %w", err)
		}
		domains[Domain(name)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate domains: %w", err)
	}
	s.domains = domains
	return nil
}

// ParseDomain normalizes a string and reports whether it names a domain
// registered by the schema.
func (s *Store) ParseDomain(value string) (Domain, bool) {
	domain := Domain(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := s.domains[domain]; !ok {
		return "", false
	}
	return domain, true
}

func (s *Store) checkDomain(domain Domain) error {
	if _, ok := s.domains[domain]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
