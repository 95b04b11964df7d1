package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const mutationColumns = "id, kind, endpoint, method, payload, owner_id, enqueued_at, attempts, max_attempts"

// InsertMutation persists a new queued write intent.
func (s *Store) InsertMutation(ctx context.Context, record *MutationRecord) error {
	if record == nil {
		return errors.New("mutation record is nil")
	}
	if record.ID == "" {
		return errors.New("mutation id is empty")
	}
	if record.MaxAttempts < 1 {
		return errors.New("mutation max attempts must be at least 1")
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO outbox_mutations (id, kind, endpoint, method, payload, owner_id, enqueued_at, attempts, max_attempts)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Kind,
		record.Endpoint,
		record.Method,
		nullableString(string(record.Payload)),
		nullableString(record.OwnerID),
		record.EnqueuedAt.UTC().Format(timeLayout),
		record.Attempts,
		record.MaxAttempts,
	)
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}
	return nil
}

// MutationByID fetches a queued mutation, or nil when absent.
func (s *Store) MutationByID(ctx context.Context, id string) (*MutationRecord, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mutationColumns+` FROM outbox_mutations WHERE id = ?`, id)
	record, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mutation: %w", err)
	}
	return record, nil
}

// PendingMutations returns every queued mutation ordered by enqueue time
// ascending, with id as a deterministic tiebreak.
func (s *Store) PendingMutations(ctx context.Context) ([]*MutationRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mutationColumns+` FROM outbox_mutations ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()

	var records []*MutationRecord
	for rows.Next() {
		record, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeleteMutation removes a mutation by id, reporting whether a row existed.
func (s *Store) DeleteMutation(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM outbox_mutations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete mutation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// IncrementAttempts bumps a mutation's attempt counter inside one
// transaction. When the new count reaches max_attempts the record is removed
// as part of the same transaction and removed=true is reported.
func (s *Store) IncrementAttempts(ctx context.Context, id string) (attempts int, removed bool, err error) {
	ctx = ensureContext(ctx)
	err = retryOnBusy(ctx, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin attempts tx: %w", txErr)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		var current, max int
		row := tx.QueryRowContext(ctx,
			`SELECT attempts, max_attempts FROM outbox_mutations WHERE id = ?`, id)
		if scanErr := row.Scan(&current, &max); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("mutation %q not queued", id)
			}
			return fmt.Errorf("read attempts: %w", scanErr)
		}

		attempts = current + 1
		if attempts >= max {
			if _, execErr := tx.ExecContext(ctx,
				`DELETE FROM outbox_mutations WHERE id = ?`, id); execErr != nil {
				return fmt.Errorf("remove exhausted mutation: %w", execErr)
			}
			removed = true
		} else {
			if _, execErr := tx.ExecContext(ctx,
				`UPDATE outbox_mutations SET attempts = ? WHERE id = ?`, attempts, id); execErr != nil {
				return fmt.Errorf("update attempts: %w", execErr)
			}
			removed = false
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("commit attempts tx: %w", commitErr)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return attempts, removed, nil
}

// CountMutations returns the number of queued mutations.
func (s *Store) CountMutations(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM outbox_mutations`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return count, nil
}

// ClearMutations removes every queued mutation.
func (s *Store) ClearMutations(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM outbox_mutations`)
	if err != nil {
		return 0, fmt.Errorf("clear mutations: %w", err)
	}
	return res.RowsAffected()
}

func scanMutation(scanner interface{ Scan(dest ...any) error }) (*MutationRecord, error) {
	var (
		id          string
		kind        string
		endpoint    string
		method      string
		payload     sql.NullString
		owner       sql.NullString
		enqueuedRaw sql.NullString
		attempts    int
		maxAttempts int
	)
	if err := scanner.Scan(&id, &kind, &endpoint, &method, &payload, &owner, &enqueuedRaw, &attempts, &maxAttempts); err != nil {
		return nil, err
	}

	record := &MutationRecord{
		ID:          id,
		Kind:        kind,
		Endpoint:    endpoint,
		Method:      method,
		OwnerID:     owner.String,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}
	if payload.Valid {
		record.Payload = json.RawMessage(payload.String)
	}
	if enqueued, err := parseTimeString(enqueuedRaw.String); err == nil {
		record.EnqueuedAt = enqueued
	}
	return record, nil
}
