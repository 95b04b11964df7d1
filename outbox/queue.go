package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"outpost/logging"
	"outpost/store"
)

// Kind classifies the write intent a queued mutation carries.
type Kind string

const (
	KindCreate Kind = "CREATE"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// Disposition is the outcome of bumping a mutation's attempt counter.
type Disposition string

const (
	// DispositionRetryable means the mutation stays queued for a later drain.
	DispositionRetryable Disposition = "retryable"
	// DispositionExhausted means the retry bound was hit and the mutation was
	// dropped from the queue.
	DispositionExhausted Disposition = "exhausted"
)

// EnqueueOptions carries optional attributes for queued mutations.
type EnqueueOptions struct {
	OwnerID string
	// MaxAttempts of zero falls back to the queue's configured default.
	MaxAttempts int
}

// Queue is the durable outbox of write intents awaiting replay. Mutations
// leave the queue only by acknowledgement, exhaustion, or explicit removal;
// they survive process restarts because the store persists every record.
type Queue struct {
	store              *store.Store
	logger             *slog.Logger
	defaultMaxAttempts int
}

// NewQueue wires the outbox on top of the store.
func NewQueue(st *store.Store, defaultMaxAttempts int, logger *slog.Logger) (*Queue, error) {
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if defaultMaxAttempts < 1 {
		return nil, fmt.Errorf("default max attempts must be at least 1, got %d", defaultMaxAttempts)
	}
	return &Queue{
		store:              st,
		logger:             logging.NewComponentLogger(logger, "outbox"),
		defaultMaxAttempts: defaultMaxAttempts,
	}, nil
}

// mutationIDTimeLayout is fixed-width so lexicographic id order matches
// chronological order.
const mutationIDTimeLayout = "20060102T150405.000000000"

var mutationSeq atomic.Uint64

// newMutationID builds a sortable id: timestamp prefix, a process-local
// sequence that keeps same-instant enqueues in issue order, and a random
// suffix for uniqueness across processes.
func newMutationID(at time.Time) string {
	seq := mutationSeq.Add(1)
	return fmt.Sprintf("%s-%010d-%s", at.UTC().Format(mutationIDTimeLayout), seq, uuid.NewString()[:8])
}

// Enqueue persists a new mutation at the tail of the queue and returns its id.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, endpoint, method string, payload json.RawMessage, opts EnqueueOptions) (string, error) {
	switch kind {
	case KindCreate, KindUpdate, KindDelete:
	default:
		return "", fmt.Errorf("invalid mutation kind %q", kind)
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("mutation endpoint is empty")
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return "", errors.New("mutation method is empty")
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = q.defaultMaxAttempts
	}
	if maxAttempts < 1 {
		return "", fmt.Errorf("max attempts must be at least 1, got %d", maxAttempts)
	}

	enqueuedAt := time.Now().UTC()
	record := &store.MutationRecord{
		ID:          newMutationID(enqueuedAt),
		Kind:        string(kind),
		Endpoint:    endpoint,
		Method:      method,
		Payload:     payload,
		OwnerID:     opts.OwnerID,
		EnqueuedAt:  enqueuedAt,
		MaxAttempts: maxAttempts,
	}
	if err := q.store.InsertMutation(ctx, record); err != nil {
		return "", fmt.Errorf("enqueue mutation: %w", err)
	}

	q.logger.Debug("mutation enqueued",
		logging.String(logging.FieldMutation, record.ID),
		logging.String("kind", string(kind)),
		logging.String("endpoint", endpoint),
	)
	return record.ID, nil
}

// PendingAll returns every queued mutation in replay order: enqueue time
// ascending, id as tiebreak.
func (q *Queue) PendingAll(ctx context.Context) ([]*store.MutationRecord, error) {
	return q.store.PendingMutations(ctx)
}

// Remove acknowledges a mutation, deleting it from the queue. It reports
// whether the mutation was still queued.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := q.store.DeleteMutation(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		q.logger.Debug("mutation acknowledged", logging.String(logging.FieldMutation, id))
	}
	return removed, nil
}

// BumpAttempts records a failed replay attempt. When the attempt count
// reaches the mutation's bound the record is dropped and the disposition is
// exhausted; otherwise it stays queued as retryable.
func (q *Queue) BumpAttempts(ctx context.Context, id string) (Disposition, error) {
	attempts, removed, err := q.store.IncrementAttempts(ctx, id)
	if err != nil {
		return "", err
	}
	if removed {
		q.logger.Warn("mutation exhausted retry bound",
			logging.String(logging.FieldMutation, id),
			logging.Int("attempts", attempts),
		)
		return DispositionExhausted, nil
	}
	q.logger.Debug("mutation attempt recorded",
		logging.String(logging.FieldMutation, id),
		logging.Int("attempts", attempts),
	)
	return DispositionRetryable, nil
}

// Len reports the number of queued mutations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.CountMutations(ctx)
}

// Clear drops every queued mutation and returns the number removed.
func (q *Queue) Clear(ctx context.Context) (int64, error) {
	removed, err := q.store.ClearMutations(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		q.logger.Info("outbox cleared", logging.Int64("count", removed))
	}
	return removed, nil
}
