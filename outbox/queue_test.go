package outbox_test

import (
	"context"
	"encoding/json"
	"testing"

	"outpost/internal/testsupport"
	"outpost/logging"
	"outpost/outbox"
)

func newQueue(t *testing.T) *outbox.Queue {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q, err := outbox.NewQueue(st, cfg.Sync.DefaultMaxAttempts, logging.NewNop())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	return q
}

func TestEnqueuePreservesArrivalOrder(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	var ids []string
	for _, endpoint := range []string{"/articles", "/events", "/messages"} {
		id, err := q.Enqueue(ctx, outbox.KindCreate, endpoint, "POST", json.RawMessage(`{}`), outbox.EnqueueOptions{})
		if err != nil {
			t.Fatalf("Enqueue %s: %v", endpoint, err)
		}
		ids = append(ids, id)
	}

	pending, err := q.PendingAll(ctx)
	if err != nil {
		t.Fatalf("PendingAll: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i, record := range pending {
		if record.ID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], record.ID)
		}
	}
}

func TestMutationIDsSortInIssueOrder(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	// A tight burst lands several enqueues on the same clock reading on
	// coarse-clock platforms; the id tiebreak must still preserve issue
	// order.
	var ids []string
	for i := 0; i < 64; i++ {
		id, err := q.Enqueue(ctx, outbox.KindCreate, "/messages", "POST", nil, outbox.EnqueueOptions{})
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("ids not strictly increasing at %d: %q then %q", i, ids[i-1], ids[i])
		}
	}

	pending, err := q.PendingAll(ctx)
	if err != nil {
		t.Fatalf("PendingAll: %v", err)
	}
	if len(pending) != len(ids) {
		t.Fatalf("expected %d pending, got %d", len(ids), len(pending))
	}
	for i, record := range pending {
		if record.ID != ids[i] {
			t.Fatalf("replay position %d: expected %s, got %s", i, ids[i], record.ID)
		}
	}
}

func TestEnqueueRejectsMalformedMutations(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, outbox.Kind("PATCHY"), "/x", "POST", nil, outbox.EnqueueOptions{}); err == nil {
		t.Fatal("expected invalid kind rejected")
	}
	if _, err := q.Enqueue(ctx, outbox.KindCreate, "  ", "POST", nil, outbox.EnqueueOptions{}); err == nil {
		t.Fatal("expected empty endpoint rejected")
	}
	if _, err := q.Enqueue(ctx, outbox.KindCreate, "/x", "", nil, outbox.EnqueueOptions{}); err == nil {
		t.Fatal("expected empty method rejected")
	}
}

func TestBumpAttemptsExhaustsAtBound(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, outbox.KindUpdate, "/events/9", "PUT", json.RawMessage(`{"seats":2}`), outbox.EnqueueOptions{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < 2; i++ {
		disposition, err := q.BumpAttempts(ctx, id)
		if err != nil {
			t.Fatalf("BumpAttempts %d: %v", i+1, err)
		}
		if disposition != outbox.DispositionRetryable {
			t.Fatalf("attempt %d: expected retryable, got %s", i+1, disposition)
		}
	}

	disposition, err := q.BumpAttempts(ctx, id)
	if err != nil {
		t.Fatalf("BumpAttempts final: %v", err)
	}
	if disposition != outbox.DispositionExhausted {
		t.Fatalf("expected exhausted after third failure, got %s", disposition)
	}

	count, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty queue after exhaustion, got %d", count)
	}
}

func TestRemoveAcknowledgesMutation(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, outbox.KindDelete, "/articles/3", "DELETE", nil, outbox.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	removed, err := q.Remove(ctx, id)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatal("expected queued mutation removed")
	}
	removed, err = q.Remove(ctx, id)
	if err != nil {
		t.Fatalf("Remove repeat: %v", err)
	}
	if removed {
		t.Fatal("expected repeat remove to report absence")
	}
}

func TestDefaultMaxAttemptsApplied(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, outbox.KindCreate, "/messages", "POST", nil, outbox.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pending, err := q.PendingAll(ctx)
	if err != nil {
		t.Fatalf("PendingAll: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("unexpected pending set %#v", pending)
	}
	if pending[0].MaxAttempts != 3 {
		t.Fatalf("expected default retry bound 3, got %d", pending[0].MaxAttempts)
	}
}
