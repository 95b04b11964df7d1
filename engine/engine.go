package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"outpost/config"
	"outpost/connectivity"
	"outpost/logging"
	"outpost/outbox"
	"outpost/remote"
	"outpost/store"
)

// ErrOffline indicates an operation that needs the network was attempted
// while the monitor believes the remote is unreachable.
var ErrOffline = errors.New("remote is offline")

// Remote is the slice of the HTTP client the engine needs. Tests substitute
// a fake.
type Remote interface {
	Do(ctx context.Context, method, endpoint string, payload json.RawMessage) (*remote.Envelope, error)
	Get(ctx context.Context, endpoint string) (*remote.Envelope, error)
}

// MutationError describes a mutation that left the queue without succeeding
// during a drain pass: either rejected by the remote or exhausted its retry
// bound.
type MutationError struct {
	MutationID string
	Endpoint   string
	Err        error
}

// Summary reports the outcome of one drain pass. Failed counts mutations
// still queued for a later pass; mutations dropped from the queue appear in
// Errors instead.
type Summary struct {
	Synced int
	Failed int
	Errors []MutationError
}

type drainRequest struct {
	ctx   context.Context
	reply chan Summary
}

// Engine replays queued mutations against the remote and refreshes cached
// domains. All drain work runs on one long-lived worker goroutine, so two
// passes can never interleave; the atomic guard in front of the handoff turns
// concurrent callers away with a zero Summary.
type Engine struct {
	store   *store.Store
	queue   *outbox.Queue
	remote  Remote
	monitor *connectivity.Monitor
	logger  *slog.Logger

	refreshTTL time.Duration

	draining atomic.Bool
	requests chan drainRequest

	mu      sync.Mutex
	quit    chan struct{}
	running bool
}

// New wires the engine. It does not start the worker; call Start.
func New(cfg *config.Config, st *store.Store, queue *outbox.Queue, rc Remote, monitor *connectivity.Monitor, logger *slog.Logger) (*Engine, error) {
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if queue == nil {
		return nil, errors.New("queue is nil")
	}
	if rc == nil {
		return nil, errors.New("remote client is nil")
	}
	if monitor == nil {
		return nil, errors.New("connectivity monitor is nil")
	}

	var refreshTTL time.Duration
	if cfg != nil && cfg.Sync.DefaultTTLSeconds > 0 {
		refreshTTL = time.Duration(cfg.Sync.DefaultTTLSeconds) * time.Second
	}

	return &Engine{
		store:      st,
		queue:      queue,
		remote:     rc,
		monitor:    monitor,
		logger:     logging.NewComponentLogger(logger, "engine"),
		refreshTTL: refreshTTL,
		requests:   make(chan drainRequest, 1),
	}, nil
}

// Start launches the drain worker and registers the engine for automatic
// drains on reconnect.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.quit = make(chan struct{})
	e.running = true

	quit := e.quit
	go e.workerLoop(ctx, quit)

	e.monitor.RegisterDrainRequester(e)

	e.logger.Info("sync engine started",
		logging.String(logging.FieldEventType, "engine_started"),
	)
}

// Stop halts the drain worker. A pass already running finishes.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if e.quit != nil {
		close(e.quit)
		e.quit = nil
	}
	e.running = false

	e.logger.Info("sync engine stopped",
		logging.String(logging.FieldEventType, "engine_stopped"),
	)
}

// Running reports whether the drain worker is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) workerLoop(ctx context.Context, quit <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case req := <-e.requests:
			summary := e.drainPass(req.ctx)
			e.draining.Store(false)
			if req.reply != nil {
				req.reply <- summary
			}
		}
	}
}

// Drain replays every queued mutation in order and reports the outcome.
// It returns a zero Summary immediately when offline or when another drain
// is already in flight.
func (e *Engine) Drain(ctx context.Context) Summary {
	if !e.monitor.Online() {
		return Summary{}
	}
	if !e.draining.CompareAndSwap(false, true) {
		return Summary{}
	}

	reply := make(chan Summary, 1)
	select {
	case e.requests <- drainRequest{ctx: ctx, reply: reply}:
	default:
		e.draining.Store(false)
		return Summary{}
	}

	select {
	case summary := <-reply:
		return summary
	case <-ctx.Done():
		return Summary{}
	}
}

// RequestDrain schedules a drain without waiting for its result. The
// connectivity monitor calls this when the application comes back online.
func (e *Engine) RequestDrain() {
	if !e.monitor.Online() {
		return
	}
	if !e.draining.CompareAndSwap(false, true) {
		return
	}
	select {
	case e.requests <- drainRequest{ctx: context.Background()}:
	default:
		e.draining.Store(false)
	}
}

// drainPass runs on the worker goroutine only.
func (e *Engine) drainPass(ctx context.Context) Summary {
	var summary Summary

	pending, err := e.queue.PendingAll(ctx)
	if err != nil {
		e.logger.Error("list pending mutations", logging.Error(err))
		summary.Errors = append(summary.Errors, MutationError{Err: err})
		return summary
	}
	if len(pending) == 0 {
		return summary
	}

	e.logger.Info("drain started",
		logging.String(logging.FieldEventType, "drain_started"),
		logging.Int("pending", len(pending)),
	)

	for _, record := range pending {
		if ctx.Err() != nil {
			summary.Failed += remaining(pending, record)
			break
		}
		e.replayOne(ctx, record, &summary)
	}

	state := store.SyncStateSynced
	var lastError string
	if len(summary.Errors) > 0 {
		state = store.SyncStateError
		lastError = summary.Errors[len(summary.Errors)-1].Err.Error()
	}
	status := store.SyncStatus{
		Domain:     store.DomainQueue,
		State:      state,
		LastSyncAt: time.Now().UTC(),
		LastError:  lastError,
	}
	if err := e.store.SetSyncStatus(ctx, status); err != nil {
		e.logger.Error("update queue sync status", logging.Error(err))
	}

	e.logger.Info("drain finished",
		logging.String(logging.FieldEventType, "drain_finished"),
		logging.Int("synced", summary.Synced),
		logging.Int("failed", summary.Failed),
		logging.Int("errors", len(summary.Errors)),
	)
	return summary
}

// replayOne replays a single mutation; failures never abort the pass.
func (e *Engine) replayOne(ctx context.Context, record *store.MutationRecord, summary *Summary) {
	_, err := e.remote.Do(ctx, record.Method, record.Endpoint, record.Payload)
	if err == nil {
		if _, removeErr := e.queue.Remove(ctx, record.ID); removeErr != nil {
			e.logger.Error("acknowledge mutation", logging.Error(removeErr),
				logging.String(logging.FieldMutation, record.ID))
			summary.Errors = append(summary.Errors, MutationError{
				MutationID: record.ID,
				Endpoint:   record.Endpoint,
				Err:        removeErr,
			})
			return
		}
		summary.Synced++
		return
	}

	if !remote.IsConnectivity(err) {
		// The remote understood the request and refused it. Replaying the
		// same bytes would fail the same way, so the mutation leaves the
		// queue permanently.
		if _, removeErr := e.queue.Remove(ctx, record.ID); removeErr != nil {
			e.logger.Error("drop rejected mutation", logging.Error(removeErr),
				logging.String(logging.FieldMutation, record.ID))
		}
		e.logger.Warn("mutation rejected by remote",
			logging.String(logging.FieldMutation, record.ID),
			logging.String("endpoint", record.Endpoint),
			logging.Error(err),
		)
		summary.Errors = append(summary.Errors, MutationError{
			MutationID: record.ID,
			Endpoint:   record.Endpoint,
			Err:        err,
		})
		return
	}

	disposition, bumpErr := e.queue.BumpAttempts(ctx, record.ID)
	if bumpErr != nil {
		e.logger.Error("record failed attempt", logging.Error(bumpErr),
			logging.String(logging.FieldMutation, record.ID))
		summary.Errors = append(summary.Errors, MutationError{
			MutationID: record.ID,
			Endpoint:   record.Endpoint,
			Err:        bumpErr,
		})
		return
	}
	if disposition == outbox.DispositionExhausted {
		summary.Errors = append(summary.Errors, MutationError{
			MutationID: record.ID,
			Endpoint:   record.Endpoint,
			Err:        fmt.Errorf("retry bound exhausted: %w", err),
		})
		return
	}
	summary.Failed++
}

func remaining(pending []*store.MutationRecord, current *store.MutationRecord) int {
	for i, record := range pending {
		if record.ID == current.ID {
			return len(pending) - i
		}
	}
	return 0
}

// RefreshDomain pulls the remote's current list for a domain and repopulates
// the cache in one transaction. It never touches the mutation queue.
func (e *Engine) RefreshDomain(ctx context.Context, domain store.Domain) error {
	if !e.monitor.Online() {
		return ErrOffline
	}

	envelope, err := e.remote.Get(ctx, "/"+string(domain))
	if err != nil {
		e.markRefreshError(ctx, domain, err)
		return fmt.Errorf("refresh %s: %w", domain, err)
	}

	items, err := store.ItemsFromList(envelope.Data)
	if err != nil {
		e.markRefreshError(ctx, domain, err)
		return fmt.Errorf("refresh %s: %w", domain, err)
	}

	if len(items) > 0 {
		if err := e.store.PutMany(ctx, domain, items, store.PutOptions{TTL: e.refreshTTL}); err != nil {
			e.markRefreshError(ctx, domain, err)
			return fmt.Errorf("refresh %s: %w", domain, err)
		}
	}

	status := store.SyncStatus{
		Domain:     domain,
		State:      store.SyncStateSynced,
		LastSyncAt: time.Now().UTC(),
	}
	if err := e.store.SetSyncStatus(ctx, status); err != nil {
		return fmt.Errorf("refresh %s: %w", domain, err)
	}

	e.logger.Info("domain refreshed",
		logging.String(logging.FieldEventType, "domain_refreshed"),
		logging.String(logging.FieldDomain, string(domain)),
		logging.Int("entries", len(items)),
	)
	return nil
}

// RefreshAll refreshes each domain in turn, collecting failures instead of
// stopping at the first.
func (e *Engine) RefreshAll(ctx context.Context, domains ...store.Domain) error {
	var errs []string
	for _, domain := range domains {
		if err := e.RefreshDomain(ctx, domain); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("refresh all: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (e *Engine) markRefreshError(ctx context.Context, domain store.Domain, cause error) {
	status := store.SyncStatus{
		Domain:    domain,
		State:     store.SyncStateError,
		LastError: cause.Error(),
	}
	if err := e.store.SetSyncStatus(ctx, status); err != nil {
		e.logger.Error("update domain sync status", logging.Error(err),
			logging.String(logging.FieldDomain, string(domain)))
	}
}

