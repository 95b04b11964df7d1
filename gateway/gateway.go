package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"outpost/config"
	"outpost/connectivity"
	"outpost/logging"
	"outpost/outbox"
	"outpost/remote"
	"outpost/store"
)

// ErrCacheMiss indicates a read could not be served from the network or the
// cache.
var ErrCacheMiss = errors.New("no cached entry available")

// Remote is the slice of the HTTP client the gateway needs.
type Remote interface {
	Do(ctx context.Context, method, endpoint string, payload json.RawMessage) (*remote.Envelope, error)
	Get(ctx context.Context, endpoint string) (*remote.Envelope, error)
}

// Result is the structured outcome of a gateway call. Success means the
// remote served or applied the request; FromCache marks a read answered from
// local state; Queued marks a mutation deferred to the outbox. Err is set
// only when the request definitively failed and was not queued.
type Result struct {
	Success   bool
	FromCache bool
	Queued    bool
	Data      json.RawMessage
	Err       error
}

// GetRequest describes a cacheable read.
type GetRequest struct {
	Endpoint string
	Domain   store.Domain
	// Key identifies the single entry this read maps to. Leave empty and set
	// CacheAll for list endpoints.
	Key      string
	OwnerID  string
	TTL      time.Duration
	CacheAll bool
}

// MutateRequest describes a write intent.
type MutateRequest struct {
	Kind     outbox.Kind
	Endpoint string
	Method   string
	Payload  json.RawMessage
	OwnerID  string
	// MaxAttempts of zero uses the configured default when the mutation is
	// queued.
	MaxAttempts int
}

// Gateway fronts every application request with the offline-first policy:
// try the network when the monitor believes it is up, fall back to the cache
// for reads, and defer writes to the outbox when the remote cannot be
// reached. It never panics; every outcome is a Result.
type Gateway struct {
	store      *store.Store
	queue      *outbox.Queue
	remote     Remote
	monitor    *connectivity.Monitor
	logger     *slog.Logger
	defaultTTL time.Duration
}

// New wires the gateway.
func New(cfg *config.Config, st *store.Store, queue *outbox.Queue, rc Remote, monitor *connectivity.Monitor, logger *slog.Logger) (*Gateway, error) {
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

	var defaultTTL time.Duration
	if cfg != nil && cfg.Sync.DefaultTTLSeconds > 0 {
		defaultTTL = time.Duration(cfg.Sync.DefaultTTLSeconds) * time.Second
	}

	return &Gateway{
		store:      st,
		queue:      queue,
		remote:     rc,
		monitor:    monitor,
		logger:     logging.NewComponentLogger(logger, "gateway"),
		defaultTTL: defaultTTL,
	}, nil
}

// Get serves a read: network first when online, cache as fallback.
func (g *Gateway) Get(ctx context.Context, req GetRequest) Result {
	if req.Domain == "" {
		return Result{Err: errors.New("domain is required")}
	}
	if !req.CacheAll && req.Key == "" {
		return Result{Err: errors.New("key is required for single-entry reads")}
	}

	if g.monitor.Online() {
		envelope, err := g.remote.Get(ctx, req.Endpoint)
		if err == nil {
			g.cacheResponse(ctx, req, envelope.Data)
			return Result{Success: true, Data: envelope.Data}
		}
		if !remote.IsConnectivity(err) {
			return Result{Err: err}
		}
		// The network path is down regardless of what the probe last saw.
		g.monitor.SetOnline(false)
		g.logger.Debug("read falling back to cache",
			logging.String("endpoint", req.Endpoint),
			logging.Error(err),
		)
	}

	return g.fromCache(ctx, req)
}

func (g *Gateway) cacheResponse(ctx context.Context, req GetRequest, data json.RawMessage) {
	ttl := req.TTL
	if ttl == 0 {
		ttl = g.defaultTTL
	}
	opts := store.PutOptions{OwnerID: req.OwnerID, TTL: ttl}

	var err error
	if req.CacheAll {
		var items []store.Item
		items, err = store.ItemsFromList(data)
		if err == nil && len(items) > 0 {
			err = g.store.PutMany(ctx, req.Domain, items, opts)
		}
	} else {
		err = g.store.Put(ctx, req.Domain, req.Key, data, opts)
	}
	if err != nil {
		// A failed cache write must not turn a served read into a failure.
		g.logger.Warn("cache response",
			logging.String(logging.FieldDomain, string(req.Domain)),
			logging.Error(err),
		)
	}
}

func (g *Gateway) fromCache(ctx context.Context, req GetRequest) Result {
	if req.CacheAll {
		entries, err := g.store.GetAll(ctx, req.Domain, req.OwnerID)
		if err != nil {
			return Result{Err: err}
		}
		if len(entries) == 0 {
			return Result{Err: fmt.Errorf("%w: domain %s", ErrCacheMiss, req.Domain)}
		}
		return Result{Success: true, FromCache: true, Data: assembleList(entries)}
	}

	entry, err := g.store.Get(ctx, req.Domain, req.Key)
	if err != nil {
		return Result{Err: err}
	}
	if entry == nil {
		return Result{Err: fmt.Errorf("%w: %s/%s", ErrCacheMiss, req.Domain, req.Key)}
	}
	return Result{Success: true, FromCache: true, Data: entry.Data}
}

// Mutate applies a write intent: straight to the remote when online, to the
// outbox when offline or when the attempt fails for connectivity reasons.
// Business rejections are terminal and never queued.
func (g *Gateway) Mutate(ctx context.Context, req MutateRequest) Result {
	if !g.monitor.Online() {
		return g.enqueue(ctx, req, nil)
	}

	envelope, err := g.remote.Do(ctx, req.Method, req.Endpoint, req.Payload)
	if err == nil {
		return Result{Success: true, Data: envelope.Data}
	}
	if !remote.IsConnectivity(err) {
		return Result{Err: err}
	}

	g.monitor.SetOnline(false)
	return g.enqueue(ctx, req, err)
}

func (g *Gateway) enqueue(ctx context.Context, req MutateRequest, cause error) Result {
	id, err := g.queue.Enqueue(ctx, req.Kind, req.Endpoint, req.Method, req.Payload, outbox.EnqueueOptions{
		OwnerID:     req.OwnerID,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		return Result{Err: err}
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldMutation, id),
		logging.String("endpoint", req.Endpoint),
	}
	if cause != nil {
		attrs = append(attrs, logging.Error(cause))
	}
	g.logger.Info("mutation deferred to outbox", logging.Args(attrs...)...)
	return Result{Queued: true}
}

func assembleList(entries []*store.Entry) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, entry := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(entry.Data)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
