package connectivity

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"outpost/config"
	"outpost/logging"
)

const (
	defaultReconnectBaseDelay = 2 * time.Second
	defaultReconnectMaxDelay  = 60 * time.Second
)

// WebsocketSignal keeps a long-lived websocket open against the remote and
// treats the connection state as a connectivity signal: connected means
// online, a failed dial or a dropped connection means offline. Reconnects
// use exponential backoff with jitter so a fleet of clients does not stampede
// a recovering server.
type WebsocketSignal struct {
	monitor   *Monitor
	logger    *slog.Logger
	url       string
	baseDelay time.Duration
	maxDelay  time.Duration

	mu      sync.Mutex
	quit    chan struct{}
	cancel  context.CancelFunc
	running bool
}

// NewWebsocketSignal builds the signal from the connectivity configuration
// section. Returns nil when no websocket URL is configured.
func NewWebsocketSignal(cfg *config.Config, monitor *Monitor, logger *slog.Logger) *WebsocketSignal {
	if cfg == nil || monitor == nil {
		return nil
	}
	wsURL := cfg.Connectivity.WebsocketURL
	if wsURL == "" {
		return nil
	}

	baseDelay := defaultReconnectBaseDelay
	if cfg.Connectivity.ReconnectBaseDelay > 0 {
		baseDelay = time.Duration(cfg.Connectivity.ReconnectBaseDelay) * time.Second
	}
	maxDelay := defaultReconnectMaxDelay
	if cfg.Connectivity.ReconnectMaxDelay > 0 {
		maxDelay = time.Duration(cfg.Connectivity.ReconnectMaxDelay) * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	return &WebsocketSignal{
		monitor:   monitor,
		logger:    logging.NewComponentLogger(logger, "connectivity-websocket"),
		url:       wsURL,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// Start begins the connect/reconnect loop.
func (w *WebsocketSignal) Start(ctx context.Context) {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.quit = make(chan struct{})
	w.cancel = cancel
	w.running = true

	quit := w.quit
	go w.connectLoop(loopCtx, quit)

	w.logger.Info("websocket signal started",
		logging.String(logging.FieldEventType, "websocket_started"),
		logging.String("url", w.url),
	)
}

// Stop tears down the websocket and halts reconnect attempts.
func (w *WebsocketSignal) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.running = false

	w.logger.Info("websocket signal stopped",
		logging.String(logging.FieldEventType, "websocket_stopped"),
	)
}

// Running reports whether the connect loop is active.
func (w *WebsocketSignal) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *WebsocketSignal) connectLoop(ctx context.Context, quit <-chan struct{}) {
	delay := w.baseDelay
	for {
		connected := w.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = w.baseDelay
		}

		w.monitor.SetOnline(false)

		// Full jitter keeps reconnecting clients spread out.
		wait := time.Duration(rand.Int63n(int64(delay) + 1))
		w.logger.Debug("websocket reconnect scheduled", logging.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case <-time.After(wait):
		}

		if next := delay * 2; next <= w.maxDelay {
			delay = next
		} else {
			delay = w.maxDelay
		}
	}
}

// connectOnce dials and then reads until the connection drops. It reports
// whether a connection was established at all.
func (w *WebsocketSignal) connectOnce(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, w.url, nil)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Debug("websocket dial failed", logging.Error(err))
		}
		return false
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	w.logger.Debug("websocket connected")
	w.monitor.SetOnline(true)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("websocket closed", logging.Error(err))
			}
			return true
		}
	}
}
