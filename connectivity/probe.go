package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"outpost/config"
	"outpost/logging"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// ProbeSignal periodically issues a lightweight HTTP request against the
// configured probe URL and feeds the result into the monitor.
type ProbeSignal struct {
	monitor  *Monitor
	logger   *slog.Logger
	client   *http.Client
	probeURL string
	interval time.Duration

	mu      sync.Mutex
	quit    chan struct{}
	running bool
}

// NewProbeSignal builds a probe from the connectivity configuration section.
// Returns nil when no probe URL is configured.
func NewProbeSignal(cfg *config.Config, monitor *Monitor, logger *slog.Logger) *ProbeSignal {
	if cfg == nil || monitor == nil {
		return nil
	}
	probeURL := cfg.Connectivity.ProbeURL
	if probeURL == "" {
		return nil
	}

	interval := defaultProbeInterval
	if cfg.Connectivity.ProbeInterval > 0 {
		interval = time.Duration(cfg.Connectivity.ProbeInterval) * time.Second
	}
	timeout := defaultProbeTimeout
	if cfg.Connectivity.ProbeTimeout > 0 {
		timeout = time.Duration(cfg.Connectivity.ProbeTimeout) * time.Second
	}

	return &ProbeSignal{
		monitor:  monitor,
		logger:   logging.NewComponentLogger(logger, "connectivity-probe"),
		client:   &http.Client{Timeout: timeout},
		probeURL: probeURL,
		interval: interval,
	}
}

// Start begins probing. The first probe runs immediately so the monitor gets
// an early belief instead of waiting a full interval.
func (p *ProbeSignal) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.quit = make(chan struct{})
	p.running = true

	quit := p.quit
	go p.probeLoop(ctx, quit)

	p.logger.Info("connectivity probe started",
		logging.String(logging.FieldEventType, "probe_started"),
		logging.String("url", p.probeURL),
		logging.Duration("interval", p.interval),
	)
}

// Stop halts probing.
func (p *ProbeSignal) Stop() {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	if p.quit != nil {
		close(p.quit)
		p.quit = nil
	}
	p.running = false

	p.logger.Info("connectivity probe stopped",
		logging.String(logging.FieldEventType, "probe_stopped"),
	)
}

// Running reports whether the probe loop is active.
func (p *ProbeSignal) Running() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ProbeSignal) probeLoop(ctx context.Context, quit <-chan struct{}) {
	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *ProbeSignal) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.probeURL, nil)
	if err != nil {
		p.logger.Warn("build probe request", logging.Error(err))
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Debug("probe failed", logging.Error(err))
		p.monitor.SetOnline(false)
		return
	}
	defer resp.Body.Close()

	// Any response at all proves the network path works; a broken remote
	// still answers with a status.
	online := resp.StatusCode < http.StatusInternalServerError
	if !online {
		p.logger.Debug("probe saw server error", logging.Int("status", resp.StatusCode))
	}
	p.monitor.SetOnline(online)
}
