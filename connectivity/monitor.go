package connectivity

import (
	"log/slog"
	"sync"

	"outpost/logging"
)

const subscriberBuffer = 8

// DrainRequester is notified when connectivity returns, so queued work can be
// replayed without the monitor knowing anything about sync machinery.
type DrainRequester interface {
	RequestDrain()
}

// Monitor is the single authority on whether the application believes it is
// online. Signal sources (probe, websocket, manual override) feed it and it
// broadcasts transitions to subscribers.
type Monitor struct {
	logger *slog.Logger

	mu          sync.Mutex
	online      bool
	nextID      int
	subscribers map[int]chan bool
	drainer     DrainRequester
}

// NewMonitor creates a monitor with the given initial belief. Starting
// offline is the safe default: the first successful probe flips it.
func NewMonitor(logger *slog.Logger, initiallyOnline bool) *Monitor {
	return &Monitor{
		logger:      logging.NewComponentLogger(logger, "connectivity"),
		online:      initiallyOnline,
		subscribers: make(map[int]chan bool),
	}
}

// Online reports the current belief.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// RegisterDrainRequester wires the component that should run when the
// monitor observes an offline-to-online transition.
func (m *Monitor) RegisterDrainRequester(drainer DrainRequester) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainer = drainer
}

// SetOnline records a new belief. Repeated reports of the same state are
// absorbed; only transitions are broadcast. Coming back online triggers a
// fire-and-forget drain request.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	drainer := m.drainer
	channels := make([]chan bool, 0, len(m.subscribers))
	for _, ch := range m.subscribers {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed",
		logging.String(logging.FieldEventType, "connectivity_changed"),
		logging.Bool("online", online),
	)
	for _, ch := range channels {
		select {
		case ch <- online:
		default:
			m.logger.Warn("dropping connectivity notification for slow subscriber")
		}
	}

	if online && drainer != nil {
		go drainer.RequestDrain()
	}
}

// Subscribe registers for transition notifications. The returned cancel
// function must be called to release the subscription; after cancel the
// channel is closed.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, subscriberBuffer)
	m.subscribers[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}
