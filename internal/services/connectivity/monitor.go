package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/TheMichaelB/booktu/internal/events"
)

// DegradedMessage is shown once when the first check finds no network.
const DegradedMessage = "No internet connection: catalog refresh and sync are unavailable until the device is back online"

// Probe answers whether the remote system is reachable right now.
type Probe interface {
	Reachable(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) bool

// Reachable calls f.
func (f ProbeFunc) Reachable(ctx context.Context) bool { return f(ctx) }

// HTTPProbe treats any HTTP response from URL as reachable.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// NewHTTPProbe creates a probe with its own timeout.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Reachable sends a HEAD request.
func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Transition is an edge in reachability.
type Transition struct {
	Connected bool
	At        time.Time
}

// Monitor tracks reachability and publishes edges to subscribers.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *events.Logger
	notify   func(message string)

	mu        sync.RWMutex
	connected *bool
	notified  bool
	subs      map[int]chan Transition
	nextSub   int
}

// NewMonitor creates a monitor. Its state is undetermined until the first
// Check or Report.
func NewMonitor(probe Probe, interval time.Duration, logger *events.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	m := &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger.WithField("service", "connectivity"),
		subs:     make(map[int]chan Transition),
	}
	m.notify = func(message string) {
		m.logger.Warn(message)
	}
	return m
}

// OnDegraded replaces the one-time offline notification.
func (m *Monitor) OnDegraded(fn func(message string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = fn
}

// IsConnected returns the last determination, or nil before the first.
func (m *Monitor) IsConnected() *bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.connected == nil {
		return nil
	}
	v := *m.connected
	return &v
}

// Online reports whether the device is known to be connected.
func (m *Monitor) Online() bool {
	c := m.IsConnected()
	return c != nil && *c
}

// Subscribe returns a channel of transitions and a function that ends the
// subscription.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Transition, 8)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
}

// Check probes once and records the result. A probe cut short by ctx is
// not recorded.
func (m *Monitor) Check(ctx context.Context) bool {
	connected := m.probe.Reachable(ctx)
	if ctx.Err() != nil {
		return connected
	}
	m.Report(connected)
	return connected
}

// Report records a reachability determination. Subscribers only hear about
// changes between two determined states.
func (m *Monitor) Report(connected bool) {
	m.mu.Lock()

	first := m.connected == nil
	changed := !first && *m.connected != connected
	m.connected = &connected

	var notify func(string)
	if first && !connected && !m.notified {
		m.notified = true
		notify = m.notify
	}

	if changed {
		t := Transition{Connected: connected, At: time.Now()}
		for id, ch := range m.subs {
			select {
			case ch <- t:
			default:
				m.logger.WithField("subscriber", id).Warn("Dropped connectivity transition for slow subscriber")
			}
		}
	}
	m.mu.Unlock()

	if changed {
		m.logger.WithField("connected", connected).Info("Connectivity changed")
	}
	if notify != nil {
		notify(DegradedMessage)
	}
}

// Run probes on every interval until ctx is done. The first probe runs
// immediately.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
