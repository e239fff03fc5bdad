package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/faidahq/faida-offline/internal/logging"
)

// Monitor tracks server usability over time. It replaces the ambient
// "navigator.onLine"-style global with an explicit service object:
// callers read CurrentState or subscribe to transitions.
type Monitor struct {
	client     *http.Client
	classifier *Classifier
	statusURL  string
	interval   time.Duration

	mu    sync.RWMutex
	state State
	subs  []chan State
}

// NewMonitor creates a Monitor probing statusURL at the given interval.
func NewMonitor(client *http.Client, classifier *Classifier, statusURL string, interval time.Duration) *Monitor {
	return &Monitor{
		client:     client,
		classifier: classifier,
		statusURL:  statusURL,
		interval:   interval,
		state:      StateUnreachable, // pessimistic until first probe
	}
}

// CurrentState returns the last classified state.
func (m *Monitor) CurrentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Online reports whether the server is currently usable.
func (m *Monitor) Online() bool {
	return m.CurrentState() == StateReachable
}

// Subscribe returns a channel receiving every state transition. The
// channel is buffered; a slow consumer drops transitions rather than
// blocking the monitor.
func (m *Monitor) Subscribe() <-chan State {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan State, 8)
	m.subs = append(m.subs, ch)
	return ch
}

// Probe performs a single connectivity check and records the result.
func (m *Monitor) Probe(ctx context.Context) State {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statusURL, nil)
	if err != nil {
		m.setState(StateUnreachable)
		return StateUnreachable
	}
	req.Header.Set("X-Requested-With", "FaidaOfflineCore")

	resp, err := m.client.Do(req)
	state := m.classifier.Classify(resp, err)
	if resp != nil {
		resp.Body.Close()
	}

	m.setState(state)
	return state
}

// Run probes periodically until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Report lets other components feed observed outcomes into the monitor,
// so a failed form submission flips the state without waiting for the
// next scheduled probe.
func (m *Monitor) Report(state State) {
	m.setState(state)
}

func (m *Monitor) setState(next State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	subs := m.subs
	m.mu.Unlock()

	if prev == next {
		return
	}

	logging.Info("connectivity state changed", logging.Fields{
		"from": prev.String(),
		"to":   next.String(),
	})

	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
}
