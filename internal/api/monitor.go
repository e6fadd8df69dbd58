package api

import (
	"sort"
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"policytrader/internal/domain"
)

// Monitor keeps the latest step record per symbol and fans new records out
// to subscribers. It also drives the health service: a symbol is SERVING
// unless its last kill-switch status was FLAT.
type Monitor struct {
	mu    sync.RWMutex
	steps map[string]domain.StepRecord

	health *health.Server

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan domain.StepRecord
}

// NewMonitor creates a monitor. The overall health ("") starts SERVING.
func NewMonitor() *Monitor {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &Monitor{
		steps:  make(map[string]domain.StepRecord),
		health: hs,
		subs:   make(map[int]chan domain.StepRecord),
	}
}

// Observe stores rec as the latest record for its symbol and notifies
// subscribers. Slow subscribers miss records rather than block the engine.
func (m *Monitor) Observe(rec domain.StepRecord) {
	m.mu.Lock()
	m.steps[rec.Symbol] = rec
	m.mu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if rec.KillSwitch == domain.KillFlat {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.health.SetServingStatus(rec.Symbol, status)

	m.subsMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- rec:
		default:
		}
	}
	m.subsMu.Unlock()
}

// Snapshot returns the latest record for symbol.
func (m *Monitor) Snapshot(symbol string) (domain.StepRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.steps[symbol]
	return rec, ok
}

// Snapshots returns the latest record of every symbol, sorted by symbol.
func (m *Monitor) Snapshots() []domain.StepRecord {
	m.mu.RLock()
	out := make([]domain.StepRecord, 0, len(m.steps))
	for _, rec := range m.steps {
		out = append(out, rec)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Subscribe registers a channel receiving every subsequent record.
func (m *Monitor) Subscribe(buf int) (int, <-chan domain.StepRecord) {
	ch := make(chan domain.StepRecord, buf)
	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch
	m.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (m *Monitor) Unsubscribe(id int) {
	m.subsMu.Lock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
	m.subsMu.Unlock()
}

// Shutdown marks every service NOT_SERVING and closes all subscriptions.
func (m *Monitor) Shutdown() {
	m.health.Shutdown()
	m.subsMu.Lock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.subsMu.Unlock()
}
