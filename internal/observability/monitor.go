package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"github.com/ismaiel54/lob-replay-sim/internal/replay"
	"go.uber.org/zap"
)

// StepView is the JSON projection of one replay step
type StepView struct {
	Index     int           `json:"index"`
	TsNanos   int64         `json:"ts_nanos"`
	Kind      string        `json:"kind"`
	Snapshot  book.Snapshot `json:"snapshot"`
	Inventory int64         `json:"inventory"`
	Cash      float64       `json:"cash"`
	Fills     []replay.Fill `json:"fills,omitempty"`
}

// Monitor keeps the latest replay state for HTTP polling and pushes steps
// to websocket subscribers. Observe is safe to call from the replay loop.
type Monitor struct {
	logger  *zap.Logger
	hub     *hub
	every   int
	mu      sync.RWMutex
	latest  *StepView
	summary *replay.Summary
}

// NewMonitor creates a monitor that broadcasts every n-th step; steps with
// fills are always broadcast
func NewMonitor(logger *zap.Logger, every int) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if every <= 0 {
		every = 1
	}
	m := &Monitor{logger: logger, every: every}
	m.hub = newHub(logger, m.welcome)
	return m
}

// Run services websocket subscribers until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	m.hub.run(ctx)
}

// Observe records a replay step; pass it to replay.Engine.OnStep
func (m *Monitor) Observe(p replay.Progress) {
	view := &StepView{
		Index:     p.Index,
		TsNanos:   p.Event.Timestamp,
		Kind:      p.Event.Kind.String(),
		Snapshot:  p.Snapshot,
		Inventory: p.Inventory,
		Cash:      p.Cash,
		Fills:     p.Fills,
	}

	m.mu.Lock()
	m.latest = view
	m.mu.Unlock()

	if len(p.Fills) > 0 || p.Index%m.every == 0 {
		m.hub.publish(marshalWS("step", view))
	}
}

// Finish records the final summary of a run
func (m *Monitor) Finish(s replay.Summary) {
	m.mu.Lock()
	m.summary = &s
	m.mu.Unlock()
	m.hub.publish(marshalWS("summary", s))
}

// Latest returns the most recent step, if any
func (m *Monitor) Latest() (StepView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return StepView{}, false
	}
	return *m.latest, true
}

func (m *Monitor) welcome() []byte {
	if v, ok := m.Latest(); ok {
		return marshalWS("step", v)
	}
	return nil
}

// Register mounts /snapshot, /summary and /ws on h
func (m *Monitor) Register(h *HealthChecker) {
	h.Handle("/snapshot", http.HandlerFunc(m.handleSnapshot))
	h.Handle("/summary", http.HandlerFunc(m.handleSummary))
	h.Handle("/ws", http.HandlerFunc(m.hub.serveWS))
}

func (m *Monitor) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	v, ok := m.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, v)
}

func (m *Monitor) handleSummary(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	s := m.summary
	m.mu.RUnlock()
	if s == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, s)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
