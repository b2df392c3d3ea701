// Package flow is the Flow Supervisor: it watches per-(venue, market,
// symbol) message-arrival health and drives recovery through a
// reopener capability backed by the WebSocket Manager.
package flow

import (
	"sync"
	"time"
)

// Status is a FlowHealth's derived health tag.
type Status string

const (
	StatusUnknown  Status = "UNKNOWN"
	StatusHealthy  Status = "HEALTHY"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
)

// Health is (venue, market, symbol) plus arrival bookkeeping and a
// derived status. Status rules are evaluated on demand from
// LastUpdate/MessageCount/ErrorCount/ExpectedInterval, never cached.
type Health struct {
	mu sync.Mutex

	Venue            string
	Market           string
	Symbol           string
	ExpectedInterval time.Duration

	lastUpdate   time.Time
	hasUpdate    bool
	messageCount int64
	errorCount   int64
}

// NewHealth constructs a Health record in UNKNOWN status (no update yet).
func NewHealth(venue, market, symbol string, expectedInterval time.Duration) *Health {
	return &Health{Venue: venue, Market: market, Symbol: symbol, ExpectedInterval: expectedInterval}
}

// UpdateReceived advances counters and timestamps on a live message
// arrival. The error count is not reset, so the next Evaluate reports
// HEALTHY only if the error count is within the healthy bound.
func (h *Health) UpdateReceived(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastUpdate = now
	h.hasUpdate = true
	h.messageCount++
}

// ErrorOccurred increments the error count; it may downgrade status
// directly depending on the threshold it crosses.
func (h *Health) ErrorOccurred() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount++
}

// Evaluate derives the current Status from these rules:
//   - no update ever -> UNKNOWN
//   - silence > 3x expected OR errors > 5 -> CRITICAL
//   - silence > 2x expected OR errors > 2 -> WARNING
//   - otherwise HEALTHY
func (h *Health) Evaluate(now time.Time) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evaluateLocked(now)
}

func (h *Health) evaluateLocked(now time.Time) Status {
	if !h.hasUpdate {
		return StatusUnknown
	}
	silence := now.Sub(h.lastUpdate)
	expected := h.ExpectedInterval
	if expected <= 0 {
		expected = time.Second
	}

	switch {
	case silence > 3*expected || h.errorCount > 5:
		return StatusCritical
	case silence > 2*expected || h.errorCount > 2:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Snapshot is a point-in-time view for reports.
type Snapshot struct {
	Venue        string
	Market       string
	Symbol       string
	Status       Status
	MessageCount int64
	ErrorCount   int64
	LastUpdate   time.Time
	HasUpdate    bool
}

// Snapshot returns the current values under lock, evaluated as of now.
func (h *Health) Snapshot(now time.Time) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		Venue:        h.Venue,
		Market:       h.Market,
		Symbol:       h.Symbol,
		Status:       h.evaluateLocked(now),
		MessageCount: h.messageCount,
		ErrorCount:   h.errorCount,
		LastUpdate:   h.lastUpdate,
		HasUpdate:    h.hasUpdate,
	}
}
