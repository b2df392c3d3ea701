package flow

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakeReopener struct {
	calls atomic.Int64
	ok    bool
}

func (f *fakeReopener) Reopen(venue, market string, symbols []string) bool {
	f.calls.Add(1)
	return f.ok
}

func TestHealthUnknownUntilFirstUpdate(t *testing.T) {
	h := NewHealth("venueA", "spot", "BTCUSDT", 10*time.Second)
	if got := h.Evaluate(time.Now()); got != StatusUnknown {
		t.Fatalf("expected UNKNOWN before any update, got %s", got)
	}
}

func TestHealthRecoversToHealthyAfterUpdate(t *testing.T) {
	h := NewHealth("venueA", "spot", "BTCUSDT", 10*time.Second)
	now := time.Now()
	h.UpdateReceived(now)
	if got := h.Evaluate(now); got != StatusHealthy {
		t.Fatalf("expected HEALTHY right after update, got %s", got)
	}
}

// TestFlowRecoveryScenario exercises the end-to-end recovery path: 35s of silence
// on a 10s expected interval crosses the CRITICAL threshold (>3x == 30s),
// and a subsequent update brings it back to HEALTHY within one cycle.
func TestFlowRecoveryScenario(t *testing.T) {
	reopener := &fakeReopener{ok: true}
	s := NewSupervisor(reopener)
	key := s.Register("venueA", "spot", []string{"BTCUSDT"}, 10*time.Second)
	s.MarkActive(key, "conn-1")

	t0 := time.Now()
	s.RecordUpdate("venueA", "spot", "BTCUSDT")

	silentAt := t0.Add(35 * time.Second)
	statuses := s.evaluateAll(silentAt)
	if got := statuses["venueA|spot|BTCUSDT"]; got != StatusCritical {
		t.Fatalf("expected CRITICAL after 35s silence on a 10s interval, got %s", got)
	}

	s.runRecoveryPass(silentAt)
	if reopener.calls.Load() != 1 {
		t.Fatalf("expected exactly one recovery attempt, got %d", reopener.calls.Load())
	}

	s.RecordUpdate("venueA", "spot", "BTCUSDT")
	if got := s.evaluateAll(time.Now())["venueA|spot|BTCUSDT"]; got != StatusHealthy {
		t.Fatalf("expected HEALTHY immediately after a fresh update, got %s", got)
	}
}

func TestRecoveryIsIdempotentWhileInFlight(t *testing.T) {
	reopener := &fakeReopener{ok: false}
	s := NewSupervisor(reopener)
	s.Register("venueA", "spot", []string{"ETHUSDT"}, 5*time.Second)

	now := time.Now().Add(time.Hour) // inactive subscription, so the flow qualifies for recovery
	s.mu.Lock()
	s.recovering[subKey("venueA", "spot")] = true
	s.mu.Unlock()

	s.runRecoveryPass(now)
	if reopener.calls.Load() != 0 {
		t.Fatalf("expected no recovery attempt while already in flight, got %d", reopener.calls.Load())
	}
}

func TestReportCountsStatuses(t *testing.T) {
	s := NewSupervisor(nil)
	s.Register("venueA", "spot", []string{"BTCUSDT", "ETHUSDT"}, 10*time.Second)
	s.RecordUpdate("venueA", "spot", "BTCUSDT")

	report := s.Report()
	if report.TotalSubscriptions != 1 {
		t.Fatalf("expected 1 subscription group, got %d", report.TotalSubscriptions)
	}
	if len(report.Flows) != 2 {
		t.Fatalf("expected 2 flow snapshots, got %d", len(report.Flows))
	}
}
