package governor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAlertBusFiresRegisteredCallbacks(t *testing.T) {
	bus := NewAlertBus()
	var got atomic.Int32
	bus.Register(func(a Alert) {
		if a.Type == "memory" {
			got.Add(1)
		}
	})
	bus.Fire(Alert{Type: "memory", Level: AlertWarning, Value: 90, Timestamp: time.Now()})
	if got.Load() != 1 {
		t.Fatalf("callback invocations = %d, want 1", got.Load())
	}
}

func TestAlertBusIsolatesPanickingCallback(t *testing.T) {
	bus := NewAlertBus()
	var secondRan bool
	bus.Register(func(Alert) { panic("boom") })
	bus.Register(func(Alert) { secondRan = true })

	bus.Fire(Alert{Type: "cpu", Level: AlertWarning, Timestamp: time.Now()})
	if !secondRan {
		t.Fatal("a panicking callback must not prevent later callbacks from running")
	}
}

func TestAlertBusHistoryTrimsOnOverflow(t *testing.T) {
	bus := NewAlertBus()
	for i := 0; i < alertHistoryCap+10; i++ {
		bus.Fire(Alert{Type: "pool", Timestamp: time.Now()})
	}
	// The 101st alert trims history to the last 50 (itself included); the
	// remaining 9 are appended after that.
	hist := bus.History()
	if len(hist) != alertHistoryTrim+9 {
		t.Fatalf("history len = %d, want %d", len(hist), alertHistoryTrim+9)
	}
}

func TestMaybeForceGCHintIsRateLimited(t *testing.T) {
	bus := NewAlertBus()
	var calls atomic.Int32
	hint := func() { calls.Add(1) }

	bus.MaybeForceGCHint(hint)
	bus.MaybeForceGCHint(hint)
	bus.MaybeForceGCHint(hint)

	if calls.Load() != 1 {
		t.Fatalf("hint invoked %d times within the rate window, want 1", calls.Load())
	}
}
