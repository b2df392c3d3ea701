package wsgateway

import (
	"testing"
	"time"
)

func TestDeduperWithinWindowIsDuplicate(t *testing.T) {
	d := NewDeduper()
	start := time.Now()
	f := DedupKeyFields{Symbol: "BTCUSDT", EventTime: "1", Timestamp: "1", Price: "100"}

	if d.IsDuplicate(f, start) {
		t.Fatal("first arrival should not be a duplicate")
	}
	if !d.IsDuplicate(f, start.Add(2*time.Second)) {
		t.Fatal("arrival within the 5s window should be a duplicate")
	}
}

func TestDeduperAfterWindowIsNotDuplicate(t *testing.T) {
	d := NewDeduper()
	start := time.Now()
	f := DedupKeyFields{Symbol: "BTCUSDT", EventTime: "1", Timestamp: "1", Price: "100"}

	d.IsDuplicate(f, start)
	if d.IsDuplicate(f, start.Add(6*time.Second)) {
		t.Fatal("arrival after the 5s window should not be a duplicate")
	}
}

func TestDeduperPurgesStaleEntries(t *testing.T) {
	d := NewDeduper()
	start := time.Now()
	sym := DedupKeyFields{Symbol: "SYM", EventTime: "1", Timestamp: "1"}
	for i := 0; i < dedupPurgeEvery; i++ {
		d.IsDuplicate(sym, start)
	}
	if got := d.Len(); got != 1 {
		t.Fatalf("expected exactly one tracked key before purge, got %d", got)
	}

	// A further dedupPurgeEvery probes, far past maxAge, trips the next
	// amortized sweep and drops the now-stale "SYM" entry.
	later := start.Add(2 * time.Minute)
	other := DedupKeyFields{Symbol: "OTHER"}
	for i := 0; i < dedupPurgeEvery; i++ {
		d.IsDuplicate(other, later)
	}
	if got := d.Len(); got != 1 {
		t.Fatalf("expected purge to drop the stale key, got %d remaining", got)
	}
}
