package wsgateway

import (
	"testing"
	"time"
)

func TestReconnectionStashQueuesWhileActiveAndDrainsInOrder(t *testing.T) {
	s := NewReconnectionStash(30 * time.Second)
	if s.Active() {
		t.Fatal("expected IDLE initially")
	}

	s.Start()
	if !s.Active() {
		t.Fatal("expected RECONNECTING after Start")
	}

	now := time.Now()
	s.Enqueue("one", now)
	s.Enqueue("two", now.Add(time.Millisecond))
	s.Enqueue("three", now.Add(2*time.Millisecond))

	drained := s.Stop(now.Add(3 * time.Millisecond))
	if s.Active() {
		t.Fatal("expected IDLE after Stop")
	}
	want := []string{"one", "two", "three"}
	if len(drained) != len(want) {
		t.Fatalf("expected %d drained entries, got %d", len(want), len(drained))
	}
	for i, m := range drained {
		if m != want[i] {
			t.Fatalf("drained[%d] = %q, want %q", i, m, want[i])
		}
	}
}

func TestReconnectionStashDropsEntriesOlderThanRetention(t *testing.T) {
	s := NewReconnectionStash(5 * time.Second)
	s.Start()

	base := time.Now()
	s.Enqueue("stale", base)
	s.Enqueue("fresh", base.Add(4*time.Second))

	drained := s.Stop(base.Add(8 * time.Second))
	if len(drained) != 1 || drained[0] != "fresh" {
		t.Fatalf("expected only the within-retention entry to survive, got %v", drained)
	}
}

func TestReconnectionStashStartClearsPriorEntries(t *testing.T) {
	s := NewReconnectionStash(30 * time.Second)
	s.Start()
	s.Enqueue("leftover", time.Now())
	s.Stop(time.Now())

	s.Start()
	drained := s.Stop(time.Now())
	if len(drained) != 0 {
		t.Fatalf("expected a fresh Start to have no carried-over entries, got %v", drained)
	}
}
