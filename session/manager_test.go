package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetReusesOpenSession(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	a, err := m.Get("default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Get("default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected the same *Session to be reused for the same name")
	}
}

func TestGetFailsFastAfterClose(t *testing.T) {
	m := NewManager()
	m.CloseAll()

	if _, err := m.Get("default", nil, nil); err == nil {
		t.Fatal("expected error after manager closed")
	}
}

func TestRefreshReconstructs(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	a, _ := m.Get("default", nil, nil)
	m.Refresh("default")
	b, _ := m.Get("default", nil, nil)
	if a == b {
		t.Fatal("expected a new session after Refresh")
	}
	if !a.Closed() {
		t.Fatal("old session should be closed")
	}
}

func TestRequestWithRetryOn503ThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"serverTime":1700000000000}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RetryCount = 3
	cfg.RetryBaseDelay = time.Millisecond
	m := NewManager()
	defer m.CloseAll()
	if _, err := m.Get("venue", &cfg, nil); err != nil {
		t.Fatal(err)
	}

	resp, err := m.RequestWithRetry(context.Background(), "GET", srv.URL+"/time", "venue", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls (1 failure + 1 success), got %d", calls)
	}
}

func TestRequestWithRetryDoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	m := NewManager()
	defer m.CloseAll()
	m.Get("venue", &cfg, nil)

	resp, err := m.RequestWithRetry(context.Background(), "GET", srv.URL, "venue", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 passthrough, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call for 4xx, got %d", calls)
	}
}

func TestCleanupClosedRemovesDeadSessions(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	s, _ := m.Get("a", nil, nil)
	s.destroy()
	m.CleanupClosed()

	m.mu.Lock()
	_, ok := m.sessions["a"]
	m.mu.Unlock()
	if ok {
		t.Fatal("expected closed session to be evicted")
	}
}

func TestHealthZeroWhenClosed(t *testing.T) {
	m := NewManager()
	m.CloseAll()
	h := m.Health()
	if h.Score != 0 || h.Healthy {
		t.Fatalf("expected zero/unhealthy after close, got %+v", h)
	}
}
