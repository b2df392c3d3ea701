package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bjoelf/venue-gateway/proxy"
	"github.com/bjoelf/venue-gateway/wsgateway"
)

// newTestWSWrapper stands up a throwaway WebSocket server that records
// the frames it receives (without echoing them) and dials
// it through the real Manager.Open path so the wrapper under test is the
// genuine article.
func newTestWSWrapper(t *testing.T) (*wsgateway.Wrapper, chan string, func()) {
	t.Helper()
	received := make(chan string, 8)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
	}))

	cfg := wsgateway.DefaultConfig()
	cfg.URL = "ws" + srv.URL[len("http"):]
	cfg.AutoReconnect = false

	mgr := wsgateway.NewManager(nil)
	w, ok := mgr.Open(context.Background(), cfg, proxy.Config{})
	if !ok {
		t.Fatal("expected test server dial to succeed")
	}
	return w, received, func() {
		w.Close()
		srv.Close()
	}
}

func TestStartStructuredKeepAliveSendsPayloadOnInterval(t *testing.T) {
	w, received, cleanup := newTestWSWrapper(t)
	defer cleanup()

	c := newTestConnector(t, "http://example.invalid")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.StartStructuredKeepAlive(ctx, w, 20*time.Millisecond, `{"op":"ping"}`)

	select {
	case msg := <-received:
		if msg != `{"op":"ping"}` {
			t.Fatalf("expected keep-alive payload, got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for structured keep-alive frame")
	}
}

func TestStartStructuredKeepAliveNoopOnNonPositiveInterval(t *testing.T) {
	w, received, cleanup := newTestWSWrapper(t)
	defer cleanup()

	c := newTestConnector(t, "http://example.invalid")
	c.StartStructuredKeepAlive(context.Background(), w, 0, `{"op":"ping"}`)

	select {
	case msg := <-received:
		t.Fatalf("expected no keep-alive frame for a non-positive interval, got %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
