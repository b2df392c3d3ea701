package wsgateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bjoelf/venue-gateway/proxy"
)

// newTestWSServer stands in for a venue's WebSocket endpoint: an
// httptest.Server upgraded with gorilla's Upgrader, pushing whatever
// frames the test hands it down send.
func newTestWSServer(t *testing.T, send <-chan string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for msg := range send {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	return srv
}

func wsURL(t *testing.T, httpURL string) string {
	t.Helper()
	return "ws" + httpURL[len("http"):]
}

func TestManagerOpenConnectionRoutesToMatchingSubscription(t *testing.T) {
	send := make(chan string, 4)
	srv := newTestWSServer(t, send)
	defer srv.Close()

	m := NewManager(nil)
	defer m.CloseAll()

	cfg := DefaultConfig()
	cfg.URL = wsURL(t, srv.URL)
	cfg.Venue = "venueA"
	cfg.Market = "spot"
	cfg.Dialect = DialectCombinedStream
	cfg.AutoReconnect = false
	cfg.DualConnectionEnabled = false

	ok := m.OpenConnection(context.Background(), "conn-1", cfg, proxy.Config{})
	if !ok {
		t.Fatal("expected OpenConnection to succeed against a live test server")
	}

	var mu sync.Mutex
	var received []ParsedMessage
	done := make(chan struct{}, 1)
	cb := func(pm ParsedMessage) {
		mu.Lock()
		received = append(received, pm)
		n := len(received)
		mu.Unlock()
		if n == 1 {
			done <- struct{}{}
		}
	}

	if ok := m.Subscribe("conn-1", DataOrderbook, []string{"BTCUSDT"}, cb, "venueA", "spot"); !ok {
		t.Fatal("expected Subscribe against an open connection to succeed")
	}

	send <- `{"stream":"btcusdt@depth","data":{"e":"depthUpdate","E":1,"s":"BTCUSDT"}}`

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed message")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected exactly one routed message, got %d", len(received))
	}
	if received[0].Symbol != "BTCUSDT" || received[0].DataType != DataOrderbook {
		t.Fatalf("unexpected parsed message: %+v", received[0])
	}

	stats := m.NetworkStats()
	if stats.Counters.RoutedMessages != 1 {
		t.Fatalf("expected RoutedMessages counter of 1, got %d", stats.Counters.RoutedMessages)
	}
	close(send)
}

func TestManagerDedupsRepeatedMessage(t *testing.T) {
	send := make(chan string, 4)
	srv := newTestWSServer(t, send)
	defer srv.Close()

	m := NewManager(nil)
	defer m.CloseAll()

	cfg := DefaultConfig()
	cfg.URL = wsURL(t, srv.URL)
	cfg.Venue = "venueA"
	cfg.Dialect = DialectCombinedStream
	cfg.AutoReconnect = false
	cfg.DualConnectionEnabled = false

	if ok := m.OpenConnection(context.Background(), "conn-2", cfg, proxy.Config{}); !ok {
		t.Fatal("expected OpenConnection to succeed")
	}

	var count atomic.Int64
	cb := func(ParsedMessage) { count.Add(1) }
	m.Subscribe("conn-2", DataTrade, []string{"ETHUSDT"}, cb, "venueA", "")

	msg := `{"stream":"ethusdt@trade","data":{"E":1,"T":1,"s":"ETHUSDT"}}`
	send <- msg
	send <- msg
	time.Sleep(200 * time.Millisecond)
	close(send)
	time.Sleep(100 * time.Millisecond)

	stats := m.NetworkStats()
	if stats.Counters.DuplicateMessages < 1 {
		t.Fatalf("expected the repeated message to be counted as a duplicate, got counters %+v", stats.Counters)
	}
}

func TestManagerUnsubscribeStopsRouting(t *testing.T) {
	m := NewManager(nil)
	defer m.CloseAll()

	send := make(chan string, 4)
	srv := newTestWSServer(t, send)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(t, srv.URL)
	cfg.Venue = "venueA"
	cfg.Dialect = DialectCombinedStream
	cfg.AutoReconnect = false
	cfg.DualConnectionEnabled = false

	m.OpenConnection(context.Background(), "conn-3", cfg, proxy.Config{})

	var count atomic.Int64
	m.Subscribe("conn-3", DataTrade, []string{"BTCUSDT"}, func(ParsedMessage) { count.Add(1) }, "venueA", "")
	m.Unsubscribe("conn-3", DataTrade, []string{"BTCUSDT"}, "venueA", "")

	send <- `{"stream":"btcusdt@trade","data":{"E":1,"T":2}}`
	time.Sleep(200 * time.Millisecond)
	close(send)

	if got := count.Load(); got != 0 {
		t.Fatalf("expected no routing after unsubscribe, got %d callbacks", got)
	}
}

func TestManagerCloseConnectionIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	send := make(chan string)
	srv := newTestWSServer(t, send)
	defer srv.Close()
	defer close(send)

	cfg := DefaultConfig()
	cfg.URL = wsURL(t, srv.URL)
	cfg.AutoReconnect = false
	cfg.DualConnectionEnabled = false

	m.OpenConnection(context.Background(), "conn-4", cfg, proxy.Config{})
	m.CloseConnection("conn-4")
	m.CloseConnection("conn-4") // must not panic the second time
}

// TestStashQueuesAndDrainReplaysInOrder exercises the smooth-handover
// message path without the timed handover itself: live messages route
// immediately, messages arriving while the stash is active are queued,
// and draining replays them through the normal delivery path in arrival
// order with no duplicates reaching the callback.
func TestStashQueuesAndDrainReplaysInOrder(t *testing.T) {
	m := NewManager(nil)
	c := &connection{
		id:     "conn-stash",
		venue:  "venueA",
		cfg:    Config{Dialect: DialectCombinedStream, Market: "spot"},
		buffer: NewCircularBuffer(16),
		stash:  NewReconnectionStash(30 * time.Second),
	}

	var got []string
	c.subs = []*Subscription{NewSubscription("venueA", "spot", DataTrade, []string{"BTCUSDT"}, func(pm ParsedMessage) {
		got = append(got, pm.Payload["T"].(string))
	})}
	c.subs[0].Active = true

	msg := func(i int) string {
		return `{"stream":"btcusdt@trade","data":{"E":"` + string(rune('0'+i)) + `","T":"` + string(rune('0'+i)) + `"}}`
	}

	now := time.Now()
	for i := 1; i <= 3; i++ {
		m.route(c, msg(i), now)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 live messages routed, got %d", len(got))
	}

	c.stash.Start()
	for i := 4; i <= 8; i++ {
		m.route(c, msg(i), now)
	}
	if len(got) != 3 {
		t.Fatalf("expected stashed messages not to route, got %d callbacks", len(got))
	}

	m.drainStash(c)
	if len(got) != 8 {
		t.Fatalf("expected all 8 messages after drain, got %d", len(got))
	}
	for i, want := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		if got[i] != want {
			t.Fatalf("got[%d] = %q, want %q (order broken: %v)", i, got[i], want, got)
		}
	}

	stats := m.NetworkStats()
	if stats.Counters.DuplicateMessages != 0 {
		t.Fatalf("distinct dedup keys must not be dropped as duplicates, counters %+v", stats.Counters)
	}
}
