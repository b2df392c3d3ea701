package wsgateway

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bjoelf/venue-gateway/session"
)

// ErrClosed is returned by Send on an already-closed Wrapper.
var ErrClosed = errors.New("wsgateway: wrapper closed")

// transportKind tags which underlying transport a Wrapper uses, mirroring
// the two connection shapes a venue may need: a session-owned, proxy-aware
// transport ("aiohttp-style") and a standalone direct transport
// ("websockets-style"). Both are normalized behind the same interface.
type transportKind int

const (
	transportDirect transportKind = iota
	transportSessionOwned
)

// Wrapper is the uniform view over an underlying WebSocket transport.
// Close is idempotent. Send fails once closed.
// Iteration happens by draining Messages(); Errors() carries the single
// terminal error (remote close, local close, or transport error).
type Wrapper struct {
	conn          *websocket.Conn
	owningSession *session.Session // non-owning once released
	kind          transportKind
	venue         string
	pingTimeout   time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	sendMu    sync.Mutex

	msgCh chan string
	errCh chan error
}

// newWrapper wires the pong handler before the read pump starts so a
// protocol-level pong can never race the hook installation.
func newWrapper(conn *websocket.Conn, owning *session.Session, kind transportKind, venue string, pingTimeout time.Duration, onPong func()) *Wrapper {
	w := &Wrapper{
		conn:          conn,
		owningSession: owning,
		kind:          kind,
		venue:         venue,
		pingTimeout:   pingTimeout,
		msgCh:         make(chan string, 256),
		errCh:         make(chan error, 1),
	}
	if onPong != nil {
		conn.SetPongHandler(func(string) error {
			onPong()
			return nil
		})
	}
	go w.pump()
	return w
}

// pump reads frames off the socket. Binary frames are decoded as UTF-8
// text. Non-text/non-binary frames (already filtered by gorilla's ping/
// pong auto-handlers) never reach ReadMessage's return value, so the
// iterator only ever advances on real data or a terminal error.
func (w *Wrapper) pump() {
	defer close(w.msgCh)
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed.Store(true)
			select {
			case w.errCh <- err:
			default:
			}
			return
		}
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			w.msgCh <- string(data)
		default:
			// control frame; consumed, iterator advances without yielding.
		}
	}
}

// Messages returns the channel of decoded text frames. The channel is
// closed when iteration ends (remote close, local close, or error); check
// Errors() afterward for the terminal cause.
func (w *Wrapper) Messages() <-chan string { return w.msgCh }

// Errors carries the single terminal error, if any, once Messages()
// closes. A local Close also ends the read with an error, which is sent
// here.
func (w *Wrapper) Errors() <-chan error { return w.errCh }

// Send writes a text frame. It fails once the wrapper is closed.
func (w *Wrapper) Send(text string) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Ping writes a control-frame ping, bounded by the configured ping
// timeout. Venues that expect application-level "ping"/"pong" text
// frames instead should use Send directly.
func (w *Wrapper) Ping() error {
	if w.closed.Load() {
		return ErrClosed
	}
	timeout := w.pingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Closed reports the monotonic closed flag.
func (w *Wrapper) Closed() bool { return w.closed.Load() }

// Close is idempotent: it sends a close frame (best effort), closes the
// underlying connection, and releases any owning session reference.
// Errors during close are swallowed.
func (w *Wrapper) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = w.conn.Close()
		w.owningSession = nil
	})
	return nil
}
