package wsgateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bjoelf/venue-gateway/gatewaylog"
	"github.com/bjoelf/venue-gateway/proxy"
	"github.com/bjoelf/venue-gateway/session"
)

// FlowRecorder is the capability the Manager calls back into when a
// message routes or errors for a (venue, market, symbol) flow. The Flow
// Supervisor implements this; injecting it as an interface (rather than
// mutual ownership) avoids an import cycle between the two packages.
type FlowRecorder interface {
	RecordUpdate(venue, market, symbol string)
	RecordError(venue, market, symbol string)
}

// connection is the Manager's private per-connection state. The Manager
// is the sole owner of every connection, buffer and stash.
type connection struct {
	id       string
	venue    string
	cfg      Config
	proxyCfg proxy.Config

	wrapperMu sync.RWMutex
	wrapper   *Wrapper

	openedAt      atomic.Int64 // unix nano; reset each proactive cycle
	lastMessageAt atomic.Int64 // unix nano

	buffer *CircularBuffer
	stash  *ReconnectionStash

	subsMu sync.RWMutex
	subs   []*Subscription

	ctx    context.Context
	cancel context.CancelFunc

	reconnecting atomic.Bool
}

func (c *connection) touch(now time.Time) { c.lastMessageAt.Store(now.UnixNano()) }

func (c *connection) lastMessage() time.Time { return time.Unix(0, c.lastMessageAt.Load()) }

func (c *connection) openedSince() time.Time { return time.Unix(0, c.openedAt.Load()) }

func (c *connection) getWrapper() *Wrapper {
	c.wrapperMu.RLock()
	defer c.wrapperMu.RUnlock()
	return c.wrapper
}

func (c *connection) setWrapper(w *Wrapper) {
	c.wrapperMu.Lock()
	c.wrapper = w
	c.wrapperMu.Unlock()
}

func (c *connection) subscriptions() []*Subscription {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	out := make([]*Subscription, len(c.subs))
	copy(out, c.subs)
	return out
}

// Manager opens, wraps, multiplexes, monitors and reconnects WebSocket
// connections. It owns a single, process-wide Deduper.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*connection
	cache map[string]*Wrapper // "{venue}_{url}" -> wrapper, caller-managed reuse

	sessions *session.Manager // optional, used for session-owned dials
	resolver *proxy.Resolver
	dedup    *Deduper

	supervisor FlowRecorder // optional listener, injected capability

	// subscribeEncoder sends a venue-specific subscribe frame for one
	// Subscription over a freshly (re)established wrapper. Left nil, the
	// manager tracks Subscriptions but never wires their wire format,
	// which suits tests that drive delivery directly.
	subscribeEncoder func(*Wrapper, *Subscription) error

	counters Counters
	closed   bool
}

// SetSubscribeEncoder injects the venue's wire encoding for (re)sending
// subscribe frames after a connect or reconnect.
func (m *Manager) SetSubscribeEncoder(enc func(*Wrapper, *Subscription) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeEncoder = enc
}

// NewManager constructs a Manager. sessions may be nil if the caller
// never needs session-owned (proxy-tunneled) dials.
func NewManager(sessions *session.Manager) *Manager {
	return &Manager{
		conns:    make(map[string]*connection),
		cache:    make(map[string]*Wrapper),
		sessions: sessions,
		resolver: proxy.NewResolver(),
		dedup:    NewDeduper(),
	}
}

// SetSupervisor injects the Flow Supervisor capability.
func (m *Manager) SetSupervisor(s FlowRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supervisor = s
}

// Open implements the dial fallback order:
// proxy-aiohttp -> direct-websockets -> direct-aiohttp. It never returns
// an error; ok is false if every path failed.
func (m *Manager) Open(ctx context.Context, cfg Config, proxyCfg proxy.Config) (w *Wrapper, ok bool) {
	logger := gatewaylog.Named("wsgateway")

	if proxyCfg.HasAny() {
		if w, err := m.dialSessionOwned(ctx, cfg, proxyCfg); err == nil {
			return w, true
		} else {
			logger.Warn().Err(err).Str("venue", cfg.Venue).Msg("proxy dial failed, falling back")
		}
	}

	if w, err := m.dialDirect(ctx, cfg); err == nil {
		return w, true
	} else {
		logger.Warn().Err(err).Str("venue", cfg.Venue).Msg("direct dial failed, falling back")
	}

	if w, err := m.dialSessionOwned(ctx, cfg, proxy.Config{}); err == nil {
		return w, true
	} else {
		logger.Error().Err(err).Str("venue", cfg.Venue).Msg("all dial paths failed")
	}

	atomic.AddInt64(&m.counters.ConnectionFailures, 1)
	return nil, false
}

func (m *Manager) dialDirect(ctx context.Context, cfg Config) (*Wrapper, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     cfg.Subprotocols,
		ReadBufferSize:   int(cfg.MaxFrameSize),
		WriteBufferSize:  int(cfg.MaxFrameSize),
	}
	if !cfg.SSL.Effective(cfg.Venue) {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if cfg.SSL.Context != nil {
		dialer.TLSClientConfig = cfg.SSL.Context
	}

	header := http.Header{}
	for k, vv := range cfg.Headers {
		for _, v := range vv {
			header.Add(k, v)
		}
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, err
	}
	return newWrapper(conn, nil, transportDirect, cfg.Venue, cfg.PingTimeout, m.countPong), nil
}

func (m *Manager) dialSessionOwned(ctx context.Context, cfg Config, proxyCfg proxy.Config) (*Wrapper, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     cfg.Subprotocols,
	}
	if !cfg.SSL.Effective(cfg.Venue) {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if genericURL := proxy.ToGenericURL(proxyCfg); genericURL != "" {
		if parsed, err := url.Parse(genericURL); err == nil {
			dialer.Proxy = http.ProxyURL(parsed)
		}
	}

	var owning *session.Session
	if m.sessions != nil {
		sess, err := m.sessions.Get(cfg.Venue+"-ws", nil, &proxyCfg)
		if err == nil {
			owning = sess
		}
	}

	header := http.Header{}
	for k, vv := range cfg.Headers {
		for _, v := range vv {
			header.Add(k, v)
		}
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, err
	}
	return newWrapper(conn, owning, transportSessionOwned, cfg.Venue, cfg.PingTimeout, m.countPong), nil
}

// countPong is the pong hook installed on every dialed wrapper; it fires
// for protocol-level pong control frames. Application-level "pong" text
// frames are counted separately on the routing path.
func (m *Manager) countPong() {
	atomic.AddInt64(&m.counters.PongsReceived, 1)
}

// cacheKey is "{venue}_{url}". Duplicate opens under
// the same key do not auto-dedup; callers decide whether to reuse.
func cacheKey(venue, rawURL string) string { return venue + "_" + rawURL }

// OpenCached opens (or returns the cached) wrapper for (venue, url).
func (m *Manager) OpenCached(ctx context.Context, cfg Config, proxyCfg proxy.Config) (*Wrapper, bool) {
	key := cacheKey(cfg.Venue, cfg.URL)
	m.mu.Lock()
	if w, ok := m.cache[key]; ok && !w.Closed() {
		m.mu.Unlock()
		return w, true
	}
	m.mu.Unlock()

	w, ok := m.Open(ctx, cfg, proxyCfg)
	if !ok {
		return nil, false
	}
	m.mu.Lock()
	m.cache[key] = w
	m.mu.Unlock()
	return w, true
}

// OpenConnection opens a new connection and registers it under id,
// starting its routing pump, reactive supervisor and proactive handover
// loops. Returns false (no error raised) if the open itself failed.
func (m *Manager) OpenConnection(parent context.Context, id string, cfg Config, proxyCfg proxy.Config) bool {
	w, ok := m.Open(parent, cfg, proxyCfg)
	if !ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		id:       id,
		venue:    cfg.Venue,
		cfg:      cfg,
		proxyCfg: proxyCfg,
		buffer:   NewCircularBuffer(cfg.BufferSize),
		stash:    NewReconnectionStash(defaultStashRetention),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.setWrapper(w)
	now := time.Now()
	c.openedAt.Store(now.UnixNano())
	c.touch(now)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		w.Close()
		return false
	}
	m.conns[id] = c
	m.mu.Unlock()

	go m.runPump(c, w)
	go m.reactiveSupervisor(c)
	if cfg.AutoReconnect && cfg.DualConnectionEnabled {
		go m.proactiveSupervisor(c)
	}
	go m.pingLoop(c)

	gatewaylog.Named("wsgateway").Info().Str("conn", id).Str("venue", cfg.Venue).Msg("connection opened")
	return true
}

// Subscribe registers a Subscription on connID.
func (m *Manager) Subscribe(connID string, dataType DataType, symbols []string, cb Callback, venue, market string) bool {
	m.mu.Lock()
	c, ok := m.conns[connID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, s := range c.subs {
		if s.Venue == venue && s.Market == market && s.DataType == dataType {
			s.AddSymbols(symbols)
			s.Active = true
			s.ConnID = connID
			return true
		}
	}
	sub := NewSubscription(venue, market, dataType, symbols, cb)
	sub.Active = true
	sub.ConnID = connID
	c.subs = append(c.subs, sub)
	return true
}

// Unsubscribe removes symbols from a matching Subscription on connID. A
// Subscription left with no symbols is deactivated.
func (m *Manager) Unsubscribe(connID string, dataType DataType, symbols []string, venue, market string) bool {
	m.mu.Lock()
	c, ok := m.conns[connID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, s := range c.subs {
		if s.Venue == venue && s.Market == market && s.DataType == dataType {
			s.RemoveSymbols(symbols)
			if len(s.Symbols()) == 0 {
				s.Active = false
			}
			return true
		}
	}
	return false
}

// CloseConnection cancels both supervisor tasks, closes the wrapper
// (ignoring errors) and removes per-connection state. It is idempotent.
func (m *Manager) CloseConnection(id string) {
	m.mu.Lock()
	c, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	if w := c.getWrapper(); w != nil {
		w.Close()
	}
}

// CloseAll closes every connection, one after another, and then calls
// CloseAll on the attached session Manager, closing all of its sessions.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.closed = true
	m.mu.Unlock()

	for _, id := range ids {
		m.CloseConnection(id)
	}
	if m.sessions != nil {
		m.sessions.CloseAll()
	}
}

// NetworkStats is the "network_stats()" snapshot: overview counters,
// per-connection metadata, and the nested session-manager stats when one
// is attached.
type NetworkStats struct {
	Counters           Counters
	Connections        int
	ConnectionInfo     []ConnectionInfo
	DedupEntries       int
	Sessions           *session.Stats
	SupervisorAttached bool
}

// ConnectionInfo is per-connection metadata for operational surfaces.
type ConnectionInfo struct {
	ID        string
	Venue     string
	AgeSec    float64
	HasProxy  bool
	Connected bool
}

// NetworkStats returns a snapshot for monitoring dashboards.
func (m *Manager) NetworkStats() NetworkStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := make([]ConnectionInfo, 0, len(m.conns))
	now := time.Now()
	for id, c := range m.conns {
		w := c.getWrapper()
		info = append(info, ConnectionInfo{
			ID:        id,
			Venue:     c.venue,
			AgeSec:    now.Sub(c.openedSince()).Seconds(),
			HasProxy:  c.proxyCfg.HasAny(),
			Connected: w != nil && !w.Closed(),
		})
	}

	out := NetworkStats{
		Counters:           m.snapshotCounters(),
		Connections:        len(m.conns),
		ConnectionInfo:     info,
		DedupEntries:       m.dedup.Len(),
		SupervisorAttached: m.supervisor != nil,
	}
	if m.sessions != nil {
		stats := m.sessions.Stats()
		out.Sessions = &stats
	}
	return out
}

func (m *Manager) snapshotCounters() Counters {
	return Counters{
		Reconnections:          atomic.LoadInt64(&m.counters.Reconnections),
		ProactiveReconnections: atomic.LoadInt64(&m.counters.ProactiveReconnections),
		SmoothReconnections:    atomic.LoadInt64(&m.counters.SmoothReconnections),
		ConnectionFailures:     atomic.LoadInt64(&m.counters.ConnectionFailures),
		DuplicateMessages:      atomic.LoadInt64(&m.counters.DuplicateMessages),
		BufferedMessages:       atomic.LoadInt64(&m.counters.BufferedMessages),
		UnroutedMessages:       atomic.LoadInt64(&m.counters.UnroutedMessages),
		RoutedMessages:         atomic.LoadInt64(&m.counters.RoutedMessages),
		CallbackErrors:         atomic.LoadInt64(&m.counters.CallbackErrors),
		PingsSent:              atomic.LoadInt64(&m.counters.PingsSent),
		PongsReceived:          atomic.LoadInt64(&m.counters.PongsReceived),
	}
}

// NewConnectionID builds a unique connection id with a readable prefix,
// for callers that don't maintain their own id scheme.
func NewConnectionID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func venueRequiresStringPing(venue string) bool {
	switch strings.ToLower(venue) {
	case "venueb", "okx":
		return true
	default:
		return false
	}
}
