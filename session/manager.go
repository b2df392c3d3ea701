package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/bjoelf/venue-gateway/gatewaylog"
	"github.com/bjoelf/venue-gateway/proxy"
)

// ErrClosed is returned by operations attempted on a closed Manager or
// Session.
var ErrClosed = errors.New("session: closed")

// Session is a named, reusable HTTP client plus the config it was built
// with. The Manager is its sole owner; callers never
// construct one directly.
type Session struct {
	name      string
	client    *http.Client
	retry     *retryablehttp.Client
	config    Config
	proxyCfg  proxy.Config
	createdAt time.Time
	lastUse   atomic.Int64 // unix nano
	closed    atomic.Bool
}

// Name returns the session's lookup name.
func (s *Session) Name() string { return s.name }

// Closed reports whether the session has been destroyed (by Close,
// Refresh, CloseAll or the idle cleanup).
func (s *Session) Closed() bool { return s.closed.Load() }

// CreatedAt returns the session's construction time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastUse returns the timestamp of the most recent request served.
func (s *Session) LastUse() time.Time { return time.Unix(0, s.lastUse.Load()) }

func (s *Session) touch() { s.lastUse.Store(time.Now().UnixNano()) }

func (s *Session) destroy() {
	if s.closed.CompareAndSwap(false, true) {
		s.client.CloseIdleConnections()
	}
}

// idleFor reports how long a session has sat unused.
func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.LastUse())
}

// Stats is the Manager's aggregate request counters.
type Stats struct {
	RequestsSent       int64
	RequestsSuccessful int64
	RequestsFailed     int64
	ProxyRequests      int64
	DirectRequests     int64
	SessionsOpen       int64
	SessionsClosed     int64
}

// Health is the numeric/boolean health surface reported by network_stats().
type Health struct {
	Healthy bool
	Score   int // 0-100
	Status  string
	Issues  []string
}

// Manager pools and reuses named HTTP sessions. It is the sole owner of
// the name -> *Session map.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	resolver *proxy.Resolver
	closed   bool

	stats Stats

	cleanupCancel context.CancelFunc
	cleanupDone   chan struct{}
}

// NewManager constructs an empty Manager. The periodic cleanup loop is
// not started here; it starts on the first Get whose config has
// AutoCleanupOn set.
func NewManager() *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		resolver: proxy.NewResolver(),
	}
	return m
}

// Get returns the existing open session for name, or constructs one using
// cfg/proxyCfg (which are authoritative only on first construction).
func (m *Manager) Get(name string, cfg *Config, proxyCfg *proxy.Config) (*Session, error) {
	logger := gatewaylog.Named("session")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("session manager: %w", ErrClosed)
	}
	if s, ok := m.sessions[name]; ok && !s.Closed() {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	effectiveCfg := DefaultConfig()
	if cfg != nil {
		effectiveCfg = *cfg
	}
	var effectiveProxy proxy.Config
	if proxyCfg != nil {
		effectiveProxy = *proxyCfg
	}

	sess, err := buildSession(name, effectiveCfg, effectiveProxy)
	if err != nil {
		return nil, fmt.Errorf("session manager: construct %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		sess.destroy()
		return nil, fmt.Errorf("session manager: %w", ErrClosed)
	}
	// Another goroutine may have raced us; prefer the existing open one.
	if existing, ok := m.sessions[name]; ok && !existing.Closed() {
		sess.destroy()
		return existing, nil
	}
	m.sessions[name] = sess
	if effectiveCfg.AutoCleanupOn && m.cleanupCancel == nil {
		m.startCleanupLocked(effectiveCfg.CleanupInterval)
	}
	logger.Info().Str("session", name).Msg("session created")
	return sess, nil
}

func buildSession(name string, cfg Config, proxyCfg proxy.Config) (*Session, error) {
	transport := &http.Transport{
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConns:          cfg.MaxConnsTotal,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
	}
	if !cfg.SSL.Verify {
		base := cfg.SSL.Context
		if base == nil {
			base = &tls.Config{}
		} else {
			base = base.Clone()
		}
		base.InsecureSkipVerify = true
		transport.TLSClientConfig = base
	} else if cfg.SSL.Context != nil {
		transport.TLSClientConfig = cfg.SSL.Context
	}

	if cfg.TrustEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	} else if genericURL := proxy.ToGenericURL(proxyCfg); genericURL != "" {
		proxyURL, err := url.Parse(genericURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.TotalTimeout,
	}

	retry := retryablehttp.NewClient()
	retry.HTTPClient = client
	retry.Logger = nil
	retry.RetryMax = cfg.RetryCount
	retry.RetryWaitMin = cfg.RetryBaseDelay
	retry.RetryWaitMax = maxDuration(cfg.RetryBaseDelay, time.Duration(float64(cfg.RetryBaseDelay)*math.Pow(cfg.RetryBackoff, float64(cfg.RetryCount))))
	retry.Backoff = exponentialBackoff(cfg.RetryBaseDelay, cfg.RetryBackoff)
	retry.CheckRetry = checkRetry

	s := &Session{
		name:      name,
		client:    client,
		retry:     retry,
		config:    cfg,
		proxyCfg:  proxyCfg,
		createdAt: time.Now(),
	}
	s.touch()
	return s, nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// exponentialBackoff implements retry_delay * backoff^attempt from
// our own fixed delay ladder, ignoring retryablehttp's own jittered formula.
func exponentialBackoff(base time.Duration, factor float64) retryablehttp.Backoff {
	return func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		d := time.Duration(float64(base) * math.Pow(factor, float64(attemptNum)))
		if d > max {
			return max
		}
		return d
	}
}

// checkRetry retries on transport error or HTTP >= 500; 4xx is never
// retried. Any 5xx response body is closed before retry
// happens automatically by retryablehttp once CheckRetry returns.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp != nil && resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// Request issues a single request (no retry) through the named session,
// applying proxyOverride instead of the session's own proxy if non-nil.
func (m *Manager) Request(ctx context.Context, method, rawURL, name string, proxyOverride *proxy.Config, body io.Reader) (*http.Response, error) {
	sess, err := m.sessionFor(name)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, sess.config)

	client := sess.client
	if proxyOverride != nil {
		transport := sess.client.Transport.(*http.Transport).Clone()
		if u := proxy.ToGenericURL(*proxyOverride); u != "" {
			if parsed, perr := url.Parse(u); perr == nil {
				transport.Proxy = http.ProxyURL(parsed)
			}
		}
		client = &http.Client{Transport: transport, Timeout: sess.client.Timeout}
	}

	sess.touch()
	atomic.AddInt64(&m.stats.RequestsSent, 1)
	if proxyOverride != nil && proxyOverride.HasAny() {
		atomic.AddInt64(&m.stats.ProxyRequests, 1)
	} else if sess.proxyCfg.HasAny() {
		atomic.AddInt64(&m.stats.ProxyRequests, 1)
	} else {
		atomic.AddInt64(&m.stats.DirectRequests, 1)
	}

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddInt64(&m.stats.RequestsFailed, 1)
		return nil, err
	}
	atomic.AddInt64(&m.stats.RequestsSuccessful, 1)
	return resp, nil
}

// RequestWithRetry retries on transport error or HTTP>=500 up to the
// session's configured RetryCount, sleeping RetryBaseDelay*backoff^n
// between attempts. 4xx responses are returned as-is,
// never retried.
func (m *Manager) RequestWithRetry(ctx context.Context, method, rawURL, name string, body []byte) (*http.Response, error) {
	sess, err := m.sessionFor(name)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	applyHeadersRetryable(req, sess.config)

	sess.touch()
	atomic.AddInt64(&m.stats.RequestsSent, 1)
	resp, err := sess.retry.Do(req)
	if err != nil {
		atomic.AddInt64(&m.stats.RequestsFailed, 1)
		return nil, err
	}
	if resp.StatusCode >= 500 {
		atomic.AddInt64(&m.stats.RequestsFailed, 1)
	} else {
		atomic.AddInt64(&m.stats.RequestsSuccessful, 1)
	}
	return resp, nil
}

func applyHeaders(req *http.Request, cfg Config) {
	for k, vv := range cfg.Headers {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	for _, c := range cfg.Cookies {
		req.AddCookie(c)
	}
}

func applyHeadersRetryable(req *retryablehttp.Request, cfg Config) {
	for k, vv := range cfg.Headers {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	for _, c := range cfg.Cookies {
		req.AddCookie(c)
	}
}

func (m *Manager) sessionFor(name string) (*Session, error) {
	m.mu.Lock()
	closed := m.closed
	s, ok := m.sessions[name]
	m.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("session manager: %w", ErrClosed)
	}
	if ok && !s.Closed() {
		return s, nil
	}
	return m.Get(name, nil, nil)
}

// Close destroys the named session, if present. Closing errors are
// swallowed with a warning; the observable effect is
// always "session gone".
func (m *Manager) Close(name string) {
	m.mu.Lock()
	s, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()
	if ok {
		s.destroy()
		atomic.AddInt64(&m.stats.SessionsClosed, 1)
	}
}

// Refresh closes the named session now; the next Get reconstructs it.
func (m *Manager) Refresh(name string) {
	m.Close(name)
}

// CloseAll closes every session and stops the cleanup loop. It completes
// within a bounded time even if individual closes misbehave, since
// Session.destroy never blocks.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.closed = true
	cancel := m.cleanupCancel
	m.cleanupCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-m.cleanupDone
	}
	for _, s := range sessions {
		s.destroy()
	}
}

// CleanupClosed removes any session whose underlying handle reports
// closed, without waiting for the periodic loop.
func (m *Manager) CleanupClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, s := range m.sessions {
		if s.Closed() {
			delete(m.sessions, name)
		}
	}
}

func (m *Manager) startCleanupLocked(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultConfig().CleanupInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cleanupCancel = cancel
	m.cleanupDone = make(chan struct{})
	go m.cleanupLoop(ctx, interval)
}

func (m *Manager) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer close(m.cleanupDone)
	logger := gatewaylog.Named("session")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for name, s := range m.sessions {
				if s.Closed() || (s.config.IdleTTL > 0 && s.idleFor(now) > s.config.IdleTTL) {
					delete(m.sessions, name)
					s.destroy()
					logger.Debug().Str("session", name).Msg("evicted by cleanup loop")
				}
			}
			m.mu.Unlock()
		}
	}
}

// Stats returns a snapshot of the manager's aggregate counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	open := int64(len(m.sessions))
	m.mu.Unlock()
	s := Stats{
		RequestsSent:       atomic.LoadInt64(&m.stats.RequestsSent),
		RequestsSuccessful: atomic.LoadInt64(&m.stats.RequestsSuccessful),
		RequestsFailed:     atomic.LoadInt64(&m.stats.RequestsFailed),
		ProxyRequests:      atomic.LoadInt64(&m.stats.ProxyRequests),
		DirectRequests:     atomic.LoadInt64(&m.stats.DirectRequests),
		SessionsOpen:       open,
		SessionsClosed:     atomic.LoadInt64(&m.stats.SessionsClosed),
	}
	return s
}

// Health derives a 0-100 score from success rate and the share of closed
// vs active sessions: <80 degraded, <50 unhealthy, 0 if
// the manager itself is closed.
func (m *Manager) Health() Health {
	m.mu.Lock()
	closed := m.closed
	open := len(m.sessions)
	m.mu.Unlock()

	if closed {
		return Health{Healthy: false, Score: 0, Status: "closed", Issues: []string{"manager closed"}}
	}

	st := m.Stats()
	score := 100
	var issues []string

	if st.RequestsSent > 0 {
		successRate := float64(st.RequestsSuccessful) / float64(st.RequestsSent)
		score = int(successRate * 100)
	}
	if st.SessionsClosed > 0 {
		total := st.SessionsClosed + int64(open)
		closedShare := float64(st.SessionsClosed) / float64(total)
		score -= int(closedShare * 30)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	status := "healthy"
	switch {
	case score < 50:
		status = "unhealthy"
		issues = append(issues, "success rate critically low")
	case score < 80:
		status = "degraded"
		issues = append(issues, "elevated failure or churn rate")
	}

	return Health{Healthy: score >= 50, Score: score, Status: status, Issues: issues}
}
