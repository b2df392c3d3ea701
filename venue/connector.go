package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bjoelf/venue-gateway/gatewaylog"
	"github.com/bjoelf/venue-gateway/proxy"
	"github.com/bjoelf/venue-gateway/session"
	"github.com/bjoelf/venue-gateway/wsgateway"
)

// Connector is the per-venue facade over the Session Manager and
// WebSocket Manager. It owns a RateLimiter, a
// TimeSyncOffset, and a single WS wrapper; it holds non-owning
// references to the shared managers.
type Connector struct {
	cfg      Config
	sessions *session.Manager
	ws       *wsgateway.Manager

	limiter *RateLimiter
	offset  timeSyncOffset

	precisionAdjustments atomic.Int64
	timeSyncs            atomic.Int64
	consecutiveFailures  atomic.Int64
	failedLogins         atomic.Int64
	isAuthenticated      atomic.Bool
	requestsSent         atomic.Int64
	requestsSuccessful   atomic.Int64
	requestsFailed       atomic.Int64
	connectedAt          atomic.Int64
	connected            atomic.Bool

	wsMu     sync.Mutex
	wsConnID string
	dispatch map[string]wsgateway.Callback // stream -> handler
}

// NewConnector constructs a Connector over the shared Session Manager
// and WebSocket Manager.
func NewConnector(cfg Config, sessions *session.Manager, ws *wsgateway.Manager) *Connector {
	return &Connector{
		cfg:      cfg,
		sessions: sessions,
		ws:       ws,
		limiter:  NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		dispatch: make(map[string]wsgateway.Callback),
	}
}

// Initialize syncs server time, performs a lightweight reachability
// check, and marks the connector connected.
func (c *Connector) Initialize(ctx context.Context) error {
	c.SyncServerTime(ctx)
	if err := c.TestConnectivity(ctx); err != nil {
		return fmt.Errorf("venue %s: connectivity check failed: %w", c.cfg.Name, err)
	}
	c.connected.Store(true)
	c.connectedAt.Store(time.Now().UnixNano())
	return nil
}

type serverTimeBody struct {
	ServerTime int64 `json:"serverTime"`
}

// SyncServerTime calls the venue's server-time endpoint and stores the
// offset between local wall time and venue time. Failure is silent: the
// offset resets to 0.
func (c *Connector) SyncServerTime(ctx context.Context) {
	if c.cfg.Endpoints.ServerTime == "" {
		return
	}
	tSend := time.Now()
	resp, err := c.sessions.Request(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.Endpoints.ServerTime, c.cfg.Name, nil, nil)
	if err != nil {
		c.offset.set(0, tSend)
		return
	}
	defer resp.Body.Close()
	tRecv := time.Now()

	var body serverTimeBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ServerTime == 0 {
		c.offset.set(0, tRecv)
		return
	}

	mid := (tSend.UnixMilli() + tRecv.UnixMilli()) / 2
	c.offset.set(body.ServerTime-mid, tRecv)
	c.timeSyncs.Add(1)
}

// TestConnectivity GETs a known-cheap endpoint and raises on non-200.
func (c *Connector) TestConnectivity(ctx context.Context) error {
	path := c.cfg.Endpoints.ServerTime
	if path == "" {
		path = "/"
	}
	resp, err := c.sessions.Request(ctx, http.MethodGet, c.cfg.BaseURL+path, c.cfg.Name, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("venue %s: connectivity check returned %d", c.cfg.Name, resp.StatusCode)
	}
	return nil
}

// BackoffDelay computes the exponential backoff:
// min(300, 5*2^consecutive_failures) seconds, reset on any success.
func (c *Connector) BackoffDelay() time.Duration {
	n := c.consecutiveFailures.Load()
	if n <= 0 {
		return 0
	}
	secs := math.Min(300, 5*math.Pow(2, float64(n)))
	return time.Duration(secs * float64(time.Second))
}

type errorBody struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Request is the shared request path: rate-limit gate, prepare
// params, stamp+sign if signed, dispatch via the Session Manager,
// classify any HTTP>=400 body, and resync time on critical severity.
func (c *Connector) Request(ctx context.Context, method, endpoint string, params map[string]any, signed bool) (map[string]any, error) {
	if d := c.BackoffDelay(); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.limiter.Acquire()

	prepared := c.PrepareParams(params)
	if signed {
		if c.offset.stale(time.Now()) || !c.ValidateTimestamp(c.ServerTime()) {
			c.SyncServerTime(ctx)
		}
		prepared["timestamp"] = strconv.FormatInt(c.ServerTime(), 10)
		prepared["signature"] = Sign(c.cfg.APISecret, prepared)
	}

	rawURL := c.cfg.BaseURL + endpoint
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		q := url.Values{}
		for k, v := range prepared {
			q.Set(k, v)
		}
		if encoded := q.Encode(); encoded != "" {
			rawURL += "?" + encoded
		}
	} else {
		form := url.Values{}
		for k, v := range prepared {
			form.Set(k, v)
		}
		body = bytes.NewBufferString(form.Encode())
	}

	c.requestsSent.Add(1)
	resp, err := c.sessions.Request(ctx, method, rawURL, c.cfg.Name, nil, body)
	if err != nil {
		c.requestsFailed.Add(1)
		c.consecutiveFailures.Add(1)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.requestsFailed.Add(1)
		c.consecutiveFailures.Add(1)

		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		ve := ClassifyError(eb.Code, eb.Msg)
		if ve.Severity == SeverityCritical {
			c.SyncServerTime(ctx)
		}
		if ae, ok := AsAuthError(ve); ok {
			c.isAuthenticated.Store(false)
			return nil, ae
		}
		if rl, ok := AsRateLimited(ve); ok {
			return nil, rl
		}
		return nil, ve
	}

	c.requestsSuccessful.Add(1)
	c.consecutiveFailures.Store(0)

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("venue %s: decode response: %w", c.cfg.Name, err)
	}
	return out, nil
}

// ConnectWebSocket opens the connector's single WS wrapper under the id
// Name+"-ws", dialing the URL given in wsCfg.
func (c *Connector) ConnectWebSocket(ctx context.Context, wsCfg wsgateway.Config, proxyCfg proxy.Config) bool {
	c.wsMu.Lock()
	id := c.wsConnID
	if id == "" {
		id = c.cfg.Name + "-ws"
		c.wsConnID = id
	}
	c.wsMu.Unlock()

	ok := c.ws.OpenConnection(ctx, id, wsCfg, proxyCfg)
	if ok {
		gatewaylog.Named("venue").Info().Str("venue", c.cfg.Name).Msg("websocket connected")
	}
	return ok
}

// Subscribe registers handler against stream. Stream names are parsed per the combined-stream
// dialect; channel/arg venues should call the WS Manager's Subscribe
// directly with an explicit DataType instead.
func (c *Connector) Subscribe(stream string, handler wsgateway.Callback) bool {
	dt, symbol, ok := wsgateway.StreamDataType(stream)
	if !ok {
		return false
	}

	c.wsMu.Lock()
	c.dispatch[stream] = handler
	connID := c.wsConnID
	c.wsMu.Unlock()

	return c.ws.Subscribe(connID, dt, []string{symbol}, handler, c.cfg.Name, "")
}

// Unsubscribe removes stream's handler and symbol registration.
func (c *Connector) Unsubscribe(stream string) bool {
	dt, symbol, ok := wsgateway.StreamDataType(stream)
	if !ok {
		return false
	}
	c.wsMu.Lock()
	delete(c.dispatch, stream)
	connID := c.wsConnID
	c.wsMu.Unlock()

	return c.ws.Unsubscribe(connID, dt, []string{symbol}, c.cfg.Name, "")
}

// CloseWebSocket closes the connector's WS connection.
func (c *Connector) CloseWebSocket() {
	c.wsMu.Lock()
	id := c.wsConnID
	c.wsMu.Unlock()
	if id != "" {
		c.ws.CloseConnection(id)
	}
}

// GetTicker, GetOrderbook and GetTrades are thin venue-dispatched GETs
// using the venue's configured endpoints and parameter names.
func (c *Connector) GetTicker(ctx context.Context, symbol string) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, fmt.Sprintf(c.cfg.Endpoints.Ticker, symbol), map[string]any{"symbol": symbol}, false)
}

func (c *Connector) GetOrderbook(ctx context.Context, symbol string, limit int) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, fmt.Sprintf(c.cfg.Endpoints.Orderbook, symbol), map[string]any{"symbol": symbol, "limit": limit}, false)
}

func (c *Connector) GetTrades(ctx context.Context, symbol string, limit int) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, fmt.Sprintf(c.cfg.Endpoints.Trades, symbol), map[string]any{"symbol": symbol, "limit": limit}, false)
}

// Stats is the connector's runtime counters snapshot.
type Stats struct {
	UptimeSeconds        float64
	RequestsSent         int64
	RequestsSuccessful   int64
	RequestsFailed       int64
	SuccessRate          float64
	RequestsPerSecond    float64
	TimeSyncs            int64
	PrecisionAdjustments int64
	ConsecutiveFailures  int64
	FailedLogins         int64
	IsAuthenticated      bool
	WSConnected          bool
	SubscriptionCount    int
	ServerOffsetMs       int64
}

// Stats returns a snapshot suitable for operational dashboards.
func (c *Connector) Stats() Stats {
	sent := c.requestsSent.Load()
	ok := c.requestsSuccessful.Load()
	failed := c.requestsFailed.Load()

	uptime := 0.0
	if at := c.connectedAt.Load(); at != 0 {
		uptime = time.Since(time.Unix(0, at)).Seconds()
	}

	successRate := 0.0
	if sent > 0 {
		successRate = float64(ok) / float64(sent)
	}
	rps := 0.0
	if uptime > 0 {
		rps = float64(sent) / uptime
	}

	c.wsMu.Lock()
	subCount := len(c.dispatch)
	connID := c.wsConnID
	c.wsMu.Unlock()

	wsConnected := false
	if connID != "" {
		for _, info := range c.ws.NetworkStats().ConnectionInfo {
			if info.ID == connID {
				wsConnected = info.Connected
				break
			}
		}
	}

	return Stats{
		UptimeSeconds:        uptime,
		RequestsSent:         sent,
		RequestsSuccessful:   ok,
		RequestsFailed:       failed,
		SuccessRate:          successRate,
		RequestsPerSecond:    rps,
		TimeSyncs:            c.timeSyncs.Load(),
		PrecisionAdjustments: c.precisionAdjustments.Load(),
		ConsecutiveFailures:  c.consecutiveFailures.Load(),
		FailedLogins:         c.failedLogins.Load(),
		IsAuthenticated:      c.isAuthenticated.Load(),
		WSConnected:          wsConnected,
		SubscriptionCount:    subCount,
		ServerOffsetMs:       c.offset.get(),
	}
}
