package wsgateway

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/bjoelf/venue-gateway/gatewaylog"
)

var errDialFailed = errors.New("wsgateway: dial attempt failed")

// reactiveSupervisor is the per-connection watchdog:
// every reactiveCheckInterval it checks liveness and, once a connection
// has gone unhealthy, drives the backoff reconnect ladder.
func (m *Manager) reactiveSupervisor(c *connection) {
	ticker := time.NewTicker(reactiveCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.cfg.AutoReconnect {
				continue
			}
			w := c.getWrapper()
			stale := time.Since(c.lastMessage()) > unhealthyAfter
			// Past the hard lifetime the venue will cut us off anyway;
			// without a proactive loop the reactive ladder redials first.
			expired := c.cfg.HardLifetime > 0 && time.Since(c.openedSince()) >= c.cfg.HardLifetime
			if w == nil || w.Closed() || stale || expired {
				m.triggerReactiveReconnect(c)
			}
		}
	}
}

// triggerReactiveReconnect runs the exponential backoff ladder:
// delay_n = min(initial*backoff^n, max), capped at
// MaxReconnectAttempts attempts unless unbounded (-1). RandomizationFactor
// is held at zero so the ladder matches the formula exactly rather than
// backoff's default jittered variant.
func (m *Manager) triggerReactiveReconnect(c *connection) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	logger := gatewaylog.Named("wsgateway").With().Str("conn", c.id).Str("venue", c.venue).Logger()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialReconnectDelay
	b.MaxInterval = c.cfg.MaxReconnectDelay
	b.Multiplier = c.cfg.ReconnectBackoff
	b.RandomizationFactor = 0

	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if c.cfg.MaxReconnectAttempts >= 0 {
		opts = append(opts, backoff.WithMaxTries(uint(c.cfg.MaxReconnectAttempts)))
	}

	operation := func() (*Wrapper, error) {
		select {
		case <-c.ctx.Done():
			return nil, backoff.Permanent(c.ctx.Err())
		default:
		}
		w, ok := m.Open(c.ctx, c.cfg, c.proxyCfg)
		if !ok {
			return nil, errDialFailed
		}
		return w, nil
	}

	newWrapper, err := backoff.Retry(c.ctx, operation, opts...)
	if err != nil {
		atomic.AddInt64(&m.counters.ConnectionFailures, 1)
		logger.Error().Err(err).Msg("reconnect attempts exhausted")
		return
	}

	old := c.getWrapper()
	c.setWrapper(newWrapper)
	now := time.Now()
	c.openedAt.Store(now.UnixNano())
	c.touch(now)
	if old != nil {
		old.Close()
	}

	m.resubscribeAll(c, newWrapper)
	atomic.AddInt64(&m.counters.Reconnections, 1)
	go m.runPump(c, newWrapper)
	logger.Info().Msg("reactive reconnect succeeded")
}

// resubscribeAll replays every active Subscription over a freshly opened
// wrapper, pacing sends so a venue never sees a subscribe burst.
func (m *Manager) resubscribeAll(c *connection, w *Wrapper) {
	m.mu.Lock()
	enc := m.subscribeEncoder
	m.mu.Unlock()
	if enc == nil {
		return
	}
	for _, sub := range c.subscriptions() {
		if !sub.Active {
			continue
		}
		if err := enc(w, sub); err != nil {
			gatewaylog.Named("wsgateway").Warn().Err(err).
				Str("conn", c.id).Str("venue", sub.Venue).Msg("resubscribe failed")
		}
		time.Sleep(subscribePaceDelay)
	}
}

// proactiveSupervisor watches for approach of the venue's hard connection
// lifetime and, once ProactiveThreshold has elapsed since the connection
// was opened, drives a smooth handover ahead of the venue's own forced
// disconnect.
func (m *Manager) proactiveSupervisor(c *connection) {
	ticker := time.NewTicker(reactiveCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if time.Since(c.openedSince()) >= c.cfg.ProactiveThreshold {
				m.smoothHandover(c)
			}
		}
	}
}

// smoothHandover runs a proactive reconnect ahead of a venue-enforced cutoff: stash incoming
// messages, open a second connection alongside the first, resubscribe
// and let it settle, swap it in atomically, replay the stash through the
// new connection, then close the old one after a short drain window. Any
// failure before the swap leaves the original connection untouched and
// simply releases the stash back onto the live path.
func (m *Manager) smoothHandover(c *connection) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	logger := gatewaylog.Named("wsgateway").With().Str("conn", c.id).Str("venue", c.venue).Logger()
	c.stash.Start()

	dialCtx, cancel := context.WithTimeout(c.ctx, c.cfg.HandshakeTimeout+smoothSyncWindow+5*time.Second)
	tempWrapper, ok := m.Open(dialCtx, c.cfg, c.proxyCfg)
	cancel()
	if !ok {
		logger.Warn().Msg("smooth handover dial failed, falling back to reactive path")
		m.drainStash(c)
		return
	}

	m.resubscribeAll(c, tempWrapper)
	time.Sleep(smoothSyncWindow)

	old := c.getWrapper()
	c.setWrapper(tempWrapper)
	now := time.Now()
	c.openedAt.Store(now.UnixNano())
	c.touch(now)
	go m.runPump(c, tempWrapper)

	m.drainStash(c)

	time.Sleep(smoothDrainWindow)
	if old != nil {
		old.Close()
	}

	atomic.AddInt64(&m.counters.ProactiveReconnections, 1)
	atomic.AddInt64(&m.counters.SmoothReconnections, 1)
	logger.Info().Msg("smooth handover complete")
}

// drainStash stops the stash and replays whatever it collected through
// the normal delivery path, in order, on the connection's current wrapper.
func (m *Manager) drainStash(c *connection) {
	drained := c.stash.Stop(time.Now())
	for _, raw := range drained {
		m.deliver(c, raw, time.Now())
	}
}

// pingLoop sends periodic keepalive pings. Venues that speak
// application-level "ping"/"pong" text frames (rather than protocol
// control frames) get a text "ping"; everyone else gets a control ping,
// which gorilla's default pong handler answers without our involvement.
func (m *Manager) pingLoop(c *connection) {
	if c.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			w := c.getWrapper()
			if w == nil || w.Closed() {
				continue
			}
			var err error
			if venueRequiresStringPing(c.venue) {
				err = w.Send("ping")
			} else {
				err = w.Ping()
			}
			if err == nil {
				atomic.AddInt64(&m.counters.PingsSent, 1)
			}
		}
	}
}
