// Command venue-gateway-demo wires the Session Manager, WebSocket Manager,
// Venue Connector, Flow Supervisor and Resource Governor into a single
// long-running process the way an operator would actually start one.
//
// It does not trade anything. It opens a combined-stream WebSocket
// connection against a venue, subscribes one symbol, and prints
// routed messages and health/resource summaries until Ctrl+C.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/google/uuid"

	"github.com/bjoelf/venue-gateway/flow"
	"github.com/bjoelf/venue-gateway/gatewaylog"
	"github.com/bjoelf/venue-gateway/governor"
	"github.com/bjoelf/venue-gateway/proxy"
	"github.com/bjoelf/venue-gateway/session"
	"github.com/bjoelf/venue-gateway/venue"
	"github.com/bjoelf/venue-gateway/wsgateway"
)

// managerReopener adapts a *wsgateway.Manager into a flow.Reopener by
// remembering the Config last used to open each (venue, market)
// connection, so a failed health check can redial without the
// Supervisor ever needing to know what a Config looks like.
type managerReopener struct {
	ws    *wsgateway.Manager
	proxy proxy.Config

	configs map[string]wsgateway.Config
}

func (r *managerReopener) Reopen(venue, market string, symbols []string) bool {
	cfg, ok := r.configs[venue+"|"+market]
	if !ok {
		return false
	}
	connID := wsgateway.NewConnectionID(venue + ":" + market)
	return r.ws.OpenConnection(context.Background(), connID, cfg, r.proxy)
}

func main() {
	log := gatewaylog.Named("main")

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug().Msgf(format, args...)
	})); err != nil {
		log.Warn().Err(err).Msg("failed to set GOMAXPROCS from cgroup limits")
	}

	venueName := flag.String("venue", "demo-venue", "venue name to label connections and logs with")
	wsURL := flag.String("ws-url", "wss://stream.example.invalid/ws", "combined-stream WebSocket endpoint")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to subscribe to")
	flag.Parse()

	runID := uuid.NewString()
	newLog := log.With().Str("run_id", runID).Logger()
	log = &newLog
	log.Info().Str("venue", *venueName).Msg("starting venue gateway demo")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.NewManager()
	defer sessions.CloseAll()

	ws := wsgateway.NewManager(sessions)
	defer ws.CloseAll()

	reopener := &managerReopener{ws: ws, configs: make(map[string]wsgateway.Config)}
	supervisor := flow.NewSupervisor(reopener)
	ws.SetSupervisor(supervisor)
	supervisor.Start(ctx)
	defer supervisor.Stop()

	const poolCapacity = 256
	pool := governor.NewConnectionPool[string](30*time.Minute, poolCapacity,
		func(string) bool { return false },
		func(string) {},
	)
	gov, err := governor.NewGovernor(pool.Len, func() int { return poolCapacity })
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct resource governor")
	}
	gov.Start(ctx, pool)
	defer gov.Stop()

	venueCfg := venue.Config{
		Name:              *venueName,
		BaseURL:           "https://api.example.invalid",
		WSURL:             *wsURL,
		PricePrecision:    2,
		QuantityPrecision: 6,
		RateLimitRequests: 1200,
		RateLimitWindow:   time.Minute,
		WSPingInterval:    30 * time.Second,
		WSPingTimeout:     10 * time.Second,
	}
	connector := venue.NewConnector(venueCfg, sessions, ws)
	if err := connector.Initialize(ctx); err != nil {
		log.Warn().Err(err).Msg("venue initialization failed, continuing with defaults")
	}

	wsCfg := wsgateway.DefaultConfig()
	wsCfg.URL = *wsURL
	wsCfg.Venue = *venueName
	wsCfg.Market = "spot"
	wsCfg.Dialect = wsgateway.DialectCombinedStream
	reopener.configs[wsCfg.Venue+"|"+wsCfg.Market] = wsCfg

	if !connector.ConnectWebSocket(ctx, wsCfg, proxy.Config{}) {
		log.Fatal().Msg("failed to open venue WebSocket connection")
	}
	defer connector.CloseWebSocket()

	subKey := supervisor.Register(*venueName, "spot", []string{*symbol}, 10*time.Second)
	supervisor.MarkActive(subKey, "conn-0")

	routed := make(chan wsgateway.ParsedMessage, 64)
	connector.Subscribe(*symbol+"@depth", func(pm wsgateway.ParsedMessage) {
		supervisor.RecordUpdate(*venueName, "spot", pm.Symbol)
		select {
		case routed <- pm:
		default:
		}
	})

	log.Info().Str("symbol", *symbol).Msg("subscribed, waiting for routed messages")

	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received, draining")
			return
		case pm := <-routed:
			log.Debug().
				Str("symbol", pm.Symbol).
				Str("data_type", string(pm.DataType)).
				Msg("routed message")
		case <-statusTicker.C:
			netStats := ws.NetworkStats()
			report := supervisor.Report()
			samples := gov.Samples()
			var rssMB float64
			if n := len(samples); n > 0 {
				rssMB = float64(samples[n-1].Memory.RSSBytes) / (1 << 20)
			}
			log.Info().
				Int64("routed", netStats.Counters.RoutedMessages).
				Int64("duplicates", netStats.Counters.DuplicateMessages).
				Int("subscriptions", len(report.Subscriptions)).
				Float64("memory_mb", rssMB).
				Msg("status")
		}
	}
}
