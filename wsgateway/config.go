// Package wsgateway is the WebSocket connection manager: it opens, wraps,
// multiplexes, monitors and reconnects WebSocket connections, including
// deduplication, reconnect-window buffering and proactive smooth
// handover ahead of venue-enforced disconnects.
package wsgateway

import (
	"crypto/tls"
	"net/http"
	"time"
)

// SSLPolicy controls certificate verification for a WS dial, with a
// per-venue override list for venues that must disable verification
// when dialed through a proxy.
type SSLPolicy struct {
	Verify         bool
	Context        *tls.Config
	VenueOverrides map[string]bool // venue name -> force verification off
}

// Effective resolves whether verification should be on for a given venue.
func (p SSLPolicy) Effective(venue string) bool {
	if off, ok := p.VenueOverrides[venue]; ok && off {
		return false
	}
	return p.Verify
}

// Config is the value-type configuration for one logical WS connection.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	SSL              SSLPolicy
	PingInterval     time.Duration
	PingTimeout      time.Duration
	MaxFrameSize     int64
	Headers          http.Header
	Subprotocols     []string
	Venue            string
	Market           string
	Dialect          Dialect

	AutoReconnect         bool
	MaxReconnectAttempts  int // -1 = unbounded
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	ReconnectBackoff      float64

	HardLifetime          time.Duration // default ~24h
	ProactiveThreshold    time.Duration // default ~23h55m
	DualConnectionEnabled bool
	BufferSize            int
}

// DefaultConfig returns conservative operational defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:      10 * time.Second,
		SSL:                   SSLPolicy{Verify: true},
		PingInterval:          30 * time.Second,
		PingTimeout:           10 * time.Second,
		MaxFrameSize:          1 << 20,
		AutoReconnect:         true,
		MaxReconnectAttempts:  -1,
		InitialReconnectDelay: time.Second,
		MaxReconnectDelay:     time.Minute,
		ReconnectBackoff:      2.0,
		HardLifetime:          24 * time.Hour,
		ProactiveThreshold:    23*time.Hour + 55*time.Minute,
		DualConnectionEnabled: true,
		BufferSize:            500,
	}
}

// reactiveCheckInterval and unhealthyAfter are implementation-defined,
// not user-configurable.
const (
	reactiveCheckInterval = 30 * time.Second
	unhealthyAfter        = 5 * time.Minute
	smoothSyncWindow      = 2 * time.Second
	smoothDrainWindow     = 1 * time.Second
	subscribePaceDelay    = 100 * time.Millisecond
	dedupWindow           = 5 * time.Second
	dedupPurgeEvery       = 200 // probes between amortized cleanup sweeps
	dedupMaxAge           = 60 * time.Second
	defaultStashRetention = 30 * time.Second
)
