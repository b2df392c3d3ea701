// Package venue is the per-exchange facade over the Session Manager and
// WebSocket Manager: time-skew correction, rate-limit gating, precision
// and parameter normalization, request signing, and venue-specific error
// classification.
package venue

import "time"

// Config is the value-type configuration for one venue connector, built
// from an ExchangeConfig (gatewaycfg.ExchangeConfig) decode.
type Config struct {
	Name              string
	BaseURL           string
	WSURL             string
	APIKey            string
	APISecret         string
	Passphrase        string
	PricePrecision    int
	QuantityPrecision int
	RateLimitRequests int
	RateLimitWindow   time.Duration
	WSPingInterval    time.Duration
	WSPingTimeout     time.Duration
	DisableSSL        bool
	Endpoints         Endpoints
}

// Endpoints are the venue-dispatched REST paths used by the thin
// get_ticker/get_orderbook/get_trades helpers. Each is a
// fmt-style template taking the symbol as passed, except ServerTime
// which takes no argument.
type Endpoints struct {
	ServerTime string
	Ticker     string
	Orderbook  string
	Trades     string
}

// DefaultConfig fills in conservative implementation defaults left
// unconstrained for a bare ExchangeConfig.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		PricePrecision:    8,
		QuantityPrecision: 8,
		RateLimitRequests: 10,
		RateLimitWindow:   time.Second,
		WSPingInterval:    30 * time.Second,
		WSPingTimeout:     10 * time.Second,
	}
}

// precisionSensitiveKeys is the parameter set prepare_params normalizes.
var precisionSensitiveKeys = map[string]struct{}{
	"quantity":        {},
	"quoteOrderQty":   {},
	"icebergQty":      {},
	"limitIcebergQty": {},
	"stopIcebergQty":  {},
	"price":           {},
	"stopPrice":       {},
	"stopLimitPrice":  {},
}
