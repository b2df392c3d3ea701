// Package gatewaycfg decodes the loosely-typed configuration maps the
// ingest layer hands the gateway (exchange config blocks, nested proxy
// blocks, nested rest_api blocks) into the typed config structs the rest
// of the module consumes. It never loads files or parses flags — that
// remains the caller's responsibility.
package gatewaycfg

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ExchangeConfig mirrors the recognized per-exchange config keys. Unknown
// keys in the source map are silently ignored by mapstructure's default
// behavior (no ErrorUnused).
type ExchangeConfig struct {
	Name                  string   `mapstructure:"name"`
	BaseURL               string   `mapstructure:"base_url"`
	WSURL                 string   `mapstructure:"ws_url"`
	APIKey                string   `mapstructure:"api_key"`
	APISecret             string   `mapstructure:"api_secret"`
	Passphrase            string   `mapstructure:"passphrase"`
	PricePrecision        int      `mapstructure:"price_precision"`
	QuantityPrecision     int      `mapstructure:"quantity_precision"`
	RateLimitRequests     int      `mapstructure:"rate_limit_requests"`
	RateLimitWindow       float64  `mapstructure:"rate_limit_window"`
	HTTPProxy             string   `mapstructure:"http_proxy"`
	WSProxy               string   `mapstructure:"ws_proxy"`
	WSPingInterval        float64  `mapstructure:"ws_ping_interval"`
	WSPingTimeout         float64  `mapstructure:"ws_ping_timeout"`
	DisableSSLForExchange []string `mapstructure:"disable_ssl_for_exchanges"`

	Proxy   *ProxyBlock   `mapstructure:"proxy"`
	RestAPI *RestAPIBlock `mapstructure:"rest_api"`
}

// ProxyBlock is the nested "proxy" config block.
type ProxyBlock struct {
	HTTPProxy   string `mapstructure:"http_proxy"`
	HTTPSProxy  string `mapstructure:"https_proxy"`
	Socks4Proxy string `mapstructure:"socks4_proxy"`
	Socks5Proxy string `mapstructure:"socks5_proxy"`
	NoProxy     string `mapstructure:"no_proxy"`
}

// RestAPIBlock is the nested "rest_api" config block.
type RestAPIBlock struct {
	HTTPProxy  string `mapstructure:"http_proxy"`
	HTTPSProxy string `mapstructure:"https_proxy"`
}

// Decode converts a generic configuration map (e.g. parsed from YAML/JSON
// by the caller) into an ExchangeConfig. Keys are matched case-insensitively
// following mapstructure's default behavior; unrecognized keys are ignored.
func Decode(raw map[string]any) (ExchangeConfig, error) {
	var cfg ExchangeConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		MatchName: func(mapKey, fieldName string) bool {
			return strings.EqualFold(mapKey, fieldName)
		},
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, err
	}
	return cfg, nil
}
