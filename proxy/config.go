// Package proxy resolves the effective proxy configuration for a
// connection attempt from layered sources: exchange config, service
// config, process environment — highest precedence wins atomically,
// never merged field by field.
package proxy

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Config is an immutable, value-type proxy set. Construct it with New;
// do not mutate a Config's fields after construction — callers that need
// a different set build a new Config.
type Config struct {
	HTTPURL   string
	HTTPSURL  string
	Socks4URL string
	Socks5URL string
	Bypass    []string
	Enabled   bool
}

// Equal reports whether two Configs describe the same effective proxy
// set, used by resolver tests to check determinism.
func (c Config) Equal(o Config) bool {
	if c.HTTPURL != o.HTTPURL || c.HTTPSURL != o.HTTPSURL ||
		c.Socks4URL != o.Socks4URL || c.Socks5URL != o.Socks5URL ||
		c.Enabled != o.Enabled || len(c.Bypass) != len(o.Bypass) {
		return false
	}
	for i := range c.Bypass {
		if c.Bypass[i] != o.Bypass[i] {
			return false
		}
	}
	return true
}

// EffectiveHTTPURL returns the HTTPS proxy URL if set, else the HTTP one.
func (c Config) EffectiveHTTPURL() string {
	if c.HTTPSURL != "" {
		return c.HTTPSURL
	}
	return c.HTTPURL
}

// EffectiveSocksURL returns the SOCKS5 proxy URL if set, else SOCKS4.
func (c Config) EffectiveSocksURL() string {
	if c.Socks5URL != "" {
		return c.Socks5URL
	}
	return c.Socks4URL
}

// UnifiedURL returns a single URL for a generic connector that only
// understands one proxy: HTTP family preferred over SOCKS family.
func (c Config) UnifiedURL() string {
	if u := c.EffectiveHTTPURL(); u != "" {
		return u
	}
	return c.EffectiveSocksURL()
}

// HasAny reports whether any proxy URL is configured.
func (c Config) HasAny() bool {
	return c.HTTPURL != "" || c.HTTPSURL != "" || c.Socks4URL != "" || c.Socks5URL != ""
}

var allowedSchemes = map[string]bool{
	"http": true, "https": true, "socks4": true, "socks5": true,
}

// Validate reports whether a proxy URL string has a recognized scheme,
// a host, and a port in range. It never performs a network probe.
func Validate(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !allowedSchemes[strings.ToLower(u.Scheme)] {
		return false
	}
	if u.Hostname() == "" {
		return false
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return false
		}
	}
	return true
}

// ShouldBypass reports whether rawURL's host is in (or a dot-suffix
// child of) the bypass list.
func ShouldBypass(rawURL string, cfg Config) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, entry := range cfg.Bypass {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		if host == e || strings.HasSuffix(host, "."+e) {
			return true
		}
	}
	return false
}

// fingerprint produces a stable cache key for a Config's source fields.
func fingerprint(httpURL, httpsURL, socks4, socks5, noProxy string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", httpURL, httpsURL, socks4, socks5, noProxy)
}
