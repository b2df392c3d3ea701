// Package session provides the unified HTTP session manager: pooled,
// named http.Client instances with proxy application, retry-with-backoff,
// lifecycle tracking and TTL-based auto-cleanup.
package session

import (
	"crypto/tls"
	"net/http"
	"time"
)

// SSLPolicy controls certificate verification for a session's transport.
type SSLPolicy struct {
	Verify  bool
	Context *tls.Config // optional; used as a base when Verify is true
}

// Config is the value-type configuration for a Session. The config
// supplied on the first Get call for a given name is authoritative;
// later calls for the same name ignore re-supplied config unless the
// session is explicitly refreshed.
type Config struct {
	TotalTimeout     time.Duration
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	MaxConnsPerHost  int
	MaxConnsTotal    int
	KeepAlive        time.Duration
	RetryCount       int
	RetryBaseDelay   time.Duration
	RetryBackoff     float64
	SSL              SSLPolicy
	Headers          http.Header
	Cookies          []*http.Cookie
	TrustEnvironment bool
	CleanupInterval  time.Duration
	AutoCleanupOn    bool
	IdleTTL          time.Duration
}

// DefaultConfig mirrors conservative defaults seen across the corpus's
// long-lived HTTP clients: short connect timeout, generous read timeout,
// bounded retries with exponential backoff.
func DefaultConfig() Config {
	return Config{
		TotalTimeout:     30 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReadTimeout:      20 * time.Second,
		MaxConnsPerHost:  32,
		MaxConnsTotal:    256,
		KeepAlive:        30 * time.Second,
		RetryCount:       3,
		RetryBaseDelay:   200 * time.Millisecond,
		RetryBackoff:     2.0,
		SSL:              SSLPolicy{Verify: true},
		TrustEnvironment: false,
		CleanupInterval:  60 * time.Second,
		AutoCleanupOn:    true,
		IdleTTL:          10 * time.Minute,
	}
}
