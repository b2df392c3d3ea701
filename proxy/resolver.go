package proxy

import (
	"os"
	"strings"
	"sync"

	"github.com/bjoelf/venue-gateway/gatewaylog"
)

// Block is a layer's view of proxy settings — exchange-scoped or
// service-scoped config blocks both satisfy this shape.
type Block struct {
	HTTPProxy   string
	HTTPSProxy  string
	Socks4Proxy string
	Socks5Proxy string
	NoProxy     string
}

// isZero reports whether a Block defines no field at all. The first
// source that defines any field wins atomically; layers are never
// merged together.
func (b Block) isZero() bool {
	return b.HTTPProxy == "" && b.HTTPSProxy == "" && b.Socks4Proxy == "" &&
		b.Socks5Proxy == "" && b.NoProxy == ""
}

func (b Block) toConfig() Config {
	return Config{
		HTTPURL:   b.HTTPProxy,
		HTTPSURL:  b.HTTPSProxy,
		Socks4URL: b.Socks4Proxy,
		Socks5URL: b.Socks5Proxy,
		Bypass:    splitBypass(b.NoProxy),
		Enabled:   true,
	}
}

func splitBypass(noProxy string) []string {
	if noProxy == "" {
		return nil
	}
	parts := strings.Split(noProxy, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolver resolves an effective Config from layered sources and caches
// the result by a fingerprint of the winning layer's contents. The cache
// is purely a hot-path optimization and can be dropped with ClearCache
// at any time without changing observable behavior.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]Config
}

// NewResolver constructs a Resolver with an empty cache.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]Config)}
}

// Resolve implements the resolution precedence: exchange block beats
// service block beats process environment. A nil block is treated as
// absent. The env layer is read fresh each call (case-insensitively)
// and its values form the cache key, so environment changes are
// observed on the next call.
func (r *Resolver) Resolve(exchange, service *Block) Config {
	logger := gatewaylog.Named("proxy")

	if exchange != nil && !exchange.isZero() {
		key := "ex:" + fingerprintBlock(*exchange)
		if cfg, ok := r.lookup(key); ok {
			return cfg
		}
		cfg := exchange.toConfig()
		r.store(key, cfg)
		logger.Debug().Str("source", "exchange").Msg("proxy resolved")
		return cfg
	}

	if service != nil && !service.isZero() {
		key := "svc:" + fingerprintBlock(*service)
		if cfg, ok := r.lookup(key); ok {
			return cfg
		}
		cfg := service.toConfig()
		r.store(key, cfg)
		logger.Debug().Str("source", "service").Msg("proxy resolved")
		return cfg
	}

	env := envBlock()
	key := "env:" + fingerprintBlock(env)
	if cfg, ok := r.lookup(key); ok {
		return cfg
	}
	cfg := env.toConfig()
	cfg.Enabled = cfg.HasAny()
	r.store(key, cfg)
	logger.Debug().Str("source", "environment").Msg("proxy resolved")
	return cfg
}

func (r *Resolver) lookup(key string) (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.cache[key]
	return cfg, ok
}

func (r *Resolver) store(key string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cfg
}

// ClearCache invalidates all cached resolutions, e.g. on reconfiguration.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]Config)
}

func fingerprintBlock(b Block) string {
	return fingerprint(b.HTTPProxy, b.HTTPSProxy, b.Socks4Proxy, b.Socks5Proxy, b.NoProxy)
}

// envBlock reads http_proxy/https_proxy/socks4_proxy/socks5_proxy/no_proxy
// case-insensitively from the process environment.
func envBlock() Block {
	return Block{
		HTTPProxy:   firstEnv("http_proxy", "HTTP_PROXY"),
		HTTPSProxy:  firstEnv("https_proxy", "HTTPS_PROXY"),
		Socks4Proxy: firstEnv("socks4_proxy", "SOCKS4_PROXY"),
		Socks5Proxy: firstEnv("socks5_proxy", "SOCKS5_PROXY"),
		NoProxy:     firstEnv("no_proxy", "NO_PROXY"),
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// ToGenericURL returns the single proxy URL a generic (non-library-aware)
// connector should use, or "" if none is configured.
func ToGenericURL(cfg Config) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.UnifiedURL()
}
