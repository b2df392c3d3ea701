package gatewaycfg

import "testing"

func TestDecodePopulatesKnownKeysCaseInsensitively(t *testing.T) {
	raw := map[string]any{
		"Name":                "binance",
		"base_url":            "https://api.example.invalid",
		"RATE_LIMIT_REQUESTS": 1200,
		"rate_limit_window":   60.0,
		"proxy": map[string]any{
			"http_proxy": "http://proxy.internal:8080",
		},
	}

	cfg, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if cfg.Name != "binance" {
		t.Fatalf("expected name binance, got %q", cfg.Name)
	}
	if cfg.RateLimitRequests != 1200 {
		t.Fatalf("expected rate limit requests 1200, got %d", cfg.RateLimitRequests)
	}
	if cfg.Proxy == nil || cfg.Proxy.HTTPProxy != "http://proxy.internal:8080" {
		t.Fatalf("expected nested proxy block decoded, got %+v", cfg.Proxy)
	}
}

func TestDecodeIgnoresUnknownKeys(t *testing.T) {
	raw := map[string]any{
		"name":                "okx",
		"totally_unknown_key": "should be ignored, not an error",
	}
	cfg, err := Decode(raw)
	if err != nil {
		t.Fatalf("expected unknown keys to be ignored, got error: %v", err)
	}
	if cfg.Name != "okx" {
		t.Fatalf("expected name okx, got %q", cfg.Name)
	}
}
