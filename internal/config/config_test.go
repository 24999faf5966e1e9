package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("CRYPTO_SECRET_KEY", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.CryptoSecretKey != "" {
		t.Fatalf("expected empty CRYPTO_SECRET_KEY when unset, got %q", cfg.CryptoSecretKey)
	}
}

func TestLoadFallsBackOnBadDurations(t *testing.T) {
	t.Setenv("FISCAL_TIMEOUT_SECONDS", "junk")
	t.Setenv("LEDGER_CACHE_TTL_SECONDS", "-3")

	cfg := Load()
	if cfg.FiscalTimeoutSeconds != 20 {
		t.Fatalf("expected fiscal timeout fallback 20, got %d", cfg.FiscalTimeoutSeconds)
	}
	if cfg.ListCacheTTLSeconds != 30 {
		t.Fatalf("expected cache ttl fallback 30, got %d", cfg.ListCacheTTLSeconds)
	}
}
