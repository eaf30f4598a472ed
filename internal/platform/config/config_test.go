package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.OTPExpiry != 5*time.Minute || cfg.IdempotencyTTL != 24*time.Hour || cfg.IdempotencyLease != 5*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.TrustedCIDRs) != 2 || cfg.TrustedCIDRs[1] != "::1/128" {
		t.Fatalf("unexpected trusted cidrs: %v", cfg.TrustedCIDRs)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := chdirTemp(t)
	yaml := "http_addr: \":9000\"\notp_expiry: 2m\ntrusted_cidrs:\n  - 10.0.0.0/8\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LEDGER_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("LEDGER_OTP_EXPIRY", "90s")
	t.Setenv("LEDGER_TRUSTED_CIDRS", "10.0.0.0/8, 192.168.0.0/16")
	t.Cleanup(func() { _ = os.Unsetenv("LEDGER_LOG_LEVEL") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("file value lost: %q", cfg.HTTPAddr)
	}
	if cfg.OTPExpiry != 90*time.Second {
		t.Fatalf("env should override file, got %s", cfg.OTPExpiry)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf(".env value not applied: %q", cfg.LogLevel)
	}
	if len(cfg.TrustedCIDRs) != 2 || cfg.TrustedCIDRs[1] != "192.168.0.0/16" {
		t.Fatalf("comma list not split: %v", cfg.TrustedCIDRs)
	}
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	chdirTemp(t)
	if _, err := Load("missing.yaml"); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidateStrict(t *testing.T) {
	base := Config{OTPExpiry: time.Minute, IdempotencyTTL: time.Hour, JWTSecret: DefaultJWTSecret}
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"non-strict allows dev defaults", func(c *Config) {}, false},
		{"strict requires database", func(c *Config) { c.Strict, c.TLSEnabled, c.JWTSecret = true, true, "prod" }, true},
		{"strict requires tls", func(c *Config) { c.Strict, c.DatabaseURL, c.JWTSecret = true, "postgres://x", "prod" }, true},
		{"strict rejects default secret", func(c *Config) { c.Strict, c.DatabaseURL, c.TLSEnabled = true, "postgres://x", true }, true},
		{"strict allows key list with default secret", func(c *Config) {
			c.Strict, c.DatabaseURL, c.TLSEnabled, c.JWTKeys = true, "postgres://x", true, "k1:rotated"
		}, false},
		{"bad fee rate", func(c *Config) { c.FeeRate = "1.5" }, true},
		{"zero otp expiry", func(c *Config) { c.OTPExpiry = 0 }, true},
		{"negative lease", func(c *Config) { c.IdempotencyLease = -time.Minute }, true},
		{"lease above ttl is capped by the guard", func(c *Config) { c.IdempotencyLease = 2 * time.Hour }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			if err := c.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestRatesFeeOverride(t *testing.T) {
	table, err := Config{FeeRate: "0.01"}.Rates()
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if table.FeeRate.String() != "0.01" {
		t.Fatalf("fee override not applied: %s", table.FeeRate)
	}
	if _, ok := table.Rate("USD", "EUR"); !ok {
		t.Fatalf("default rates missing")
	}
}

func TestKeysetFromInlineList(t *testing.T) {
	ks, err := Config{JWTKeys: "a:one,b:two", JWTActiveKID: "b"}.Keyset()
	if err != nil || ks.ActiveKID != "b" || len(ks.Keys) != 2 {
		t.Fatalf("keyset=%+v err=%v", ks, err)
	}
}
