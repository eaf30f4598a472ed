// Package config loads service settings from defaults, an optional YAML
// file, a .env file and LEDGER_* environment variables, in rising priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/money"
)

const (
	EnvPrefix        = "LEDGER"
	DefaultJWTSecret = "dev-insecure-change-me"
)

type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	GRPCAddr    string `mapstructure:"grpc_addr"`
	DatabaseURL string `mapstructure:"database_url"`
	Version     string `mapstructure:"version"`
	Strict      bool   `mapstructure:"strict"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	OTPExpiry                  time.Duration `mapstructure:"otp_expiry"`
	IdempotencyTTL             time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencyLease           time.Duration `mapstructure:"idempotency_lease"`
	IdempotencyCleanupInterval time.Duration `mapstructure:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatch    int           `mapstructure:"idempotency_cleanup_batch"`
	ReaperInterval             time.Duration `mapstructure:"reaper_interval"`
	ReaperGrace                time.Duration `mapstructure:"reaper_grace"`
	ReaperBatch                int           `mapstructure:"reaper_batch"`
	NotifyInterval             time.Duration `mapstructure:"notify_interval"`
	NotifyQueueSize            int           `mapstructure:"notify_queue_size"`

	FeeRate   string `mapstructure:"fee_rate"`
	RatesFile string `mapstructure:"rates_file"`

	JWTSecret     string `mapstructure:"jwt_secret"`
	JWTKeys       string `mapstructure:"jwt_keys"`
	JWTActiveKID  string `mapstructure:"jwt_active_kid"`
	JWTKeysetFile string `mapstructure:"jwt_keyset_file"`

	TrustedCIDRs []string `mapstructure:"trusted_cidrs"`

	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`

	TLSEnabled           bool   `mapstructure:"tls_enabled"`
	TLSCertFile          string `mapstructure:"tls_cert_file"`
	TLSKeyFile           string `mapstructure:"tls_key_file"`
	TLSClientCAFile      string `mapstructure:"tls_client_ca_file"`
	TLSRequireClientCert bool   `mapstructure:"tls_require_client_cert"`
}

var defaults = map[string]any{
	"http_addr":                    ":8080",
	"grpc_addr":                    ":8081",
	"database_url":                 "",
	"version":                      "dev",
	"strict":                       false,
	"log_level":                    "info",
	"log_format":                   "json",
	"otp_expiry":                   "5m",
	"idempotency_ttl":              "24h",
	"idempotency_lease":            "5m",
	"idempotency_cleanup_interval": "10m",
	"idempotency_cleanup_batch":    500,
	"reaper_interval":              "1m",
	"reaper_grace":                 "1m",
	"reaper_batch":                 100,
	"notify_interval":              "2s",
	"notify_queue_size":            1024,
	"fee_rate":                     "",
	"rates_file":                   "",
	"jwt_secret":                   DefaultJWTSecret,
	"jwt_keys":                     "",
	"jwt_active_kid":               "",
	"jwt_keyset_file":              "",
	"trusted_cidrs":                "127.0.0.1/32,::1/128",
	"webhook_url":                  "",
	"webhook_secret":               "",
	"tls_enabled":                  false,
	"tls_cert_file":                "",
	"tls_key_file":                 "",
	"tls_client_ca_file":           "",
	"tls_require_client_cert":      false,
}

// Load reads configuration. configFile may be empty, in which case
// ./config.yaml is used when present.
func Load(configFile string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.TrustedCIDRs = splitList(cfg.TrustedCIDRs)
	return cfg, cfg.Validate()
}

// trusted_cidrs arrives either as a YAML list or as one comma-separated
// env value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks internal consistency. In strict mode it also refuses
// development defaults.
func (c Config) Validate() error {
	if c.OTPExpiry <= 0 {
		return fmt.Errorf("otp_expiry must be positive")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency_ttl must be positive")
	}
	if c.IdempotencyLease < 0 {
		return fmt.Errorf("idempotency_lease must not be negative")
	}
	if c.FeeRate != "" {
		fee, err := decimal.NewFromString(c.FeeRate)
		if err != nil || fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("fee_rate must be a decimal in [0, 1)")
		}
	}
	if !c.Strict {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("strict mode requires database_url")
	}
	if !c.TLSEnabled {
		return fmt.Errorf("strict mode requires tls_enabled")
	}
	if c.JWTSecret == DefaultJWTSecret && c.JWTKeys == "" && c.JWTKeysetFile == "" {
		return fmt.Errorf("strict mode rejects the default jwt secret")
	}
	return nil
}

// Rates builds the conversion table: the rates file when configured,
// otherwise the built-in table. fee_rate overrides either.
func (c Config) Rates() (*money.RateTable, error) {
	table := money.DefaultRates()
	if c.RatesFile != "" {
		t, err := money.LoadRatesFile(c.RatesFile)
		if err != nil {
			return nil, err
		}
		table = t
	}
	if c.FeeRate != "" {
		fee, err := decimal.NewFromString(c.FeeRate)
		if err != nil {
			return nil, fmt.Errorf("parse fee_rate: %w", err)
		}
		table.FeeRate = fee
	}
	return table, nil
}

// Keyset resolves JWT signing keys. A keyset file takes precedence over the
// inline secret and key list.
func (c Config) Keyset() (auth.HMACKeyset, error) {
	if c.JWTKeysetFile != "" {
		return auth.LoadHMACKeysetFile(c.JWTKeysetFile)
	}
	return auth.ParseHMACKeyset(c.JWTSecret, c.JWTKeys, c.JWTActiveKID)
}
