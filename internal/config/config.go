// Package config defines the top-level configuration for the copy trader
// and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYCOPY_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Copy       CopyConfig       `toml:"copy"`
	Retry      RetryConfig      `toml:"retry"`
	Goldsky    GoldskyConfig    `toml:"goldsky"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds venue endpoints, chain parameters and optional
// previously derived L2 API credentials.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	DataAPIHost   string `toml:"data_api_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// CopyConfig holds the copy session parameters.
type CopyConfig struct {
	TargetAddresses []string `toml:"target_addresses"`
	CopyFactor      float64  `toml:"copy_factor"`
	MaxSlippageBps  int      `toml:"max_slippage_bps"`
	DryRun          bool     `toml:"dry_run"`
	PollInterval    duration `toml:"poll_interval"`
	ExecutionMode   string   `toml:"execution_mode"`
	FixedSize       float64  `toml:"fixed_size"`
	SellAllOnSell   bool     `toml:"sell_all_on_sell"`
	SellAllSize     float64  `toml:"sell_all_size"`
	FetchLimit      int      `toml:"fetch_limit"`
	SeenRetention   duration `toml:"seen_retention"`
	Concurrency     int      `toml:"concurrency"`
	// Source selects the fill source: "data_api" or "goldsky".
	Source string `toml:"source"`
	// APIVersion selects the data API adapter; "auto" probes every known shape.
	APIVersion      string   `toml:"api_version"`
	OrderType       string   `toml:"order_type"`
	FallbackOnError bool     `toml:"fallback_on_error"`
	TickLock        bool     `toml:"tick_lock"`
	TickLockTTL     duration `toml:"tick_lock_ttl"`
	ArchiveFills    bool     `toml:"archive_fills"`
	WarmStart       bool     `toml:"warm_start"`
}

// RetryConfig holds backoff parameters applied around network calls.
type RetryConfig struct {
	FetchAttempts  int      `toml:"fetch_attempts"`
	SubmitAttempts int      `toml:"submit_attempts"`
	BaseDelay      duration `toml:"base_delay"`
	MaxDelay       duration `toml:"max_delay"`
}

// GoldskyConfig holds the order-fill subgraph endpoint.
type GoldskyConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit caps requests per client IP per RateWindow; it needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			DataAPIHost:   "https://data-api.polymarket.com",
			ChainID:       137,
			SignatureType: 0,
		},
		Copy: CopyConfig{
			CopyFactor:     1.0,
			MaxSlippageBps: 50,
			DryRun:         true,
			PollInterval:   duration{15 * time.Second},
			ExecutionMode:  string(domain.ExecutionModePercent),
			SellAllSize:    domain.DefaultSellAllSize,
			FetchLimit:     100,
			SeenRetention:  duration{24 * time.Hour},
			Concurrency:    1,
			Source:         "data_api",
			APIVersion:     "auto",
			OrderType:      string(domain.OrderTypeFAK),
			TickLockTTL:    duration{2 * time.Minute},
			WarmStart:      true,
		},
		Retry: RetryConfig{
			FetchAttempts:  3,
			SubmitAttempts: 1,
			BaseDelay:      duration{500 * time.Millisecond},
			MaxDelay:       duration{5 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polycopy-data",
			Prefix:         "fills",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{string(domain.EventOrderMirrored), string(domain.EventOrderFailed), string(domain.EventFetchFailed)},
			Cooldown: duration{time.Minute},
		},
		Mode:     "copy",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"copy":   true,
	"server": true,
	"once":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSources = map[string]bool{
	"data_api": true,
	"goldsky":  true,
}

var validOrderTypes = map[string]bool{
	string(domain.OrderTypeGTC): true,
	string(domain.OrderTypeFOK): true,
	string(domain.OrderTypeFAK): true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: copy, server, once)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: a copy session refuses to start without a signing credential.
	if c.Mode == "copy" || c.Mode == "once" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.FunderAddress != "" && !common.IsHexAddress(c.Wallet.FunderAddress) {
		errs = append(errs, fmt.Sprintf("wallet: funder_address %q is not a hex address", c.Wallet.FunderAddress))
	}

	// Polymarket endpoints
	if err := checkURL(c.Polymarket.ClobHost); err != nil {
		errs = append(errs, "polymarket: clob_host "+err.Error())
	}
	if c.Copy.Source == "data_api" {
		if err := checkURL(c.Polymarket.DataAPIHost); err != nil {
			errs = append(errs, "polymarket: data_api_host "+err.Error())
		}
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}
	// API credentials: all three fields must be set together, or all empty.
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Copy
	if c.Mode != "server" && len(c.Copy.TargetAddresses) == 0 {
		errs = append(errs, "copy: target_addresses must not be empty")
	}
	for _, addr := range c.Copy.TargetAddresses {
		if !common.IsHexAddress(strings.TrimSpace(addr)) {
			errs = append(errs, fmt.Sprintf("copy: target address %q is not a hex address", addr))
		}
	}
	if c.Copy.PollInterval.Duration <= 0 {
		errs = append(errs, "copy: poll_interval must be > 0")
	}
	mode := domain.ExecutionMode(strings.ToLower(c.Copy.ExecutionMode))
	if mode != domain.ExecutionModePercent && mode != domain.ExecutionModeFixed {
		errs = append(errs, fmt.Sprintf("copy: unknown execution_mode %q (valid: percent, fixed)", c.Copy.ExecutionMode))
	}
	if mode == domain.ExecutionModeFixed && c.Copy.FixedSize <= 0 {
		errs = append(errs, "copy: fixed_size must be > 0 in fixed mode")
	}
	if !validSources[c.Copy.Source] {
		errs = append(errs, fmt.Sprintf("copy: unknown source %q (valid: data_api, goldsky)", c.Copy.Source))
	}
	if c.Copy.Source == "goldsky" && c.Goldsky.URL == "" {
		errs = append(errs, "goldsky: url is required when copy.source is goldsky")
	}
	if !validOrderTypes[strings.ToUpper(c.Copy.OrderType)] {
		errs = append(errs, fmt.Sprintf("copy: unknown order_type %q (valid: GTC, FOK, FAK)", c.Copy.OrderType))
	}
	if c.Copy.SeenRetention.Duration < 0 {
		errs = append(errs, "copy: seen_retention must be >= 0")
	}
	if c.Copy.TickLock && !c.Redis.Enabled {
		errs = append(errs, "copy: tick_lock requires redis.enabled")
	}
	if c.Copy.ArchiveFills && !c.S3.Enabled {
		errs = append(errs, "copy: archive_fills requires s3.enabled")
	}

	// Retry
	if c.Retry.FetchAttempts < 1 {
		errs = append(errs, "retry: fetch_attempts must be >= 1")
	}
	if c.Retry.SubmitAttempts < 1 {
		errs = append(errs, "retry: submit_attempts must be >= 1")
	}
	if c.Retry.MaxDelay.Duration < c.Retry.BaseDelay.Duration {
		errs = append(errs, "retry: max_delay must not be below base_delay")
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be within [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CopySettings converts the [copy] section into the immutable settings of
// one session. Bounded fields are clamped here.
func (c *Config) CopySettings() domain.CopySettings {
	addrs := make([]string, len(c.Copy.TargetAddresses))
	copy(addrs, c.Copy.TargetAddresses)

	return domain.CopySettings{
		DataAPIBaseURL:  c.Polymarket.DataAPIHost,
		TargetAddresses: addrs,
		CopyFactor:      c.Copy.CopyFactor,
		MaxSlippageBps:  c.Copy.MaxSlippageBps,
		DryRun:          c.Copy.DryRun,
		PollInterval:    c.Copy.PollInterval.Duration,
		ExecutionMode:   domain.ExecutionMode(strings.ToLower(c.Copy.ExecutionMode)),
		FixedSize:       c.Copy.FixedSize,
		SellAllOnSell:   c.Copy.SellAllOnSell,
		SellAllSize:     c.Copy.SellAllSize,
		FetchLimit:      c.Copy.FetchLimit,
		SeenRetention:   c.Copy.SeenRetention.Duration,
		Concurrency:     c.Copy.Concurrency,
	}.Normalize()
}

func checkURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is invalid: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be http(s), got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("is missing a host")
	}
	return nil
}
