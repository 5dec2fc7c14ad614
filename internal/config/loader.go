package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYCOPY_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYCOPY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYCOPY_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "POLYCOPY_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYCOPY_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYCOPY_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYCOPY_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataAPIHost, "POLYCOPY_POLYMARKET_DATA_API_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYCOPY_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYCOPY_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "POLYCOPY_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYCOPY_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYCOPY_POLYMARKET_API_PASSPHRASE")

	// ── Copy ──
	setStringSlice(&cfg.Copy.TargetAddresses, "POLYCOPY_COPY_TARGET_ADDRESSES")
	setFloat64(&cfg.Copy.CopyFactor, "POLYCOPY_COPY_COPY_FACTOR")
	setInt(&cfg.Copy.MaxSlippageBps, "POLYCOPY_COPY_MAX_SLIPPAGE_BPS")
	setBool(&cfg.Copy.DryRun, "POLYCOPY_COPY_DRY_RUN")
	setDuration(&cfg.Copy.PollInterval, "POLYCOPY_COPY_POLL_INTERVAL")
	setStr(&cfg.Copy.ExecutionMode, "POLYCOPY_COPY_EXECUTION_MODE")
	setFloat64(&cfg.Copy.FixedSize, "POLYCOPY_COPY_FIXED_SIZE")
	setBool(&cfg.Copy.SellAllOnSell, "POLYCOPY_COPY_SELL_ALL_ON_SELL")
	setFloat64(&cfg.Copy.SellAllSize, "POLYCOPY_COPY_SELL_ALL_SIZE")
	setInt(&cfg.Copy.FetchLimit, "POLYCOPY_COPY_FETCH_LIMIT")
	setDuration(&cfg.Copy.SeenRetention, "POLYCOPY_COPY_SEEN_RETENTION")
	setInt(&cfg.Copy.Concurrency, "POLYCOPY_COPY_CONCURRENCY")
	setStr(&cfg.Copy.Source, "POLYCOPY_COPY_SOURCE")
	setStr(&cfg.Copy.APIVersion, "POLYCOPY_COPY_API_VERSION")
	setStr(&cfg.Copy.OrderType, "POLYCOPY_COPY_ORDER_TYPE")
	setBool(&cfg.Copy.FallbackOnError, "POLYCOPY_COPY_FALLBACK_ON_ERROR")
	setBool(&cfg.Copy.TickLock, "POLYCOPY_COPY_TICK_LOCK")
	setDuration(&cfg.Copy.TickLockTTL, "POLYCOPY_COPY_TICK_LOCK_TTL")
	setBool(&cfg.Copy.ArchiveFills, "POLYCOPY_COPY_ARCHIVE_FILLS")
	setBool(&cfg.Copy.WarmStart, "POLYCOPY_COPY_WARM_START")

	// ── Retry ──
	setInt(&cfg.Retry.FetchAttempts, "POLYCOPY_RETRY_FETCH_ATTEMPTS")
	setInt(&cfg.Retry.SubmitAttempts, "POLYCOPY_RETRY_SUBMIT_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "POLYCOPY_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "POLYCOPY_RETRY_MAX_DELAY")

	// ── Goldsky ──
	setStr(&cfg.Goldsky.URL, "POLYCOPY_GOLDSKY_URL")
	setStr(&cfg.Goldsky.APIKey, "POLYCOPY_GOLDSKY_API_KEY")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "POLYCOPY_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "POLYCOPY_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "POLYCOPY_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "POLYCOPY_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "POLYCOPY_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "POLYCOPY_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "POLYCOPY_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "POLYCOPY_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "POLYCOPY_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "POLYCOPY_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "POLYCOPY_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "POLYCOPY_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYCOPY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYCOPY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYCOPY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYCOPY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYCOPY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYCOPY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYCOPY_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "POLYCOPY_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYCOPY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYCOPY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYCOPY_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYCOPY_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLYCOPY_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLYCOPY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYCOPY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYCOPY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYCOPY_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYCOPY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYCOPY_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYCOPY_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYCOPY_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYCOPY_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYCOPY_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYCOPY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYCOPY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYCOPY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYCOPY_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "POLYCOPY_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYCOPY_MODE")
	setStr(&cfg.LogLevel, "POLYCOPY_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
