package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/polycopy/internal/blob/s3"
	"github.com/alanyoungcy/polycopy/internal/cache/redis"
	"github.com/alanyoungcy/polycopy/internal/config"
	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/mirror"
	"github.com/alanyoungcy/polycopy/internal/notify"
	"github.com/alanyoungcy/polycopy/internal/pipeline"
	"github.com/alanyoungcy/polycopy/internal/platform/dataapi"
	"github.com/alanyoungcy/polycopy/internal/platform/goldsky"
	"github.com/alanyoungcy/polycopy/internal/platform/polymarket"
	"github.com/alanyoungcy/polycopy/internal/scheduler"
	"github.com/alanyoungcy/polycopy/internal/server/handler"
	"github.com/alanyoungcy/polycopy/internal/store/postgres"
)

// Dependencies bundles every collaborator the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional backends are nil when disabled in the configuration.
type Dependencies struct {
	// Account is the local signing address; empty when no key is configured.
	Account string
	Source  scheduler.FillSource
	Mirror  *mirror.Mirror

	// Stores
	FillStore   domain.FillStore
	MirrorStore domain.MirrorStore
	AuditStore  domain.AuditStore

	// Redis
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage
	Archiver scheduler.Archiver

	Notifier *notify.Notifier

	// Checks back GET /api/health.
	Checks map[string]handler.Check

	dataAPI *dataAPISource
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Fill source ---
	switch cfg.Copy.Source {
	case "goldsky":
		deps.Source = goldsky.NewClient(cfg.Goldsky.URL, cfg.Goldsky.APIKey)
	default:
		src, err := newDataAPISource(cfg.Polymarket.DataAPIHost, dataapi.Options{
			APIVersion: cfg.Copy.APIVersion,
			Logger:     logger,
		})
		if err != nil {
			return fail("data api", err)
		}
		deps.Source = src
		deps.dataAPI = src
	}

	// --- Signing key and order mirror ---
	m, account, err := wireMirror(ctx, cfg, logger)
	if err != nil {
		return fail("mirror", err)
	}
	deps.Mirror, deps.Account = m, account

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.FillStore = postgres.NewFillStore(pool)
		deps.MirrorStore = postgres.NewMirrorStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 fill archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if cfg.Copy.ArchiveFills {
			deps.Archiver = pipeline.NewFillArchiver(s3blob.NewWriter(s3Client), logger)
		}
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).WithCooldown(cfg.Notify.Cooldown.Duration)

	return deps, cleanup, nil
}

// wireMirror loads the signing key and builds the order mirror around the
// CLOB client, with the raw order transport as fallback. A missing or
// unusable key is not fatal here: the mirror reports it and sessions refuse
// to start without an account.
func wireMirror(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mirror.Mirror, string, error) {
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}, cfg.Polymarket.ChainID, cfg.Wallet.FunderAddress)
	if err != nil && !errors.Is(err, domain.ErrNoCredential) {
		return nil, "", fmt.Errorf("load signer: %w", err)
	}

	var account string
	if signer != nil {
		account = strings.ToLower(signer.Address().Hex())
	}

	var creds *crypto.HMACAuth
	if cfg.Polymarket.ApiKey != "" {
		creds = &crypto.HMACAuth{
			Key:        cfg.Polymarket.ApiKey,
			Secret:     cfg.Polymarket.ApiSecret,
			Passphrase: cfg.Polymarket.ApiPassphrase,
		}
	}

	var primary mirror.Primary
	clob, initErr := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, creds, polymarket.OrderOptions{
		SignatureType: cfg.Polymarket.SignatureType,
		OrderType:     domain.OrderType(strings.ToUpper(cfg.Copy.OrderType)),
	})
	credsFn := func() *crypto.HMACAuth { return creds }
	if initErr == nil {
		primary = clob
		credsFn = clob.Credentials
	}

	var fallback mirror.Fallback
	if account != "" {
		fallback = polymarket.NewOrderTransport(cfg.Polymarket.ClobHost, account, credsFn)
	}

	if account != "" {
		logger.InfoContext(ctx, "signing account loaded",
			slog.String("account", account),
			slog.Bool("api_credentials", creds.Complete()),
		)
	} else {
		logger.WarnContext(ctx, "no signing key configured, copy sessions cannot start")
	}

	return mirror.New(primary, initErr, fallback, mirror.Options{
		FallbackOnError: cfg.Copy.FallbackOnError,
		Logger:          logger,
	}), account, nil
}
