package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/setrebalancer/internal/blob/s3"
	"github.com/alanyoungcy/setrebalancer/internal/cache/lru"
	"github.com/alanyoungcy/setrebalancer/internal/cache/redis"
	"github.com/alanyoungcy/setrebalancer/internal/chain"
	"github.com/alanyoungcy/setrebalancer/internal/config"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/notify"
	"github.com/alanyoungcy/setrebalancer/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes build on. It is
// constructed by Wire and torn down by the returned cleanup function. Fields
// for infrastructure the mode does not use are nil.
type Dependencies struct {
	// Ledger
	Chain *chain.Client

	// Stores
	Postgres    *postgres.Client
	Submissions *postgres.SubmissionStore
	Audit       *postgres.AuditStore

	// Caches and coordination
	Redis       *redis.Client
	Metadata    domain.MetadataCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   *redis.SignalBus

	// Blob storage
	S3         *s3blob.Client
	BlobReader *s3blob.Reader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres reports whether the mode records or archives submissions.
func needsPostgres(mode string) bool {
	return strings.ToLower(mode) != "watch"
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

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
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

		deps.Postgres = pgClient
		deps.Submissions = postgres.NewSubmissionStore(pgClient.Pool())
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- Redis ---
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

	deps.Redis = redisClient
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)

	// Metadata is immutable, so an in-process LRU sits in front of the
	// shared Redis tier.
	var shared domain.MetadataCache
	if cfg.Cache.Redis {
		shared = redis.NewMetadataCache(redisClient)
	}
	metadata, err := lru.New(cfg.Cache.LRUSize, shared)
	if err != nil {
		return fail("metadata cache", err)
	}
	deps.Metadata = metadata

	// --- Ledger ---
	if cfg.NeedsChain() {
		client, err := chain.Dial(ctx, chain.ClientConfig{
			RPCURL:      cfg.Ethereum.RPCURL,
			ChainID:     cfg.Ethereum.ChainID,
			DialTimeout: cfg.Ethereum.DialTimeout.Duration,
		})
		if err != nil {
			return fail("ethereum", err)
		}
		closers = append(closers, client.Close)
		deps.Chain = client
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.S3 = s3Client
		deps.BlobReader = s3blob.NewReader(s3Client)

		// The archiver drains Postgres, so it needs the stores too.
		if deps.Submissions != nil && deps.Audit != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				deps.BlobReader,
				deps.Submissions,
				deps.Audit,
				logger,
			)
		}
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
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
