package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/sharegate/internal/blob/s3"
	"github.com/alanyoungcy/sharegate/internal/cache/redis"
	"github.com/alanyoungcy/sharegate/internal/chain"
	"github.com/alanyoungcy/sharegate/internal/config"
	"github.com/alanyoungcy/sharegate/internal/domain"
	"github.com/alanyoungcy/sharegate/internal/notify"
	"github.com/alanyoungcy/sharegate/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the operating
// modes assemble their components from. It is constructed by Wire and torn
// down by the returned cleanup function.
type Dependencies struct {
	// Postgres-backed stores.
	Watermarks      domain.WatermarkStore
	Ledger          domain.LedgerStore
	ProcessedEvents domain.ProcessedEventStore
	Identities      domain.IdentityStore
	Subjects        domain.SubjectChatStore

	// Redis-backed components.
	Challenges  domain.ChallengeStore
	Locks       domain.LockManager
	Bus         domain.EventBus
	RateLimiter domain.RateLimiter

	// Chain clients keyed by chain name.
	Chains map[string]*chain.Client

	// Cold-storage archival, nil unless archive.enabled.
	Archiver      *s3blob.Archiver
	ArchiveReader *s3blob.Reader

	Notifier *notify.Notifier

	// Raw clients, kept for health checks.
	DB    *postgres.Client
	Cache *redis.Client
	Blob  *s3blob.Client
}

// Wire constructs every concrete dependency from cfg and returns it together
// with a cleanup function releasing connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// PostgreSQL. Every mode needs it: the pipeline writes the ledger, the
	// API reads it, and both sides share identities and subject chats.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.DB = pgClient
	deps.Watermarks = postgres.NewWatermarkStore(pool)
	deps.Ledger = postgres.NewLedgerStore(pool)
	deps.ProcessedEvents = postgres.NewProcessedEventStore(pool)
	deps.Identities = postgres.NewIdentityStore(pool)
	deps.Subjects = postgres.NewSubjectChatStore(pool)

	// Redis: challenge TTLs, per-chain sync locks, the live event bus, and
	// the verification rate limiter.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Cache = redisClient
	deps.Challenges = redis.NewChallengeCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewEventBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// Chain clients. The sync engines consume them as event sources; the
	// binder uses the same clients for signature recovery and balance reads.
	deps.Chains = make(map[string]*chain.Client, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		client, err := chain.New(ctx, chainCfg, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain %s: %w", chainCfg.Name, err)
		}
		closers = append(closers, client.Close)
		deps.Chains[chainCfg.Name] = client
	}

	// Object storage, only when archival is on.
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Blob = s3Client
		deps.ArchiveReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.ProcessedEvents,
			s3blob.ArchiverConfig{
				Retention: time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
				Interval:  cfg.Archive.Interval.Duration,
			},
			logger,
		)
	}

	// Operator alerting.
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
