package bootstrap

import (
	"context"
	"os"
	"time"

	"prefect_server/adapter/out/localstore"
	"prefect_server/adapter/out/messaging"
	"prefect_server/adapter/out/mongodb"
	"prefect_server/config"
	"prefect_server/core/port/in"
	"prefect_server/core/port/out"
	"prefect_server/core/service/roster"
	"prefect_server/pkg/logger"
	"prefect_server/pkg/snowflake"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
)

type Dependencies struct {
	Config  *config.Config
	MongoDB *mongo.Client
	Redis   *redis.Client

	// Stores
	Local  out.LocalStore
	Remote out.RemoteStore // nil when running without a remote store

	// Messaging
	Notifier out.RosterNotifier

	// Services
	Detector      *roster.BackendDetector
	RosterService in.RosterService
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Local store (pebble). This is the one backend the server cannot run
	// without.
	local, err := localstore.NewPebbleAdapter(cfg.LocalStorePath)
	if err != nil {
		return nil, nil, err
	}
	deps.Local = local
	cleanups = append(cleanups, func() {
		if err := local.Close(); err != nil {
			logger.WithError(err).Warn("local store close failed")
		}
	})

	// Remote store (MongoDB), optional. Without it the server runs in pure
	// fallback mode against the local store.
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(cfg.MongoDBURL, cfg.MongoDBName)
		if err != nil {
			logger.WithError(err).Warn("MongoDB unreachable at startup, continuing in local-only mode")
		} else {
			deps.MongoDB = client
			cleanups = append(cleanups, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(ctx)
			})

			remote := mongodb.NewRemoteAdapter(client.Database(cfg.MongoDBName))

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := remote.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("index creation failed")
			}
			if cfg.AdminPassword != "" {
				if err := remote.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
					logger.WithError(err).Warn("admin bootstrap failed")
				}
			}
			cancel()

			deps.Remote = remote
			logger.Info("Remote store connected: %s", cfg.MongoDBName)
		}
	} else {
		logger.Info("MONGODB_URL not set, running in local-only mode")
	}

	// Redis, optional. Carries the roster change fanout and token
	// revocations.
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("invalid REDIS_URL, cross-session refresh disabled")
		} else {
			client := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := client.Ping(ctx).Err()
			cancel()
			if err != nil {
				logger.WithError(err).Warn("Redis unreachable, cross-session refresh disabled")
				_ = client.Close()
			} else {
				deps.Redis = client
				cleanups = append(cleanups, func() { _ = client.Close() })
				logger.Info("Redis connected")
			}
		}
	}

	if deps.Redis != nil {
		zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		deps.Notifier = messaging.NewRedisNotifier(deps.Redis, zlog)
	} else {
		deps.Notifier = messaging.NewNoopNotifier()
	}

	// Availability detection
	deps.Detector = roster.NewBackendDetector(deps.Remote, roster.DetectorConfig{
		OpenTimeout:         cfg.BreakerOpenTimeout,
		MaxHalfOpenRequests: cfg.BreakerMaxHalfOpenReqs,
	}, logger.Default())

	// Local id generation
	gen, err := snowflake.NewGenerator(cfg.NodeID)
	if err != nil {
		runCleanups(cleanups)
		return nil, nil, err
	}

	deps.RosterService = roster.NewRepository(roster.Config{
		Remote:         deps.Remote,
		Local:          deps.Local,
		Notifier:       deps.Notifier,
		Detector:       deps.Detector,
		IDGen:          gen,
		FallbackSecret: cfg.FallbackSecret,
		Logger:         logger.Default(),
	})

	cleanup := func() { runCleanups(cleanups) }
	return deps, cleanup, nil
}

func runCleanups(cleanups []func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}
