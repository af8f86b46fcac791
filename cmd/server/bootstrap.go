package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/solarops/activity/internal/api"
	"github.com/solarops/activity/internal/app"
	"github.com/solarops/activity/internal/app/maintenance"
	iauth "github.com/solarops/activity/internal/auth"
	"github.com/solarops/activity/internal/cache"
	"github.com/solarops/activity/internal/database"
	"github.com/solarops/activity/internal/docstore"
	"github.com/solarops/activity/internal/feed"
	"github.com/solarops/activity/internal/hidden"
	"github.com/solarops/activity/internal/monitoring"
	"github.com/solarops/activity/internal/monitoring/checks"
	"github.com/solarops/activity/internal/realtime"
	"github.com/solarops/activity/internal/services"
	"github.com/solarops/activity/internal/session"
	"github.com/solarops/activity/internal/watermark"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	KV       cache.Store
	Redis    *cache.RedisStore
	Docs     docstore.Backend
	Hub      *realtime.Hub
	Activity *services.ActivityService
	Cleaner  *maintenance.Cleaner
	Health   *monitoring.HealthManager
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, KV store, document store, activity engine and
// HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	switch driver := cfg.Cache.KVDriver(); driver {
	case app.CacheDriverRedis:
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		stack.KV = stack.Redis
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
	case app.CacheDriverDatabase:
		stack.KV = dbStore
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", driver)
	}

	stack.Docs, err = docstore.Open(ctx, cfg.DocStore.BackendConfig(), stack.DB)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	log.Info("document store ready", zap.String("driver", cfg.DocStore.Driver))

	deps, err := activityDependencies(cfg, stack.KV, stack.Docs)
	if err != nil {
		return nil, err
	}

	stack.Activity, err = services.NewActivityService(deps, cfg.Activity.SnapshotTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialise activity service: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.Hub = realtime.NewHub(session.NewFactory(deps), jwtSvc.Authenticate)

	// Redis expires keys natively; only the database store needs a sweeper.
	cleanerOpts := []maintenance.Option{maintenance.WithSchedule(cfg.Maintenance.PurgeSchedule)}
	if stack.Redis == nil {
		cleanerOpts = append(cleanerOpts, maintenance.WithPurger("kv", dbStore))
	}
	stack.Cleaner = maintenance.NewCleaner(cleanerOpts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Health = healthManager(stack)

	stack.Router, err = api.NewRouter(stack.Health, jwtSvc, cfg, stack.Activity, stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// healthManager registers readiness probes for every backend the activity engine reads.
func healthManager(stack *runtimeStack) *monitoring.HealthManager {
	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(checks.Database(stack.DB, 0))
	manager.RegisterReadiness(checks.KV(stack.KV, 0))
	manager.RegisterReadiness(checks.DocStore(stack.Docs, 0))
	return manager
}

func activityDependencies(cfg *app.Config, kv cache.Store, docs docstore.LiveQuerier) (feed.Dependencies, error) {
	registry, err := feed.NewRegistry(cfg.Activity.Categories...)
	if err != nil {
		return feed.Dependencies{}, fmt.Errorf("build category registry: %w", err)
	}

	wm, err := watermark.NewStore(kv, watermark.WithLookback(cfg.Activity.DefaultLookback))
	if err != nil {
		return feed.Dependencies{}, fmt.Errorf("initialise watermark store: %w", err)
	}

	hs, err := hidden.NewStore(kv, cfg.Activity.HiddenRetention)
	if err != nil {
		return feed.Dependencies{}, fmt.Errorf("initialise hidden store: %w", err)
	}

	return feed.Dependencies{
		Registry:   registry,
		Querier:    docs,
		Watermarks: wm,
		Hidden:     hs,
		FeedLimit:  cfg.Activity.FeedLimit,
	}, nil
}

// Shutdown gracefully stops background jobs and releases resources. WebSocket connections
// are closed before the document store.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Hub != nil {
		s.Hub.Shutdown()
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Docs != nil {
		if err := s.Docs.Close(); err != nil {
			log.Warn("document store shutdown", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config, log *zap.Logger) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		closeDatabase(db, log)
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log.Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}

// shutdownTimeout returns the configured grace period, falling back to the default.
func shutdownTimeout(cfg *app.Config) time.Duration {
	if cfg != nil && cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return defaultShutdownTimeout
}
