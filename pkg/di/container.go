package di

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"claw-companion/backend/internal/document"
	"claw-companion/backend/internal/integrity"
	"claw-companion/backend/internal/models"
	"claw-companion/backend/internal/reconcile"
	"claw-companion/backend/internal/remote"
	"claw-companion/backend/internal/retention"
	"claw-companion/backend/internal/timeline"
	"claw-companion/backend/internal/ws"
	"claw-companion/backend/pkg/config"
	"claw-companion/backend/pkg/health"
	"claw-companion/backend/pkg/jwt"
	"claw-companion/backend/pkg/logger"
	"claw-companion/backend/pkg/resilience"
	"claw-companion/backend/pkg/secrets"
	"claw-companion/backend/shared/observability"
	"claw-companion/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *logger.Logger
	Metrics *observability.Metrics
	Secrets secrets.Manager
	Redis   *redis.RedisClient

	JWTService *jwt.Service
	Timeline   *timeline.GormStore
	Remote     *remote.Client
	Engine     *reconcile.Engine
	Reports    *integrity.ReportStore
	Gate       integrity.Gate
	Auditor    *integrity.Auditor
	Documents  *document.GormStore
	Editor     *document.Editor
	Hub        *ws.Hub
	Retention  *retention.Scheduler
	Health     *health.Checker

	closers []func(context.Context) error
	wg      sync.WaitGroup
}

// New builds every component from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, DB: db, Logger: log}

	if cfg.Features.EnableMetrics {
		c.Metrics = observability.NewMetrics()
		mp, err := observability.SetupMeterProvider("claw-companion", c.Metrics.Registry)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, mp.Shutdown)
	}
	if cfg.Features.EnableTracing {
		shutdown, err := observability.SetupTracing("claw-companion")
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, shutdown)
	}

	mgr, err := secrets.NewManager(secrets.VaultConfigFromEnv(), log)
	if err != nil {
		return nil, fmt.Errorf("secrets manager: %w", err)
	}
	c.Secrets = mgr
	if closer, ok := mgr.(interface{ Close() }); ok {
		c.closers = append(c.closers, func(context.Context) error { closer.Close(); return nil })
	}

	c.JWTService = jwt.NewService(mgr.GetSecretWithDefault(ctx, jwt.SecretName, cfg.Auth.Secret), cfg.Auth.Expiry)

	if cfg.Redis.Enabled {
		c.Redis = redis.NewRedisClient(redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return c.Redis.Close() })
	}

	c.Timeline = timeline.NewGormStore(db)
	c.Reports = integrity.NewReportStore(db)
	c.Documents = document.NewGormStore(db, document.WithStoreMetrics(c.Metrics))
	c.Editor = document.NewEditor(c.Documents)

	token := mgr.GetSecretWithDefault(ctx, cfg.Remote.TokenSecret, cfg.Remote.Token)
	c.Remote, err = remote.NewClient(remote.Options{
		BaseURL:  cfg.Remote.BaseURL,
		Token:    token,
		DeviceID: cfg.Remote.DeviceID,
		Timeout:  cfg.Remote.Timeout,
	}, log)
	if err != nil {
		return nil, err
	}

	c.buildIntegrity()

	c.Engine = reconcile.NewEngine(c.Timeline, c.Remote, reconcile.NewGormCheckpointStore(db), reconcile.Config{
		DeviceID:        cfg.Remote.DeviceID,
		Interval:        cfg.Sync.Interval,
		FetchLimit:      cfg.Sync.FetchLimit,
		InitialLookback: cfg.Sync.InitialLookback,
		Overlap:         cfg.Sync.Overlap,
		PassTimeout:     cfg.Sync.PassTimeout,
		ReconcileWindow: cfg.Sync.ReconcileWindow,
		LocalSources:    cfg.Sync.LocalSources,
		PruneEvery:      cfg.Sync.PruneEvery,
		KeepCount:       cfg.Sync.KeepCount,
		PrunePolicy:     timeline.ParsePrunePolicy(cfg.Sync.PrunePolicy),
	}, log, reconcile.WithMetrics(c.Metrics))

	if cfg.Features.EnableWebSockets {
		opts := ws.HubOptions{
			Trigger: c.Engine,
			Window:  cfg.Integrity.DisplayWindow,
			Metrics: c.Metrics,
		}
		if c.Auditor != nil {
			opts.Auditor = c.Auditor
		}
		c.Hub = ws.NewHub(c.Timeline, opts, log)
	}

	c.Engine.OnPassComplete(c.afterPass)

	if cfg.Retention.Enabled {
		c.Retention, err = retention.NewScheduler(c.Timeline, c.Reports, retention.Config{
			Cron:         cfg.Retention.Cron,
			KeepCount:    cfg.Sync.KeepCount,
			Policy:       timeline.ParsePrunePolicy(cfg.Sync.PrunePolicy),
			ReportMaxAge: cfg.Retention.ReportMaxAge,
		}, log)
		if err != nil {
			return nil, err
		}
	}

	c.buildHealth()
	return c, nil
}

func (c *Container) buildIntegrity() {
	cfg := c.Config
	var fallback integrity.Gate = integrity.NewMemoryGate(cfg.Integrity.Cooldown, nil)
	c.Gate = fallback
	if c.Redis != nil {
		c.Gate = integrity.NewRedisGate(c.Redis, "integrity:cooldown:", cfg.Integrity.Cooldown, fallback, c.Logger)
	}
	if !cfg.Integrity.Enabled {
		return
	}

	meta := integrity.ReportMeta{
		DeviceID:   cfg.Remote.DeviceID,
		Platform:   cfg.Remote.Platform,
		AppVersion: cfg.Remote.AppVersion,
	}
	var sinks integrity.MultiSink
	for _, name := range cfg.Integrity.Sinks {
		switch strings.TrimSpace(name) {
		case "log":
			sinks = append(sinks, integrity.NewLogSink(c.Logger.WithComponent("integrity")))
		case "store":
			sinks = append(sinks, integrity.NewStoreSink(c.Reports, meta))
		case "remote":
			sinks = append(sinks, integrity.NewRemoteSink(c.Remote, meta))
		default:
			c.Logger.Warn("unknown integrity sink ignored", "sink", name)
		}
	}

	c.Auditor = integrity.NewAuditor(c.Timeline, c.Gate, sinks, integrity.Config{
		Cooldown:         cfg.Integrity.Cooldown,
		MissingThreshold: cfg.Integrity.MissingThreshold,
		DataWindow:       cfg.Integrity.DataWindow,
		DisplayWindow:    cfg.Integrity.DisplayWindow,
		QueueSize:        cfg.Integrity.QueueSize,
		LocalOnlySources: cfg.Sync.LocalSources,
	}, c.Logger, integrity.WithMetrics(c.Metrics))
}

// afterPass feeds every pass to the data auditor and the renderers
func (c *Container) afterPass(ctx context.Context, result reconcile.PassResult, fetched []models.RemoteEvent) {
	if c.Auditor != nil && result.State == reconcile.StateDone && len(fetched) > 0 {
		c.Auditor.AuditData(fetched)
	}
	if c.Hub != nil && (result.Inserted > 0 || result.Reconciled > 0 || result.Pruned > 0) {
		if err := c.Hub.Publish(ctx); err != nil {
			c.Logger.LogError(err, "publish after pass failed")
		}
	}
}

func (c *Container) buildHealth() {
	c.Health = health.NewChecker(c.Logger, 15*time.Second)
	c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	c.Health.RegisterCheck("sync", false, func(context.Context) (health.Status, string, error) {
		last, ok := c.Engine.LastResult()
		switch {
		case !ok:
			return health.StatusUp, "no pass finished yet", nil
		case last.State == reconcile.StateFailed:
			return health.StatusDegraded, "last pass failed", fmt.Errorf("%s", last.Error)
		}
		return health.StatusUp, fmt.Sprintf("last pass inserted %d", last.Inserted), nil
	})
	c.Health.RegisterCheck("remote", false, func(context.Context) (health.Status, string, error) {
		if c.Remote.Breaker().State() == resilience.StateOpen {
			return health.StatusDegraded, "circuit open", resilience.ErrOpen
		}
		return health.StatusUp, string(c.Remote.Breaker().State()), nil
	})
	if c.Redis != nil {
		c.Health.RegisterCheck("redis", false, func(ctx context.Context) (health.Status, string, error) {
			if err := c.Redis.Ping(ctx); err != nil {
				return health.StatusDegraded, "cooldowns fall back to memory", err
			}
			return health.StatusUp, "ok", nil
		})
	}
}

// Start launches the background loops. They stop when ctx is done.
func (c *Container) Start(ctx context.Context) {
	if c.Auditor != nil {
		c.Auditor.Start(ctx)
	}
	if c.Hub != nil {
		c.goRun(func() { c.Hub.Run(ctx) })
	}
	if c.Config.Sync.Enabled {
		c.goRun(func() { c.Engine.Run(ctx) })
	}
	if c.Retention != nil {
		stop := c.Retention.Start(ctx)
		c.closers = append(c.closers, func(context.Context) error { stop(); return nil })
	}
	c.Health.Start(ctx)
}

func (c *Container) goRun(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Close waits for the loops started by Start, whose context the caller
// must already have cancelled, then releases resources
func (c *Container) Close(ctx context.Context) error {
	c.wg.Wait()
	if c.Auditor != nil {
		c.Auditor.Stop()
	}
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if closer, ok := c.Gate.(interface{ Close() }); ok {
		closer.Close()
	}
	return firstErr
}
