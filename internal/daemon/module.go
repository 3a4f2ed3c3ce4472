// Package daemon wires the application together with fx and owns the
// process lifecycle: lock, migrations, HTTP server start and stop.
package daemon

import (
	"context"
	"net"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"teletriage/internal/api"
	"teletriage/internal/bulksend"
	"teletriage/internal/bus"
	"teletriage/internal/config"
	"teletriage/internal/jobs"
	"teletriage/internal/lock"
	"teletriage/internal/logging"
	"teletriage/internal/provider"
	"teletriage/internal/ratelimit"
	"teletriage/internal/report"
	"teletriage/internal/store"
	intsync "teletriage/internal/sync"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	ConfigPath string
	ListenAddr string          // optional override for testing; empty = use config
	Client     provider.Client // optional override; nil = provider.Unavailable
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideClient,
			provideLimiter,
			provideSyncEngine,
			provideOrchestrator,
			provideScorer,
			provideComposer,
			provideJobs,
			provideGate,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if p.ListenAddr != "" {
		cfg.ListenAddr = p.ListenAddr
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideClient(p Params, logger *zap.Logger) provider.Client {
	if p.Client != nil {
		return p.Client
	}
	logger.Warn("running without a messaging provider; remote calls will fail")
	return provider.Unavailable{}
}

func provideLimiter(cfg *config.Config, logger *zap.Logger) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateMinDelay(), cfg.RateMaxDelay(), logger)
}

func provideSyncEngine(db *store.DB, client provider.Client, limiter *ratelimit.Limiter, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, client, limiter, b, logger)
}

func provideOrchestrator(cfg *config.Config, db *store.DB, client provider.Client, limiter *ratelimit.Limiter, b *bus.Bus, logger *zap.Logger) *bulksend.Orchestrator {
	return bulksend.New(db, client, limiter, b, cfg.BulkSendDelay(), logger)
}

func provideScorer(cfg *config.Config, logger *zap.Logger) report.Scorer {
	if cfg.LLMEnabled() {
		logger.Info("using LLM scorer", zap.String("model", cfg.LLMModel))
		return report.NewLLMScorer(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	}
	logger.Info("no LLM configured, using rule-based scorer")
	return report.RuleScorer{}
}

func provideComposer(cfg *config.Config, db *store.DB, client provider.Client, engine *intsync.Engine, scorer report.Scorer, logger *zap.Logger) *report.Composer {
	maxAge := time.Duration(cfg.ReportMaxAgeDays) * 24 * time.Hour
	return report.NewComposer(db, client, engine, scorer, cfg.MessageCacheLimit, maxAge, logger)
}

func provideJobs(b *bus.Bus, logger *zap.Logger) *jobs.Manager {
	return jobs.NewManager(b, logger)
}

func provideGate() *jobs.Gate {
	return jobs.NewGate()
}

func provideServer(cfg *config.Config, db *store.DB, client provider.Client, limiter *ratelimit.Limiter, engine *intsync.Engine, orch *bulksend.Orchestrator, composer *report.Composer, mgr *jobs.Manager, gate *jobs.Gate, logger *zap.Logger) *api.Server {
	return api.NewServer(api.Deps{
		Config:       cfg,
		DB:           db,
		Client:       client,
		Limiter:      limiter,
		Engine:       engine,
		Orchestrator: orch,
		Composer:     composer,
		Jobs:         mgr,
		Gate:         gate,
		Logger:       logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *api.Server, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	var ln net.Listener

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var err error
			ln, err = net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return err
			}
			logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down")
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown error", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("db close error", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("lock release error", zap.Error(err))
			}
			logger.Info("shutdown complete")
			_ = logger.Sync()
			return nil
		},
	})
}
