package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/config"
	"github.com/matheus3301/chatbridge/internal/lock"
	"github.com/matheus3301/chatbridge/internal/logging"
	"github.com/matheus3301/chatbridge/internal/podio"
	"github.com/matheus3301/chatbridge/internal/status"
	"github.com/matheus3301/chatbridge/internal/store"
	intsync "github.com/matheus3301/chatbridge/internal/sync"
	"github.com/matheus3301/chatbridge/internal/wazzup"
	"github.com/matheus3301/chatbridge/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the bootstrap inputs passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the bridge daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("bridge",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			providePodio,
			provideWazzup,
			provideForwarder,
			provideReconciler,
			provideWebhookHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Path, cfg.Logging.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	dir := filepath.Dir(cfg.Database.Path)
	logger.Info("acquiring bridge lock", zap.String("dir", dir))
	l, err := lock.Acquire(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("bridge lock acquired")
	return l, nil
}

// provideStore opens and migrates the tracking store. This is the only
// fatal startup path: a bridge without its store cannot do anything safely.
func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.Database.Path)
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
	logger.Info("store initialized", zap.String("path", cfg.Database.Path))
	return db, nil
}

func providePodio(cfg *config.Config, logger *zap.Logger) *podio.Client {
	return podio.New(cfg.Podio, cfg.HTTPTimeout(), cfg.Integration.MaxConcurrent, logger)
}

func provideWazzup(cfg *config.Config, logger *zap.Logger) *wazzup.Client {
	return wazzup.New(cfg.Wazzup, cfg.HTTPTimeout(), cfg.Integration.MaxConcurrent, logger)
}

func provideForwarder(db *store.DB, pc *podio.Client, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *intsync.Forwarder {
	return intsync.NewForwarder(db, pc, cfg, b, logger)
}

func provideReconciler(db *store.DB, fwd *intsync.Forwarder, pc *podio.Client, wc *wazzup.Client,
	cfg *config.Config, m *status.Machine, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, fwd, pc, wc, cfg, m, b, logger)
}

func provideWebhookHandler(db *store.DB, fwd *intsync.Forwarder, b *bus.Bus, logger *zap.Logger) *webhook.Handler {
	return webhook.NewHandler(db, fwd, b, logger)
}

func provideServer(cfg *config.Config, h *webhook.Handler, logger *zap.Logger) *webhook.Server {
	return webhook.NewServer(cfg.Server.ListenAddr, h, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *webhook.Server, lk *lock.Lock,
	pc *podio.Client, wc *wazzup.Client, rec *intsync.Reconciler,
	machine *status.Machine, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			_ = machine.Transition(status.Idle)

			// Upstream warm-up runs in the background so a dead or slow
			// platform can never consume the lifecycle start budget; the
			// clients authenticate lazily on the first real call anyway.
			go func() {
				warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := pc.Authenticate(warmCtx); err != nil {
					logger.Error("initial podio authentication failed", zap.Error(err))
				}
				if cfg.Wazzup.WebhookURL != "" {
					if err := wc.RegisterWebhook(warmCtx, cfg.Wazzup.WebhookURL); err != nil {
						logger.Error("webhook registration failed", zap.Error(err))
					}
				}
			}()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("webhook server error", zap.Error(err))
				}
			}()

			rec.Start(context.Background())
			logger.Info("bridge started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			rec.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("bridge stopped")
			return nil
		},
	})
}
