// Package daemon composes the whole service: config, storage, bus, session
// registry, gateway, and the HTTP surface, wired together with fx.
package daemon

import (
	"context"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mvalverde/chatmux/internal/bus"
	"github.com/mvalverde/chatmux/internal/client"
	"github.com/mvalverde/chatmux/internal/config"
	"github.com/mvalverde/chatmux/internal/gateway"
	"github.com/mvalverde/chatmux/internal/httpapi"
	"github.com/mvalverde/chatmux/internal/lock"
	"github.com/mvalverde/chatmux/internal/logging"
	"github.com/mvalverde/chatmux/internal/paths"
	"github.com/mvalverde/chatmux/internal/registry"
	"github.com/mvalverde/chatmux/internal/store"
	"github.com/mvalverde/chatmux/internal/translate"
	"github.com/mvalverde/chatmux/internal/wa"
)

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideDrivers,
			provideTranslator,
			provideRegistry,
			provideGateway,
			provideRouter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(paths.LogPath(cfg.DataDir))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDataDir(cfg.DataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring data-dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data-dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.AppDBPath(cfg.DataDir)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDrivers() *client.Drivers {
	drivers := client.NewDrivers()
	drivers.Register(client.TypeWhatsApp, wa.Driver{})
	return drivers
}

func provideTranslator(cfg *config.Config, logger *zap.Logger) *translate.Translator {
	return translate.New(cfg.TranslateUpstream, logger)
}

func provideRegistry(cfg *config.Config, b *bus.Bus, db *store.DB, drivers *client.Drivers, tr *translate.Translator, logger *zap.Logger) *registry.Registry {
	return registry.New(registry.Params{
		Bus:        b,
		DB:         db,
		Drivers:    drivers,
		Translator: tr,
		DataDir:    cfg.DataDir,
		Tunables:   cfg.Tunables,
		Logger:     logger,
	})
}

func provideGateway(reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(reg, b, logger)
}

func provideRouter(cfg *config.Config, db *store.DB, reg *registry.Registry, gw *gateway.Gateway, tr *translate.Translator, logger *zap.Logger) *chi.Mux {
	return httpapi.NewRouter(db, reg, gw, tr, cfg.AdminToken, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, reg *registry.Registry, gw *gateway.Gateway, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := reg.Rehydrate(context.Background()); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			gw.Close()
			reg.StopAll()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
