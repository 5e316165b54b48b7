// Package daemon composes the services into a running application.
package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Ericobon/EsferaZap-sub001/internal/ai"
	"github.com/Ericobon/EsferaZap-sub001/internal/api"
	"github.com/Ericobon/EsferaZap-sub001/internal/bus"
	"github.com/Ericobon/EsferaZap-sub001/internal/channel"
	"github.com/Ericobon/EsferaZap-sub001/internal/channel/wa"
	"github.com/Ericobon/EsferaZap-sub001/internal/config"
	"github.com/Ericobon/EsferaZap-sub001/internal/dispatch"
	"github.com/Ericobon/EsferaZap-sub001/internal/lock"
	"github.com/Ericobon/EsferaZap-sub001/internal/logging"
	"github.com/Ericobon/EsferaZap-sub001/internal/queue"
	"github.com/Ericobon/EsferaZap-sub001/internal/session"
	"github.com/Ericobon/EsferaZap-sub001/internal/store"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks. Queue and registry are explicitly constructed process-wide
// services, not ambient globals.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideAIRegistry,
			provideTransportFactory,
			provideSessionRegistry,
			provideProcessor,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.Config.LogPath(), p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := p.Config.EnsureDirs(); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.DataDir)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(p.Config.DBPath())
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
	return db, nil
}

func provideAIRegistry(p Params, logger *zap.Logger) *ai.Registry {
	registry := ai.NewRegistry()
	if key := p.Config.AI.OpenAIKey; key != "" {
		registry.Register("openai", ai.NewOpenAIResponder(key))
	}
	if key := p.Config.AI.AnthropicKey; key != "" {
		registry.Register("anthropic", ai.NewAnthropicResponder(key))
	}
	logger.Info("ai providers configured", zap.Strings("providers", registry.Names()))
	return registry
}

func provideTransportFactory(p Params, logger *zap.Logger) channel.Factory {
	cfg := p.Config
	if cfg.Transport.Backend == "simulated" {
		return func(string) (channel.Transport, error) {
			return channel.NewSimulated(), nil
		}
	}
	return func(botID string) (channel.Transport, error) {
		if err := os.MkdirAll(cfg.BotDir(botID), 0700); err != nil {
			return nil, err
		}
		return wa.New(context.Background(), cfg.ChannelDBPath(botID), logger.With(zap.String("bot_id", botID)))
	}
}

func provideSessionRegistry(p Params, factory channel.Factory, db *store.DB, b *bus.Bus, logger *zap.Logger) *session.Registry {
	return session.NewRegistry(factory, db, b, logger, p.Config.Pairing.Timeout.Std())
}

func provideProcessor(p Params, db *store.DB, aiReg *ai.Registry, registry *session.Registry, b *bus.Bus, logger *zap.Logger) *dispatch.Processor {
	lookup := func(botID string) (channel.Transport, error) {
		s, err := registry.Get(botID)
		if err != nil {
			return nil, err
		}
		return s.Transport(), nil
	}
	return dispatch.NewProcessor(db, aiReg, lookup, b, logger, dispatch.Options{
		Queue: queue.Config{
			TickInterval: p.Config.Queue.TickInterval.Std(),
			MaxRetries:   p.Config.Queue.MaxRetries,
		},
		HistoryWindow: p.Config.AI.HistoryWindow,
		AITimeout:     p.Config.AI.RequestTimeout.Std(),
	})
}

func provideServer(p Params, db *store.DB, registry *session.Registry, processor *dispatch.Processor, aiReg *ai.Registry, logger *zap.Logger) *api.Server {
	return api.NewServer(p.Config.ListenAddr, db, registry, processor, aiReg, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *api.Server, registry *session.Registry, processor *dispatch.Processor, db *store.DB, b *bus.Bus, lk *lock.Lock, logger *zap.Logger) {
	var stopObserver func()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			stopObserver = observeEvents(b, logger)

			// Inbound channel events route through the shared processor.
			// Acceptance is synchronous so rows land in receipt order and the
			// transport's event loop is never blocked on generation.
			registry.SetInboundHandler(func(botID, from, displayName, content, msgType string) {
				if err := processor.HandleDetached(botID, from, displayName, content, msgType); err != nil {
					logger.Error("inbound pipeline failed", zap.String("bot_id", botID), zap.Error(err))
				}
			})

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Bots that were connected before the restart reconnect now;
			// linked devices resume without a new QR handshake.
			go reconnectBots(db, registry, logger)

			return nil
		},
		OnStop: func(ctx context.Context) error {
			registry.CloseAll()
			processor.Close()
			srv.Stop(ctx)
			if stopObserver != nil {
				stopObserver()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// observeEvents logs every bus event until the returned stop func is called.
func observeEvents(b *bus.Bus, logger *zap.Logger) func() {
	ch, unsubscribe := b.Subscribe("", 64)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-ch:
				logger.Debug("event",
					zap.String("kind", evt.Kind),
					zap.Any("payload", evt.Payload))
			case <-done:
				return
			}
		}
	}()
	return func() {
		unsubscribe()
		close(done)
	}
}

func reconnectBots(db *store.DB, registry *session.Registry, logger *zap.Logger) {
	bots, err := db.ListActiveBots()
	if err != nil {
		logger.Error("list active bots", zap.Error(err))
		return
	}
	for _, bot := range bots {
		s, err := registry.GetOrCreate(bot.ID)
		if err != nil {
			logger.Error("recreate session failed", zap.String("bot_id", bot.ID), zap.Error(err))
			_ = db.UpdateBotStatus(bot.ID, store.BotInactive)
			continue
		}
		if _, err := s.Start(context.Background()); err != nil {
			logger.Error("reconnect failed", zap.String("bot_id", bot.ID), zap.Error(err))
			_ = db.UpdateBotStatus(bot.ID, store.BotInactive)
		}
	}
}
