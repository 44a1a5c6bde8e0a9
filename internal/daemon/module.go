package daemon

import (
	"context"
	"path/filepath"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/audit"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Dir         string // optional session directory override
	ConfigPath  string // optional; empty = ~/.chatsync/config.toml
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return session.Dir(p.SessionName)
}

func (p Params) dbPath() string {
	if p.Dir != "" {
		return filepath.Join(p.Dir, "chatsync.db")
	}
	return session.DBPath(p.SessionName)
}

func (p Params) logPath() string {
	if p.Dir != "" {
		return filepath.Join(p.Dir, "logs", "chatsyncd.log")
	}
	return session.LogPath(p.SessionName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSeed,
			provideNetwork,
			provideEngine,
			provideServices,
			provideGateway,
			provideAuditPublisher,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	return logging.New(p.logPath(), p.SessionName, level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// The lock parameter orders store opening after the lock is held.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.dbPath()
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

func provideSeed(cfg *config.Config, logger *zap.Logger) (*engine.Seed, error) {
	if cfg.SeedPath == "" {
		return nil, nil
	}
	seed, err := engine.LoadSeed(cfg.SeedPath)
	if err != nil {
		return nil, err
	}
	logger.Info("seed loaded", zap.String("path", cfg.SeedPath),
		zap.Int("users", len(seed.Users)), zap.Int("conversations", len(seed.Conversations)))
	return seed, nil
}

func provideEngine(cfg *config.Config, n *Network, db *store.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) (*engine.Engine, api.Engine, error) {
	e, err := engine.New(engine.Options{
		Self: chat.User{
			ID:          cfg.Identity.UserID,
			DisplayName: cfg.Identity.DisplayName,
			Presence:    chat.Online,
		},
		Transport:  n.Transport,
		DB:         db,
		Bus:        b,
		Link:       m,
		Logger:     logger,
		Outbox:     cfg.OutboxConfig(),
		DetectGaps: n.DetectGaps,
	})
	if err != nil {
		return nil, nil, err
	}
	return e, e, nil
}

type services struct {
	fx.Out

	Session  Service `group:"services"`
	Chat     Service `group:"services"`
	Message  Service `group:"services"`
	Sync     Service `group:"services"`
	Activity Service `group:"services"`
}

func provideServices(p Params, e api.Engine, b *bus.Bus, logger *zap.Logger) services {
	return services{
		Session:  api.NewSessionService(p.SessionName, e),
		Chat:     api.NewChatService(e),
		Message:  api.NewMessageService(e),
		Sync:     api.NewSyncService(e, b, logger.Named("api")),
		Activity: api.NewActivityService(e),
	}
}

// provideGateway returns nil when the gateway is disabled.
func provideGateway(cfg *config.Config, e api.Engine, logger *zap.Logger) *gateway.Server {
	if cfg.Gateway.Addr == "" {
		return nil
	}
	return gateway.New(cfg.Gateway.Addr, e, logger.Named("gateway"))
}

func provideAuditPublisher(cfg *config.Config, logger *zap.Logger) audit.Publisher {
	return audit.NewPublisher(cfg.Audit.AMQPURL, cfg.Audit.Exchange, logger.Named("audit"))
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Server    *Server
	Gateway   *gateway.Server
	Lock      *lock.Lock
	DB        *store.DB
	Network   *Network
	Seed      *engine.Seed
	Engine    *engine.Engine
	Audit     audit.Publisher
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func registerLifecycle(lp lifecycleParams) {
	logger := lp.Logger
	var cancel context.CancelFunc

	lp.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())

			if err := lp.Engine.Init(runCtx, lp.Seed); err != nil {
				cancel()
				return err
			}

			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if lp.Gateway != nil {
				if err := lp.Gateway.Start(); err != nil {
					logger.Error("gateway failed to start", zap.Error(err))
				}
			}

			logger.Info("audit publisher ready", zap.String("mode", audit.Mode(lp.Audit)),
				zap.String("reason", audit.NoopReason(lp.Audit)))
			go audit.NewForwarder(lp.Audit, lp.Bus, lp.Config.Identity.UserID, logger.Named("audit")).Run(runCtx)

			logger.Info("daemon started",
				zap.String("user_id", lp.Config.Identity.UserID),
				zap.String("transport", lp.Network.Kind),
				zap.String("socket", lp.Server.SocketPath()),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if lp.Gateway != nil {
				if err := lp.Gateway.Stop(ctx); err != nil {
					logger.Warn("gateway shutdown", zap.Error(err))
				}
			}
			lp.Server.Stop(ctx)
			lp.Engine.Dispose()
			if err := lp.Network.Close(); err != nil {
				logger.Warn("error closing transport", zap.Error(err))
			}
			_ = lp.Audit.Close()
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
