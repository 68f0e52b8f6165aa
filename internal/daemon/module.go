// Package daemon composes the relay daemon with fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wpprelay/internal/api"
	"github.com/matheus3301/wpprelay/internal/bus"
	"github.com/matheus3301/wpprelay/internal/config"
	"github.com/matheus3301/wpprelay/internal/connection"
	"github.com/matheus3301/wpprelay/internal/credstore"
	"github.com/matheus3301/wpprelay/internal/directory"
	"github.com/matheus3301/wpprelay/internal/groupcache"
	"github.com/matheus3301/wpprelay/internal/lock"
	"github.com/matheus3301/wpprelay/internal/logging"
	"github.com/matheus3301/wpprelay/internal/metrics"
	"github.com/matheus3301/wpprelay/internal/outbox"
	"github.com/matheus3301/wpprelay/internal/relay"
	"github.com/matheus3301/wpprelay/internal/session"
	"github.com/matheus3301/wpprelay/internal/status"
	"github.com/matheus3301/wpprelay/internal/store"
	intsync "github.com/matheus3301/wpprelay/internal/sync"
	"github.com/matheus3301/wpprelay/internal/transport"
	"github.com/matheus3301/wpprelay/internal/wa"
	"github.com/matheus3301/wpprelay/internal/webhook"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	Debug       bool
	SocketPath  string           // optional override for testing; empty = use default
	Dialer      transport.Dialer // optional override for testing; nil = whatsmeow
	Logger      *zap.Logger      // optional override for testing; nil = file + stderr
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
			provideCredStore,
			provideGroupCache,
			provideDirectory,
			provideDialer,
			provideManager,
			provideWebhook,
			provideComposer,
			providePool,
			providePipeline,
			provideStore,
			provideSyncEngine,
			provideHTTPServer,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config == nil {
		return config.Default()
	}
	return p.Config
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New(bus.WithDropHook(func(kind string) {
		metrics.EventDropped(bus.Topic(kind))
	}))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideCredStore depends on the lock so the envelope is never touched by
// a second daemon.
func provideCredStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (credstore.Store, error) {
	var opts []credstore.Option
	if cfg.Credentials.Seal {
		path := cfg.Credentials.IdentityFile
		if path == "" {
			path = session.IdentityPath(p.SessionName)
		}
		id, err := credstore.LoadOrCreateIdentity(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, credstore.WithIdentity(id))
		logger.Info("credential sealing enabled", zap.String("recipient", id.Recipient().String()))
	}
	return credstore.NewFileStore(session.Dir(p.SessionName), opts...), nil
}

func provideGroupCache(cfg *config.Config) *groupcache.Cache {
	return groupcache.New(cfg.GroupCache.Size, cfg.GroupCache.TTL)
}

func provideDirectory() *directory.Directory {
	return directory.New()
}

func provideDialer(p Params, _ *lock.Lock, cache *groupcache.Cache, logger *zap.Logger) (transport.Dialer, error) {
	if p.Dialer != nil {
		return p.Dialer, nil
	}
	return wa.NewDialer(context.Background(), session.DeviceDBPath(p.SessionName), cache, logger.Named("wa"))
}

func provideManager(dialer transport.Dialer, creds credstore.Store, m *status.Machine, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *connection.Manager {
	return connection.NewManager(dialer, creds, m, b, logger.Named("connection"), connection.Config{
		Backoff: connection.Backoff{
			Base:   cfg.Reconnect.BaseDelay,
			Max:    cfg.Reconnect.MaxDelay,
			Jitter: cfg.Reconnect.Jitter,
		},
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		LogoutOnStop: cfg.Session.LogoutOnStop,
	})
}

func provideWebhook(cfg *config.Config) *webhook.Client {
	return webhook.New(cfg.Webhook.URL, cfg.Webhook.APIKey, cfg.Webhook.Timeout)
}

func provideComposer(mgr *connection.Manager, dir *directory.Directory, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Composer {
	return outbox.NewComposer(mgr, dir, b, logger.Named("outbox"), outbox.Config{
		Rate:    cfg.Outbound.Rate,
		Burst:   cfg.Outbound.Burst,
		Timeout: cfg.Outbound.SendTimeout,
	})
}

func providePool(cfg *config.Config, logger *zap.Logger) *relay.Pool {
	return relay.NewPool(cfg.Relay.Workers, cfg.Relay.QueueSize, cfg.Relay.ProcessTimeout, logger.Named("pool"))
}

func providePipeline(mgr *connection.Manager, hook *webhook.Client, composer *outbox.Composer, dir *directory.Directory, pool *relay.Pool, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *relay.Pipeline {
	return relay.NewPipeline(mgr, hook, composer, dir, pool, b, logger.Named("relay"), relay.Config{
		DeleteImagesAfterReply: cfg.Relay.DeleteImagesAfterReply,
	})
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger.Named("sync"))
}

func provideHTTPServer(p Params, cfg *config.Config, mgr *connection.Manager, composer *outbox.Composer, db *store.DB, logger *zap.Logger) *api.Server {
	return api.NewServer(api.Options{
		Addr:        cfg.HTTP.Addr,
		APIKey:      cfg.HTTP.APIKey,
		SessionName: p.SessionName,
	}, mgr, composer, db, logger.Named("http"))
}

func provideServer(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}
	return NewServer(socketPath, b, logger.Named("grpc"))
}

type lifecycleDeps struct {
	fx.In

	Lock     *lock.Lock
	Dialer   transport.Dialer
	Manager  *connection.Manager
	Pipeline *relay.Pipeline
	Pool     *relay.Pool
	DB       *store.DB
	Engine   *intsync.Engine
	Dir      *directory.Directory
	HTTP     *api.Server
	GRPC     *Server
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	logger := d.Logger
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := intsync.Warm(d.DB, d.Dir)
			if err != nil {
				logger.Warn("directory warm-up failed", zap.Error(err))
			} else {
				logger.Info("directory warmed", zap.Int("chats", n))
			}

			// Persist relay and outbox events.
			d.Engine.Start(context.Background())
			d.Pool.Start(context.Background())
			d.Manager.Subscribe(d.Pipeline.Handle)

			d.GRPC.Start()
			d.GRPC.SetState(d.Manager.Status())
			if err := d.HTTP.Start(); err != nil {
				d.GRPC.Stop(ctx)
				d.Engine.Stop()
				return err
			}

			// A failed first dial is retried by the manager.
			if err := d.Manager.Start(ctx); err != nil {
				logger.Warn("initial connect failed", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Manager.Stop(ctx); err != nil {
				logger.Warn("connection stop", zap.Error(err))
			}
			if err := d.Pool.Stop(); err != nil {
				logger.Warn("relay pool stop", zap.Error(err))
			}
			if err := d.HTTP.Stop(ctx); err != nil {
				logger.Warn("HTTP server stop", zap.Error(err))
			}
			d.GRPC.Stop(ctx)
			d.Engine.Stop()
			if c, ok := d.Dialer.(interface{ Close() error }); ok {
				if err := c.Close(); err != nil {
					logger.Warn("closing device store", zap.Error(err))
				}
			}
			if err := d.DB.Close(); err != nil {
				logger.Warn("closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
