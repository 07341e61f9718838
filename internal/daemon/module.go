package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/ventchat/internal/bus"
	"github.com/matheus3301/ventchat/internal/config"
	"github.com/matheus3301/ventchat/internal/kv"
	"github.com/matheus3301/ventchat/internal/lock"
	"github.com/matheus3301/ventchat/internal/logging"
	"github.com/matheus3301/ventchat/internal/metrics"
	"github.com/matheus3301/ventchat/internal/offline"
	"github.com/matheus3301/ventchat/internal/outbox"
	"github.com/matheus3301/ventchat/internal/remote"
	"github.com/matheus3301/ventchat/internal/session"
	"github.com/matheus3301/ventchat/internal/status"
	intsync "github.com/matheus3301/ventchat/internal/sync"
)

// LockHolder is written into the session lock by the daemon.
const LockHolder = "ventd"

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	LogLevel    string
	// Config overrides ~/.ventchat/config.toml when set.
	Config *config.Config
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
			provideStorage,
			provideLocal,
			provideMetrics,
			provideRemote,
			provideSession,
			provideManager,
			provideReconciler,
			provideEngine,
			provideSender,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOrDefault(session.ConfigPath()); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, logging.ParseLevel(p.LogLevel))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName), LockHolder)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStorage depends on the lock so the backend is never opened by two processes.
func provideStorage(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*Storage, error) {
	return OpenStorage(cfg, p.SessionName, logger)
}

func provideLocal(st *Storage, logger *zap.Logger) *kv.Local {
	return kv.NewLocal(st.Store, logger)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideRemote(cfg *config.Config, logger *zap.Logger) remote.DocStore {
	settings := remote.DefaultBreakerSettings()
	if cfg.Remote.FailureThreshold > 0 {
		settings.FailureThreshold = cfg.Remote.FailureThreshold
	}
	if cfg.Remote.BreakerTimeout.Duration > 0 {
		settings.Timeout = cfg.Remote.BreakerTimeout.Duration
	}
	logger.Info("remote store initialized", zap.String("backend", cfg.Remote.Backend))
	return remote.WithBreaker(remote.NewMemory(), settings, logger)
}

func provideSession(local *kv.Local) *offline.Session {
	return offline.NewSession(local)
}

func provideManager(s *offline.Session, m *status.Machine, b *bus.Bus, st *Storage, met *metrics.Metrics, logger *zap.Logger) *offline.Manager {
	opts := []offline.Option{offline.WithMetrics(met)}
	if st.Recorder != nil {
		opts = append(opts, offline.WithCheckpointRecorder(st.Recorder))
	}
	return offline.NewManager(s, m, b, logger, opts...)
}

func provideReconciler(s *offline.Session, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(s, b, m, logger)
}

func provideEngine(store remote.DocStore, rec *intsync.Reconciler, m *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(store, rec, m, logger)
}

func provideSender(store remote.DocStore, s *offline.Session, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(store, s, b, logger, outbox.WithMetrics(m))
}

type lifecycleParams struct {
	fx.In

	Config  *config.Config
	Bus     *bus.Bus
	Server  *Server
	Lock    *lock.Lock
	Storage *Storage
	Manager *offline.Manager
	Engine  *intsync.Engine
	Sender  *outbox.Sender
	Logger  *zap.Logger
}

// flushEnabled reports whether leftovers should be re-sent in the background.
// The memory backend lives only as long as the process, so confirming
// provisional messages against it would mark them synced when nothing was
// persisted anywhere.
func flushEnabled(cfg *config.Config) bool {
	return cfg.Remote.Backend != config.RemoteMemory
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	var stopWatch func()
	cfg, logger := p.Config, p.Logger
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	var eventsDone []<-chan struct{}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			eventsDone = append(eventsDone,
				p.Bus.Forward(eventsCtx, "session.", 8, func(evt bus.Event) { logEvent(logger, zap.InfoLevel, evt) }),
				p.Bus.Forward(eventsCtx, "send.", 64, func(evt bus.Event) { logEvent(logger, zap.DebugLevel, evt) }),
			)

			if err := p.Manager.Initialize(ctx); err != nil {
				stopEvents()
				return err
			}

			p.Manager.Start(context.Background(), cfg.Sync.CheckpointInterval.Duration)
			if flushEnabled(cfg) {
				p.Sender.Start(context.Background(), cfg.Sync.FlushInterval.Duration)
			} else {
				logger.Info("remote backend is ephemeral, unsynced messages stay provisional",
					zap.String("backend", cfg.Remote.Backend))
			}

			if cfg.UserID != "" {
				stop, err := p.Engine.WatchChatList(context.Background(), cfg.UserID)
				if err != nil {
					logger.Error("chat list watch failed", zap.Error(err))
				} else {
					stopWatch = stop
				}
			} else {
				logger.Info("no user_id configured, chat list watch disabled")
			}

			return p.Server.Start()
		},
		OnStop: func(ctx context.Context) error {
			if stopWatch != nil {
				stopWatch()
			}
			p.Sender.Stop()
			if err := p.Manager.Stop(ctx); err != nil {
				logger.Error("final checkpoint failed", zap.Error(err))
			}
			p.Server.Stop(ctx)
			stopEvents()
			for _, done := range eventsDone {
				<-done
			}
			if dropped := p.Bus.Dropped(); dropped > 0 {
				logger.Warn("bus events dropped", zap.Uint64("count", dropped))
			}
			if err := p.Storage.Close(); err != nil {
				logger.Warn("error closing storage", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func logEvent(logger *zap.Logger, level zapcore.Level, evt bus.Event) {
	fields := []zap.Field{zap.String("kind", evt.Kind)}
	switch payload := evt.Payload.(type) {
	case status.StatusChange:
		fields = append(fields, zap.String("from", string(payload.From)), zap.String("to", string(payload.To)))
	case bus.ChatRef:
		fields = append(fields, zap.String("chat_id", payload.ChatID), zap.String("msg_id", payload.MessageID))
	}
	if evt.Kind == bus.KindMessageFailed {
		level = zap.WarnLevel
	}
	logger.Log(level, "event", fields...)
}
