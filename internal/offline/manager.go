package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheus3301/ventchat/internal/bus"
	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/kv"
	"github.com/matheus3301/ventchat/internal/metrics"
	"github.com/matheus3301/ventchat/internal/status"
)

// CheckpointKey is the sync-state key holding the time of the last flush.
const CheckpointKey = "last_checkpoint"

// CheckpointRecorder persists bookkeeping about flushes.
type CheckpointRecorder interface {
	UpdateCheckpoint(ctx context.Context, key, value string) error
}

// Checkpoint is the payload of bus.KindCheckpoint events.
type Checkpoint struct {
	At       time.Time
	Messages int
	Err      error
}

// Manager drives a Session through its lifecycle.
type Manager struct {
	session  *Session
	machine  *status.Machine
	bus      *bus.Bus
	metrics  *metrics.Metrics
	recorder CheckpointRecorder
	logger   *zap.Logger

	// mu serializes Initialize and ClearAll.
	mu sync.Mutex
	// flush is held for reading by checkpoints and for writing by ClearAll,
	// so a checkpoint never rewrites blobs that were just removed.
	flush  sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records checkpoints and cache sizes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithCheckpointRecorder stores the time of every successful flush.
func WithCheckpointRecorder(r CheckpointRecorder) Option {
	return func(mgr *Manager) { mgr.recorder = r }
}

// NewManager creates a manager for s. The machine starts Uninitialized.
func NewManager(s *Session, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		session: s,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the managed session.
func (m *Manager) Session() *Session {
	return m.session
}

// State returns the lifecycle state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Initialize hydrates the four caches from the persisted store. It runs the
// load at most once; concurrent and repeated callers return once the session
// is initialized.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.machine.Current() == status.Initialized {
		return nil
	}
	if err := m.machine.Transition(status.Initializing); err != nil {
		return err
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.session.Messages.Load(gctx) })
	g.Go(func() error { return m.session.Users.Load(gctx) })
	g.Go(func() error { return m.session.Chats.Load(gctx) })
	g.Go(func() error { return m.session.Connections.Load(gctx) })
	if err := g.Wait(); err != nil {
		_ = m.machine.Transition(status.Uninitialized)
		return fmt.Errorf("load caches: %w", err)
	}

	if err := m.machine.Transition(status.Initialized); err != nil {
		return err
	}
	m.logger.Info("offline caches loaded",
		zap.Int("messages", m.session.Messages.Len()),
		zap.Int("chats", len(m.session.Chats.Chats())),
		zap.Int("users", len(m.session.Users.Users())),
		zap.Int("connections", len(m.session.Connections.Connections())),
		zap.Duration("took", time.Since(start)))
	return nil
}

// SyncWithServer flushes every cache to the persisted store. All four are
// attempted; failures are joined.
func (m *Manager) SyncWithServer(ctx context.Context) error {
	m.flush.RLock()
	defer m.flush.RUnlock()

	s := m.session
	err := errors.Join(
		s.Messages.Save(ctx),
		s.Users.Save(ctx),
		s.Chats.Save(ctx),
		s.Connections.Save(ctx),
	)

	now := time.Now().UTC()
	if err == nil && m.recorder != nil {
		if rerr := m.recorder.UpdateCheckpoint(ctx, CheckpointKey, now.Format(time.RFC3339Nano)); rerr != nil {
			m.logger.Warn("failed to record checkpoint", zap.Error(rerr))
		}
	}

	m.metrics.Checkpoint(err)
	m.metrics.CacheEntries("messages", s.Messages.Len())
	m.metrics.CacheEntries("users", len(s.Users.Users()))
	m.metrics.CacheEntries("chats", len(s.Chats.Chats()))
	m.metrics.CacheEntries("connections", len(s.Connections.Connections()))
	m.bus.Emit(bus.KindCheckpoint, Checkpoint{At: now, Messages: s.Messages.Len(), Err: err})

	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// ClearAll empties the caches, removes every persisted blob including the
// profile and returns the session to Uninitialized so it can be initialized
// again, possibly for another user.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flush.Lock()
	defer m.flush.Unlock()

	m.session.reset()
	local := m.session.Local()
	err := errors.Join(
		local.Remove(ctx, kv.KeyMessages),
		local.Remove(ctx, kv.KeyUsers),
		local.Remove(ctx, kv.KeyChats),
		local.Remove(ctx, kv.KeyConnections),
		local.Remove(ctx, kv.KeyUserProfile),
	)

	switch m.machine.Current() {
	case status.Initialized, status.Initializing:
		if terr := m.machine.Transition(status.Uninitialized); terr != nil {
			err = errors.Join(err, terr)
		}
	}
	if err != nil {
		return fmt.Errorf("clear caches: %w", err)
	}
	m.logger.Info("offline caches cleared")
	return nil
}

// SetProfile stores the signed-in user's own profile.
func (m *Manager) SetProfile(ctx context.Context, u cache.User) error {
	return m.session.Local().Set(ctx, kv.KeyUserProfile, u)
}

// Profile returns the stored profile of the signed-in user.
func (m *Manager) Profile(ctx context.Context) (cache.User, bool) {
	var u cache.User
	ok := m.session.Local().Get(ctx, kv.KeyUserProfile, &u)
	return u, ok
}

// Start checkpoints the caches every interval until Stop or ctx is done.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, interval)
}

// Stop ends the checkpoint loop and flushes once more.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	if m.machine.Current() != status.Initialized {
		return nil
	}
	return m.SyncWithServer(ctx)
}

func (m *Manager) loop(ctx context.Context, interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.machine.Current() != status.Initialized {
				continue
			}
			if err := m.SyncWithServer(ctx); err != nil {
				m.logger.Error("periodic checkpoint failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
