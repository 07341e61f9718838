package daemon

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/ventchat/internal/config"
	"github.com/matheus3301/ventchat/internal/kv"
	"github.com/matheus3301/ventchat/internal/offline"
	"github.com/matheus3301/ventchat/internal/session"
	"github.com/matheus3301/ventchat/internal/store"
)

// Storage is an opened persisted key-value backend.
type Storage struct {
	Backend string
	Store   kv.Store
	// DB is set for the sqlite backend only.
	DB *store.DB
	// Recorder is nil for backends without a sync_state table.
	Recorder offline.CheckpointRecorder
	close    func() error
}

// Close closes the backend.
func (s *Storage) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStorage opens the backend named by cfg for a session. The caller must
// hold the session lock.
func OpenStorage(cfg *config.Config, sessionName string, logger *zap.Logger) (*Storage, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		dbPath := session.CacheDBPath(sessionName)
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
		logger.Info("store initialized", zap.String("backend", cfg.Storage.Backend), zap.String("path", dbPath))
		return &Storage{
			Backend:  cfg.Storage.Backend,
			Store:    db,
			DB:       db,
			Recorder: db,
			close:    db.Close,
		}, nil

	case config.StorageBadger:
		dir := session.BadgerDir(sessionName)
		b, err := store.OpenBadger(dir)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("backend", cfg.Storage.Backend), zap.String("path", dir))
		return &Storage{Backend: cfg.Storage.Backend, Store: b, close: b.Close}, nil

	case config.StorageMemory:
		logger.Warn("memory storage selected, cache will not survive restarts")
		return &Storage{Backend: cfg.Storage.Backend, Store: kv.NewMemory()}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
