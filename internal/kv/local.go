package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Local encodes values as JSON on top of a Store. Reads fail soft: a missing,
// unreadable or corrupted blob is logged and reported as absent.
type Local struct {
	store  Store
	logger *zap.Logger
}

// NewLocal wraps a Store.
func NewLocal(store Store, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{store: store, logger: logger}
}

// Get decodes the blob stored under key into dst. It returns false when
// nothing usable was found.
func (l *Local) Get(ctx context.Context, key string, dst any) bool {
	data, err := l.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		l.logger.Error("local storage get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		l.logger.Error("local storage decode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set encodes v and overwrites the blob under key.
func (l *Local) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := l.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes the blob under key. Removing an absent key is not an error.
func (l *Local) Remove(ctx context.Context, key string) error {
	if err := l.store.Remove(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
