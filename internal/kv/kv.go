// Package kv defines the persisted key-value contract the caches are flushed to.
package kv

import (
	"context"
	"errors"
)

// Storage keys, one blob per cache type.
const (
	KeyMessages    = "cached_messages"
	KeyUsers       = "cached_users"
	KeyChats       = "cached_chats"
	KeyConnections = "cached_connections"
	KeyUserProfile = "cached_user_profile"
)

// ErrNotFound is returned by Store.Get when the key holds no value.
var ErrNotFound = errors.New("kv: key not found")

// Store is durable string-keyed blob storage. Implementations must be safe for
// concurrent use; no transactional guarantee across keys is required.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}
