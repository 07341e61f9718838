package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/ventchat/internal/kv"
)

// ConnectionCache holds connection edges as an ordered list, persisted as such.
type ConnectionCache struct {
	mu    sync.RWMutex
	conns []Connection
	local *kv.Local
}

// NewConnectionCache creates an empty connection cache persisted through local.
func NewConnectionCache(local *kv.Local) *ConnectionCache {
	return &ConnectionCache{local: local}
}

// Load hydrates the cache from its persisted blob.
func (c *ConnectionCache) Load(ctx context.Context) error {
	data, found, err := load[[]Connection](ctx, c.local, kv.KeyConnections)
	if err != nil || !found {
		return err
	}
	conns := make([]Connection, len(data))
	for i, conn := range data {
		conns[i] = cloneConnection(conn)
	}
	c.mu.Lock()
	c.conns = conns
	c.mu.Unlock()
	return nil
}

// Save writes the whole list back as one blob.
func (c *ConnectionCache) Save(ctx context.Context) error {
	if err := c.local.Set(ctx, kv.KeyConnections, c.Connections()); err != nil {
		return fmt.Errorf("save connections: %w", err)
	}
	return nil
}

// UserConnections returns the edges owned by userID.
func (c *ConnectionCache) UserConnections(userID string) []Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Connection
	for _, conn := range c.conns {
		if conn.UserID == userID {
			out = append(out, cloneConnection(conn))
		}
	}
	return out
}

// AddConnection upserts conn by id. A replaced entry keeps its position.
func (c *ConnectionCache) AddConnection(conn Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn = cloneConnection(conn)
	if i := slices.IndexFunc(c.conns, func(x Connection) bool { return x.ID == conn.ID }); i >= 0 {
		c.conns[i] = conn
		return
	}
	c.conns = append(c.conns, conn)
}

// RemoveConnection drops the edge with the given id.
func (c *ConnectionCache) RemoveConnection(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns = slices.DeleteFunc(c.conns, func(x Connection) bool { return x.ID == id })
}

// Connections returns every cached edge in insertion order.
func (c *ConnectionCache) Connections() []Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Connection, len(c.conns))
	for i, conn := range c.conns {
		out[i] = cloneConnection(conn)
	}
	return out
}

// Reset empties the cache.
func (c *ConnectionCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns = nil
}
