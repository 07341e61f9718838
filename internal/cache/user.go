package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/ventchat/internal/kv"
)

// UserPatch holds the fields UpdateUser merges into a user. Nil fields are left untouched.
type UserPatch struct {
	Username        *string
	Gender          *Gender
	Avatar          *string
	Rating          *float64
	Verified        *bool
	Status          *Presence
	LastSeen        *time.Time
	ConnectionCount *int
	Synced          *bool
}

func (p UserPatch) apply(u *User) {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	if p.Rating != nil {
		u.Rating = *p.Rating
	}
	if p.Verified != nil {
		u.Verified = *p.Verified
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	if p.LastSeen != nil {
		u.LastSeen = cloneTime(p.LastSeen)
	}
	if p.ConnectionCount != nil {
		u.ConnectionCount = *p.ConnectionCount
	}
	if p.Synced != nil {
		u.Synced = *p.Synced
	}
}

// UserCache holds user profiles by id. Last write wins.
type UserCache struct {
	mu    sync.RWMutex
	users map[string]User
	local *kv.Local
}

// NewUserCache creates an empty user cache persisted through local.
func NewUserCache(local *kv.Local) *UserCache {
	return &UserCache{users: make(map[string]User), local: local}
}

// Load hydrates the cache from its persisted blob.
func (c *UserCache) Load(ctx context.Context) error {
	data, found, err := load[map[string]User](ctx, c.local, kv.KeyUsers)
	if err != nil || !found {
		return err
	}
	users := make(map[string]User, len(data))
	for id, u := range data {
		users[id] = cloneUser(u)
	}
	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
	return nil
}

// Save writes the whole cache back as one blob.
func (c *UserCache) Save(ctx context.Context) error {
	if err := c.local.Set(ctx, kv.KeyUsers, c.Snapshot()); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

// User returns a cached profile.
func (c *UserCache) User(id string) (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return cloneUser(u), ok
}

// SetUser stores u, replacing any previous profile with the same id.
func (c *UserCache) SetUser(u User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = cloneUser(u)
}

// UpdateUser merges patch into a cached profile. It reports whether the user was found.
func (c *UserCache) UpdateUser(id string, patch UserPatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[id]
	if !ok {
		return false
	}
	patch.apply(&u)
	c.users[id] = u
	return true
}

// Users returns every cached profile ordered by id.
func (c *UserCache) Users() []User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a deep copy of the whole cache.
func (c *UserCache) Snapshot() map[string]User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]User, len(c.users))
	for id, u := range c.users {
		out[id] = cloneUser(u)
	}
	return out
}

// Reset empties the cache.
func (c *UserCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = make(map[string]User)
}
