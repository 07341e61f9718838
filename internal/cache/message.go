package cache

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/ventchat/internal/kv"
	"github.com/matheus3301/ventchat/internal/status"
)

// MessagePatch holds the fields UpdateMessage merges into a message. Nil fields
// are left untouched.
type MessagePatch struct {
	Content   *string
	EditedAt  *time.Time
	Status    *status.Delivery
	ReadBy    []string
	DeletedBy []string
	Synced    *bool
}

func (p MessagePatch) apply(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.EditedAt != nil {
		m.EditedAt = cloneTime(p.EditedAt)
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.ReadBy != nil {
		m.ReadBy = cloneSet(p.ReadBy)
	}
	if p.DeletedBy != nil {
		m.DeletedBy = cloneSet(p.DeletedBy)
	}
	if p.Synced != nil {
		m.Synced = *p.Synced
	}
}

// MessageCache holds messages per chat, each list sorted by CreatedAt ascending.
type MessageCache struct {
	mu    sync.RWMutex
	chats map[string][]Message
	local *kv.Local
}

// NewMessageCache creates an empty message cache persisted through local.
func NewMessageCache(local *kv.Local) *MessageCache {
	return &MessageCache{chats: make(map[string][]Message), local: local}
}

// Load hydrates the cache from its persisted blob. A missing or corrupted blob
// leaves the cache as it is.
func (c *MessageCache) Load(ctx context.Context) error {
	data, found, err := load[map[string][]Message](ctx, c.local, kv.KeyMessages)
	if err != nil || !found {
		return err
	}
	chats := make(map[string][]Message, len(data))
	for chatID, list := range data {
		list = cloneMessages(list)
		sortMessages(list)
		chats[chatID] = list
	}
	c.mu.Lock()
	c.chats = chats
	c.mu.Unlock()
	return nil
}

// Save writes the whole cache back as one blob.
func (c *MessageCache) Save(ctx context.Context) error {
	if err := c.local.Set(ctx, kv.KeyMessages, c.Snapshot()); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

// Messages returns the chat's messages sorted by CreatedAt ascending.
func (c *MessageCache) Messages(chatID string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneMessages(c.chats[chatID])
}

// VisibleMessages returns the chat's messages minus those viewerID deleted for
// themselves.
func (c *MessageCache) VisibleMessages(chatID, viewerID string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Message
	for _, m := range c.chats[chatID] {
		if !m.HiddenFor(viewerID) {
			out = append(out, cloneMessage(m))
		}
	}
	return out
}

// Message returns a single message.
func (c *MessageCache) Message(chatID, id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := indexOf(c.chats[chatID], id)
	if i < 0 {
		return Message{}, false
	}
	return cloneMessage(c.chats[chatID][i]), true
}

// LastMessage returns the newest message of a chat.
func (c *MessageCache) LastMessage(chatID string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.chats[chatID]
	if len(list) == 0 {
		return Message{}, false
	}
	return cloneMessage(list[len(list)-1]), true
}

// AddMessage upserts m by id (an existing entry is replaced wholly) and keeps
// the chat sorted.
func (c *MessageCache) AddMessage(chatID string, m Message) {
	c.AddMessages(chatID, m)
}

// AddMessages upserts several messages and sorts once.
func (c *MessageCache) AddMessages(chatID string, msgs ...Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.chats[chatID]
	for _, m := range msgs {
		m = cloneMessage(m)
		if i := indexOf(list, m.ID); i >= 0 {
			list[i] = m
			continue
		}
		list = append(list, m)
	}
	sortMessages(list)
	c.chats[chatID] = list
}

// UpdateMessage merges patch into the matching message. It reports whether the
// message was found.
func (c *MessageCache) UpdateMessage(chatID, id string, patch MessagePatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.chats[chatID]
	i := indexOf(list, id)
	if i < 0 {
		return false
	}
	patch.apply(&list[i])
	return true
}

// DeleteMessage removes a message from the cache.
func (c *MessageCache) DeleteMessage(chatID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.chats[chatID]
	if i := indexOf(list, id); i >= 0 {
		c.chats[chatID] = slices.Delete(list, i, i+1)
	}
}

// RemoveProvisional drops the provisional entries carrying clientID and
// returns how many were removed.
func (c *MessageCache) RemoveProvisional(chatID, clientID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.chats[chatID]
	before := len(list)
	list = slices.DeleteFunc(list, func(m Message) bool {
		return m.IsProvisional() && m.ClientID == clientID
	})
	c.chats[chatID] = list
	return before - len(list)
}

// MarkDeleted hides a message for userID only. Repeated calls are no-ops.
func (c *MessageCache) MarkDeleted(chatID, id, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.chats[chatID]
	i := indexOf(list, id)
	if i < 0 || contains(list[i].DeletedBy, userID) {
		return
	}
	list[i].DeletedBy = append(list[i].DeletedBy, userID)
}

// MarkSynced flags a message as confirmed by the remote store.
func (c *MessageCache) MarkSynced(chatID, id string) {
	synced := true
	c.UpdateMessage(chatID, id, MessagePatch{Synced: &synced})
}

// UnsyncedMessages returns every message not yet confirmed remotely, across
// all chats in chat id order.
func (c *MessageCache) UnsyncedMessages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.chats))
	for id := range c.chats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Message
	for _, id := range ids {
		for _, m := range c.chats[id] {
			if !m.Synced {
				out = append(out, cloneMessage(m))
			}
		}
	}
	return out
}

// Snapshot returns a deep copy of the whole cache.
func (c *MessageCache) Snapshot() map[string][]Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]Message, len(c.chats))
	for id, list := range c.chats {
		out[id] = cloneMessages(list)
	}
	return out
}

// Clear drops one chat's messages.
func (c *MessageCache) Clear(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chats, chatID)
}

// Reset empties the cache.
func (c *MessageCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = make(map[string][]Message)
}

// Len returns the number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, list := range c.chats {
		n += len(list)
	}
	return n
}

func indexOf(list []Message, id string) int {
	return slices.IndexFunc(list, func(m Message) bool { return m.ID == id })
}

func sortMessages(list []Message) {
	slices.SortStableFunc(list, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
