package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/ventchat/internal/kv"
)

// ChatPatch holds the fields UpdateChat merges into a chat. Nil fields are left
// untouched; non-nil maps replace the stored ones.
type ChatPatch struct {
	Participants     []string
	LastMessage      *LastMessage
	ClearLastMessage bool
	LastActivity     *time.Time
	UnreadCount      map[string]int
	Typing           map[string]bool
	Synced           *bool
}

func (p ChatPatch) apply(c *Chat) {
	if p.Participants != nil {
		c.Participants = append([]string(nil), p.Participants...)
	}
	switch {
	case p.ClearLastMessage:
		c.LastMessage = nil
	case p.LastMessage != nil:
		c.LastMessage = cloneLastMessage(p.LastMessage)
	}
	if p.LastActivity != nil {
		c.LastActivity = p.LastActivity.UTC()
	}
	if p.UnreadCount != nil {
		c.UnreadCount = cloneMap(p.UnreadCount)
	}
	if p.Typing != nil {
		c.Typing = cloneMap(p.Typing)
	}
	if p.Synced != nil {
		c.Synced = *p.Synced
	}
}

// ChatCache holds chat summaries by id.
type ChatCache struct {
	mu    sync.RWMutex
	chats map[string]Chat
	local *kv.Local
}

// NewChatCache creates an empty chat cache persisted through local.
func NewChatCache(local *kv.Local) *ChatCache {
	return &ChatCache{chats: make(map[string]Chat), local: local}
}

// Load hydrates the cache from its persisted blob.
func (c *ChatCache) Load(ctx context.Context) error {
	data, found, err := load[map[string]Chat](ctx, c.local, kv.KeyChats)
	if err != nil || !found {
		return err
	}
	chats := make(map[string]Chat, len(data))
	for id, ch := range data {
		chats[id] = cloneChat(ch)
	}
	c.mu.Lock()
	c.chats = chats
	c.mu.Unlock()
	return nil
}

// Save writes the whole cache back as one blob.
func (c *ChatCache) Save(ctx context.Context) error {
	if err := c.local.Set(ctx, kv.KeyChats, c.Snapshot()); err != nil {
		return fmt.Errorf("save chats: %w", err)
	}
	return nil
}

// Chat returns a cached chat.
func (c *ChatCache) Chat(id string) (Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chats[id]
	return cloneChat(ch), ok
}

// SetChat stores ch, replacing any previous chat with the same id.
func (c *ChatCache) SetChat(ch Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[ch.ID] = cloneChat(ch)
}

// UpdateChat merges patch into a cached chat. It reports whether the chat was found.
func (c *ChatCache) UpdateChat(id string, patch ChatPatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chats[id]
	if !ok {
		return false
	}
	patch.apply(&ch)
	c.chats[id] = ch
	return true
}

// Chats returns every cached chat ordered by id.
func (c *ChatCache) Chats() []Chat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Chat, 0, len(c.chats))
	for _, ch := range c.chats {
		out = append(out, cloneChat(ch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IncrementUnread adds one to userID's unread counter. Other counters are untouched.
func (c *ChatCache) IncrementUnread(chatID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chats[chatID]
	if !ok {
		return
	}
	if ch.UnreadCount == nil {
		ch.UnreadCount = make(map[string]int)
	}
	ch.UnreadCount[userID]++
	c.chats[chatID] = ch
}

// ResetUnread sets userID's unread counter to zero. Other counters are untouched.
func (c *ChatCache) ResetUnread(chatID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chats[chatID]
	if !ok {
		return
	}
	if ch.UnreadCount == nil {
		ch.UnreadCount = make(map[string]int)
	}
	ch.UnreadCount[userID] = 0
	c.chats[chatID] = ch
}

// SetTyping records userID's typing flag for a chat.
func (c *ChatCache) SetTyping(chatID, userID string, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chats[chatID]
	if !ok {
		return
	}
	if ch.Typing == nil {
		ch.Typing = make(map[string]bool)
	}
	ch.Typing[userID] = typing
	c.chats[chatID] = ch
}

// Snapshot returns a deep copy of the whole cache.
func (c *ChatCache) Snapshot() map[string]Chat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Chat, len(c.chats))
	for id, ch := range c.chats {
		out[id] = cloneChat(ch)
	}
	return out
}

// Reset empties the cache.
func (c *ChatCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = make(map[string]Chat)
}
