package sync

import (
	"slices"
	gosync "sync"
	"time"

	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/status"
)

// Preview strings.
const (
	TypingText   = "typing..."
	EmptyPreview = "No messages yet"
	SelfPrefix   = "You: "
	PreviewLimit = 40
)

// Summary is one row of the chat list as seen by a viewer.
type Summary struct {
	ChatID    string
	PartnerID string
	Partner   cache.User
	Preview   string
	// Status is the delivery state of the viewer's own last message; empty
	// when the last message came from the partner.
	Status   status.Delivery
	Unread   int
	Typing   bool
	SortTime time.Time
}

// Preview renders the chat-list line for viewerID.
func Preview(viewerID string, c cache.Chat) string {
	for uid, typing := range c.Typing {
		if typing && uid != viewerID {
			return TypingText
		}
	}
	if c.LastMessage == nil {
		return EmptyPreview
	}
	text := c.LastMessage.Content
	if c.LastMessage.SenderID == viewerID {
		text = SelfPrefix + text
	}
	// The prefix counts toward the limit.
	return truncate(text, PreviewLimit)
}

// SortTime is the later of the chat's lastActivity and its last message time.
func SortTime(c cache.Chat) time.Time {
	t := c.LastActivity
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(t) {
		t = c.LastMessage.CreatedAt
	}
	return t
}

// Summarize computes the chat-list row of c for viewerID. partner is the
// cached profile of the other participant.
func Summarize(viewerID string, c cache.Chat, partner cache.User) Summary {
	s := Summary{
		ChatID:    c.ID,
		PartnerID: c.Partner(viewerID),
		Partner:   partner,
		Preview:   Preview(viewerID, c),
		Unread:    c.UnreadCount[viewerID],
		SortTime:  SortTime(c),
	}
	for uid, typing := range c.Typing {
		if typing && uid != viewerID {
			s.Typing = true
		}
	}
	if lm := c.LastMessage; lm != nil && lm.SenderID == viewerID {
		s.Status = status.Derive(lm.ReadBy, viewerID, s.PartnerID)
	}
	return s
}

// ChatList keeps summaries sorted by SortTime, most recent first. Ties keep
// their previous relative order.
type ChatList struct {
	mu   gosync.RWMutex
	rows []Summary
}

// Upsert inserts or replaces the row of s.ChatID and re-sorts.
func (l *ChatList) Upsert(s Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.index(s.ChatID); i >= 0 {
		l.rows[i] = s
	} else {
		l.rows = append(l.rows, s)
	}
	sortRows(l.rows)
}

// Replace swaps the whole list.
func (l *ChatList) Replace(rows []Summary) {
	rows = slices.Clone(rows)
	sortRows(rows)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = rows
}

// Remove drops a chat from the list.
func (l *ChatList) Remove(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.index(chatID); i >= 0 {
		l.rows = slices.Delete(l.rows, i, i+1)
	}
}

// Rows returns a copy of the ordered list.
func (l *ChatList) Rows() []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.rows)
}

func (l *ChatList) index(chatID string) int {
	return slices.IndexFunc(l.rows, func(s Summary) bool { return s.ChatID == chatID })
}

func sortRows(rows []Summary) {
	slices.SortStableFunc(rows, func(a, b Summary) int {
		return b.SortTime.Compare(a.SortTime)
	})
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
