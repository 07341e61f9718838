package convert

import (
	"time"

	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/remote"
)

// ChatDoc is the remote shape of a chat.
type ChatDoc struct {
	ID           string   `validate:"required"`
	Participants []string `validate:"len=2,dive,required"`
	LastMessage  *LastMessageDoc
	LastActivity time.Time
	UnreadCount  map[string]int `validate:"dive,gte=0"`
	Typing       map[string]bool
}

// LastMessageDoc is the denormalized lastMessage stored on a chat.
type LastMessageDoc struct {
	Content   string
	SenderID  string `validate:"required"`
	CreatedAt time.Time
	ReadBy    []string
}

// DecodeChat reads a chat document without validating it.
func DecodeChat(doc remote.Document) ChatDoc {
	f := fields(doc.Data)
	d := ChatDoc{
		ID:           doc.ID,
		Participants: f.list("participants"),
		LastActivity: f.instant("lastActivity"),
		UnreadCount:  f.counters("unreadCount"),
		Typing:       f.flags("typing"),
	}
	if lm := f.nested("lastMessage"); lm != nil {
		d.LastMessage = &LastMessageDoc{
			Content:   lm.text("content"),
			SenderID:  lm.str("senderId"),
			CreatedAt: lm.instant("createdAt"),
			ReadBy:    lm.list("readBy"),
		}
	}
	return d
}

// Chat validates a chat document and maps it to a synced cache entry. Every
// participant gets an unread counter; a missing lastActivity falls back to the
// last message time.
func Chat(doc remote.Document) (cache.Chat, error) {
	d := DecodeChat(doc)
	if err := check("chat", doc.ID, d); err != nil {
		return cache.Chat{}, err
	}
	c := cache.Chat{
		ID:           d.ID,
		Participants: d.Participants,
		LastActivity: d.LastActivity,
		UnreadCount:  make(map[string]int, len(d.Participants)),
		Typing:       d.Typing,
		Synced:       true,
	}
	for _, p := range d.Participants {
		c.UnreadCount[p] = d.UnreadCount[p]
	}
	if d.LastMessage != nil {
		c.LastMessage = &cache.LastMessage{
			Content:   d.LastMessage.Content,
			SenderID:  d.LastMessage.SenderID,
			CreatedAt: d.LastMessage.CreatedAt,
			ReadBy:    d.LastMessage.ReadBy,
		}
		if c.LastActivity.IsZero() {
			c.LastActivity = d.LastMessage.CreatedAt
		}
	}
	return c, nil
}

// ChatData builds the payload for a chat document.
func ChatData(c cache.Chat) map[string]any {
	unread := make(map[string]any, len(c.Participants))
	for _, p := range c.Participants {
		unread[p] = c.UnreadCount[p]
	}
	data := map[string]any{
		"participants": c.Participants,
		"lastActivity": c.LastActivity.UTC(),
		"unreadCount":  unread,
	}
	if c.LastMessage != nil {
		data["lastMessage"] = LastMessageData(*c.LastMessage)
	}
	if len(c.Typing) > 0 {
		data["typing"] = c.Typing
	}
	return data
}
