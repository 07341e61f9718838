package convert

import (
	"slices"
	"time"

	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/remote"
	"github.com/matheus3301/ventchat/internal/status"
)

// MessageDoc is the remote shape of a message.
type MessageDoc struct {
	ID        string `validate:"required"`
	ChatID    string `validate:"required"`
	SenderID  string `validate:"required"`
	Content   string
	Type      string `validate:"omitempty,oneof=text voice"`
	Encrypted bool
	Status    string    `validate:"omitempty,oneof=sending sent delivered read failed"`
	CreatedAt time.Time `validate:"required"`
	EditedAt  *time.Time
	ReadBy    []string `validate:"dive,required"`
	DeletedBy []string `validate:"dive,required"`
	ReplyTo   string
}

// DecodeMessage reads a message document without validating it.
func DecodeMessage(doc remote.Document) MessageDoc {
	f := fields(doc.Data)
	return MessageDoc{
		ID:        doc.ID,
		ChatID:    f.str("chatId"),
		SenderID:  f.str("senderId"),
		Content:   f.text("content"),
		Type:      f.str("type"),
		Encrypted: f.boolean("encrypted"),
		Status:    f.str("status"),
		CreatedAt: f.instant("createdAt"),
		EditedAt:  f.optInstant("editedAt"),
		ReadBy:    f.list("readBy"),
		DeletedBy: f.list("deletedBy"),
		ReplyTo:   f.str("replyTo"),
	}
}

// Message validates a message document and maps it to a synced cache entry.
// The sender is always part of readBy.
func Message(doc remote.Document) (cache.Message, error) {
	d := DecodeMessage(doc)
	if err := check("message", doc.ID, d); err != nil {
		return cache.Message{}, err
	}
	readBy := d.ReadBy
	if !slices.Contains(readBy, d.SenderID) {
		readBy = append([]string{d.SenderID}, readBy...)
	}
	return cache.Message{
		ID:        d.ID,
		ChatID:    d.ChatID,
		SenderID:  d.SenderID,
		Content:   d.Content,
		Type:      cache.MessageType(or(d.Type, string(cache.TypeText))),
		Encrypted: d.Encrypted,
		Status:    status.Delivery(or(d.Status, string(status.Sent))),
		CreatedAt: d.CreatedAt,
		EditedAt:  d.EditedAt,
		ReadBy:    readBy,
		DeletedBy: d.DeletedBy,
		ReplyTo:   d.ReplyTo,
		Synced:    true,
	}, nil
}

// MessageData builds the payload written for a new message. A local sending
// status is persisted as sent.
func MessageData(m cache.Message) map[string]any {
	st := m.Status
	if st == "" || st == status.Sending {
		st = status.Sent
	}
	readBy := m.ReadBy
	if !slices.Contains(readBy, m.SenderID) {
		readBy = append([]string{m.SenderID}, readBy...)
	}
	data := map[string]any{
		"chatId":    m.ChatID,
		"senderId":  m.SenderID,
		"content":   m.Content,
		"type":      string(or(m.Type, cache.TypeText)),
		"encrypted": m.Encrypted,
		"status":    string(st),
		"createdAt": m.CreatedAt.UTC(),
		"readBy":    readBy,
	}
	if m.ReplyTo != "" {
		data["replyTo"] = m.ReplyTo
	}
	if m.EditedAt != nil {
		data["editedAt"] = m.EditedAt.UTC()
	}
	if len(m.DeletedBy) > 0 {
		data["deletedBy"] = m.DeletedBy
	}
	return data
}

// LastMessageData builds the denormalized lastMessage map stored on a chat.
func LastMessageData(lm cache.LastMessage) map[string]any {
	readBy := lm.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return map[string]any{
		"content":   lm.Content,
		"senderId":  lm.SenderID,
		"createdAt": lm.CreatedAt.UTC(),
		"readBy":    readBy,
	}
}

func or[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}
