package convert

import (
	"time"

	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/remote"
)

// ConnectionDoc is the remote shape of a connection edge.
type ConnectionDoc struct {
	ID              string `validate:"required"`
	UserID          string `validate:"required"`
	ConnectedUserID string `validate:"required,nefield=UserID"`
	ChatID          string `validate:"required"`
	CreatedAt       time.Time
}

// DecodeConnection reads a connection document without validating it.
func DecodeConnection(doc remote.Document) ConnectionDoc {
	f := fields(doc.Data)
	return ConnectionDoc{
		ID:              doc.ID,
		UserID:          f.str("userId"),
		ConnectedUserID: f.str("connectedUserId"),
		ChatID:          f.str("chatId"),
		CreatedAt:       f.instant("createdAt"),
	}
}

// Connection validates a connection document and maps it to a synced cache entry.
func Connection(doc remote.Document) (cache.Connection, error) {
	d := DecodeConnection(doc)
	if err := check("connection", doc.ID, d); err != nil {
		return cache.Connection{}, err
	}
	return cache.Connection{
		ID:              d.ID,
		UserID:          d.UserID,
		ConnectedUserID: d.ConnectedUserID,
		ChatID:          d.ChatID,
		CreatedAt:       d.CreatedAt,
		Synced:          true,
	}, nil
}

// ConnectionData builds the payload for a connection document.
func ConnectionData(c cache.Connection) map[string]any {
	return map[string]any{
		"userId":          c.UserID,
		"connectedUserId": c.ConnectedUserID,
		"chatId":          c.ChatID,
		"createdAt":       c.CreatedAt.UTC(),
	}
}
