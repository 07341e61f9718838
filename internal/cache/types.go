// Package cache holds the in-memory entity caches the UI renders from. Each
// cache is hydrated from one persisted blob and flushed back to it on Save.
// Reads are synchronous and return copies; writes only touch memory.
package cache

import (
	"strings"
	"time"

	"github.com/matheus3301/ventchat/internal/status"
)

// ProvisionalPrefix marks a locally created message id that the remote store
// has not confirmed yet.
const ProvisionalPrefix = "temp-"

// MessageType is the kind of message payload. Voice is reserved.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeVoice MessageType = "voice"
)

// Gender of a user profile.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Presence is a user's online status.
type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
)

// Message is one chat message as known locally.
type Message struct {
	ID        string          `json:"id"`
	ChatID    string          `json:"chatId"`
	SenderID  string          `json:"senderId"`
	Content   string          `json:"content"`
	Type      MessageType     `json:"type"`
	Encrypted bool            `json:"encrypted"`
	Status    status.Delivery `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	EditedAt  *time.Time      `json:"editedAt,omitempty"`
	ReadBy    []string        `json:"readBy"`
	DeletedBy []string        `json:"deletedBy,omitempty"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	Synced    bool            `json:"synced"`
	ClientID  string          `json:"clientId,omitempty"`
}

// ProvisionalID builds the local id of a message awaiting confirmation.
func ProvisionalID(clientID string) string {
	return ProvisionalPrefix + clientID
}

// IsProvisionalID reports whether id marks a locally originated message.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// IsProvisional reports whether m is a local placeholder.
func (m *Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

// HiddenFor reports whether userID deleted m for themselves.
func (m *Message) HiddenFor(userID string) bool {
	return contains(m.DeletedBy, userID)
}

// LastMessage is the denormalized copy of a chat's latest message.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
	ReadBy    []string  `json:"readBy"`
}

// Chat is a denormalized 1:1 chat summary.
type Chat struct {
	ID           string          `json:"id"`
	Participants []string        `json:"participants"`
	LastMessage  *LastMessage    `json:"lastMessage,omitempty"`
	LastActivity time.Time       `json:"lastActivity"`
	UnreadCount  map[string]int  `json:"unreadCount"`
	Typing       map[string]bool `json:"typing,omitempty"`
	Synced       bool            `json:"synced"`
}

// Partner returns the participant that is not userID.
func (c *Chat) Partner(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// User is a denormalized snapshot of a remote user profile.
type User struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Gender          Gender     `json:"gender"`
	Avatar          string     `json:"avatar"`
	Rating          float64    `json:"rating"`
	Verified        bool       `json:"verified"`
	Status          Presence   `json:"status"`
	LastSeen        *time.Time `json:"lastSeen,omitempty"`
	ConnectionCount int        `json:"connectionCount"`
	Synced          bool       `json:"synced"`
}

// Connection is a directed edge: UserID is connected to ConnectedUserID via ChatID.
type Connection struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	ConnectedUserID string    `json:"connectedUserId"`
	ChatID          string    `json:"chatId"`
	CreatedAt       time.Time `json:"createdAt"`
	Synced          bool      `json:"synced"`
}
