package bus

import "time"

// Event kinds published by the cache and sync layers.
const (
	KindStatusChanged      = "session.status_changed"
	KindMessagesChanged    = "cache.messages_changed"
	KindChatsChanged       = "cache.chats_changed"
	KindConnectionsChanged = "cache.connections_changed"
	KindUsersChanged       = "cache.users_changed"
	KindMessageLocal       = "send.local"
	KindMessageConfirmed   = "send.confirmed"
	KindMessageFailed      = "send.failed"
	KindCheckpoint         = "offline.checkpoint"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ChatRef identifies the chat (and optionally message) an event is about.
type ChatRef struct {
	ChatID    string
	MessageID string
	ClientID  string
}
