// Package offline owns the per-user cache session and its lifecycle:
// hydrating the caches from the persisted store, checkpointing them back and
// wiping them on sign-out.
package offline

import (
	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/kv"
)

// Session is the set of caches of one signed-in user. It is passed by
// reference to everything that reads or writes cached state.
type Session struct {
	Messages    *cache.MessageCache
	Users       *cache.UserCache
	Chats       *cache.ChatCache
	Connections *cache.ConnectionCache

	local *kv.Local
}

// NewSession creates empty caches persisted through local.
func NewSession(local *kv.Local) *Session {
	return &Session{
		Messages:    cache.NewMessageCache(local),
		Users:       cache.NewUserCache(local),
		Chats:       cache.NewChatCache(local),
		Connections: cache.NewConnectionCache(local),
		local:       local,
	}
}

// Local returns the persisted store the session flushes to.
func (s *Session) Local() *kv.Local {
	return s.local
}

func (s *Session) reset() {
	s.Messages.Reset()
	s.Users.Reset()
	s.Chats.Reset()
	s.Connections.Reset()
}
