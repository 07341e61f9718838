package cache

import (
	"maps"
	"slices"
	"time"
)

// Copies normalize empty collections to nil and instants to UTC so a value
// survives a JSON round trip unchanged.

func contains(list []string, v string) bool {
	return slices.Contains(list, v)
}

func cloneSet(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func cloneMap[V any](m map[string]V) map[string]V {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func cloneMessage(m Message) Message {
	m.CreatedAt = m.CreatedAt.UTC()
	m.EditedAt = cloneTime(m.EditedAt)
	m.ReadBy = cloneSet(m.ReadBy)
	m.DeletedBy = cloneSet(m.DeletedBy)
	return m
}

func cloneMessages(list []Message) []Message {
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = cloneMessage(m)
	}
	return out
}

func cloneLastMessage(lm *LastMessage) *LastMessage {
	if lm == nil {
		return nil
	}
	c := *lm
	c.CreatedAt = c.CreatedAt.UTC()
	c.ReadBy = cloneSet(c.ReadBy)
	return &c
}

func cloneChat(c Chat) Chat {
	c.Participants = slices.Clone(c.Participants)
	if len(c.Participants) == 0 {
		c.Participants = nil
	}
	c.LastMessage = cloneLastMessage(c.LastMessage)
	c.LastActivity = c.LastActivity.UTC()
	c.UnreadCount = cloneMap(c.UnreadCount)
	c.Typing = cloneMap(c.Typing)
	return c
}

func cloneUser(u User) User {
	u.LastSeen = cloneTime(u.LastSeen)
	return u
}

func cloneConnection(c Connection) Connection {
	c.CreatedAt = c.CreatedAt.UTC()
	return c
}
