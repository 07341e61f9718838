package sync

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/ventchat/internal/bus"
	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/kv"
	"github.com/matheus3301/ventchat/internal/offline"
	"github.com/matheus3301/ventchat/internal/remote"
	"github.com/matheus3301/ventchat/internal/status"
)

var base = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func testSession() *offline.Session {
	return offline.NewSession(kv.NewLocal(kv.NewMemory(), nil))
}

func msgDoc(id, sender string, sec int, readBy ...string) remote.Document {
	if len(readBy) == 0 {
		readBy = []string{sender}
	}
	return remote.Document{ID: id, Data: map[string]any{
		"chatId":    "c1",
		"senderId":  sender,
		"content":   "msg " + id,
		"createdAt": remote.NewTimestamp(at(sec)),
		"readBy":    readBy,
		"status":    "sent",
	}}
}

func chatDoc(id string, activity int, last map[string]any) remote.Document {
	data := map[string]any{
		"participants": []any{"me", "p-" + id},
		"lastActivity": remote.NewTimestamp(at(activity)),
		"unreadCount":  map[string]any{"me": int64(2)},
	}
	if last != nil {
		data["lastMessage"] = last
	}
	return remote.Document{ID: id, Data: data}
}

func ids(list []cache.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func chatIDs(rows []Summary) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ChatID
	}
	return out
}

func TestReconcileMessagesOrdersAndUpserts(t *testing.T) {
	s := testSession()
	r := NewReconciler(s, nil, nil, nil)

	n := r.ReconcileMessages("c1", []remote.Document{msgDoc("m3", "a", 3), msgDoc("m1", "a", 1), msgDoc("m2", "b", 2)})
	if n != 3 {
		t.Errorf("applied = %d, want 3", n)
	}
	if got := ids(s.Messages.Messages("c1")); !reflect.DeepEqual(got, []string{"m1", "m2", "m3"}) {
		t.Errorf("order = %v", got)
	}

	edited := msgDoc("m2", "b", 2)
	edited.Data["content"] = "edited"
	r.ReconcileMessages("c1", []remote.Document{edited})

	msgs := s.Messages.Messages("c1")
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3 (no delete on missing)", len(msgs))
	}
	if msgs[1].Content != "edited" {
		t.Errorf("m2 content = %q, want replaced wholly", msgs[1].Content)
	}
}

func TestReconcileMessagesSkipsProvisionalAndInvalid(t *testing.T) {
	s := testSession()
	b := bus.New()
	events, unsub := b.Subscribe("cache.", 4)
	defer unsub()
	r := NewReconciler(s, b, nil, nil)

	bad := remote.Document{ID: "m9", Data: map[string]any{"chatId": "c1"}}
	other := msgDoc("m8", "a", 8)
	other.Data["chatId"] = "c2"
	n := r.ReconcileMessages("c1", []remote.Document{msgDoc("temp-abc", "a", 1), bad, other, msgDoc("m1", "a", 2)})

	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	if got := ids(s.Messages.Messages("c1")); !reflect.DeepEqual(got, []string{"m1"}) {
		t.Errorf("cached = %v, want [m1]", got)
	}
	select {
	case evt := <-events:
		if evt.Kind != bus.KindMessagesChanged || evt.Payload.(bus.ChatRef).ChatID != "c1" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}
}

func TestReconcileMessagesDerivesStatus(t *testing.T) {
	s := testSession()
	s.Chats.SetChat(cache.Chat{ID: "c1", Participants: []string{"a", "b"}})
	r := NewReconciler(s, nil, nil, nil)

	r.ReconcileMessages("c1", []remote.Document{
		msgDoc("m1", "a", 1),
		msgDoc("m2", "a", 2, "a", "b"),
	})
	m1, _ := s.Messages.Message("c1", "m1")
	m2, _ := s.Messages.Message("c1", "m2")
	if m1.Status != status.Sent || m2.Status != status.Read {
		t.Errorf("statuses = %s, %s; want sent, read", m1.Status, m2.Status)
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", 45)
	tests := []struct {
		name string
		chat cache.Chat
		want string
	}{
		{"empty", cache.Chat{}, "No messages yet"},
		{"partner", cache.Chat{LastMessage: &cache.LastMessage{Content: "hey", SenderID: "p"}}, "hey"},
		{"self", cache.Chat{LastMessage: &cache.LastMessage{Content: "hey", SenderID: "me"}}, "You: hey"},
		{"truncated", cache.Chat{LastMessage: &cache.LastMessage{Content: long, SenderID: "p"}}, strings.Repeat("é", 40) + "..."},
		{"own truncated with prefix", cache.Chat{LastMessage: &cache.LastMessage{Content: strings.Repeat("a", 45), SenderID: "me"}}, "You: " + strings.Repeat("a", 35) + "..."},
		{"own fits with prefix", cache.Chat{LastMessage: &cache.LastMessage{Content: strings.Repeat("a", 35), SenderID: "me"}}, "You: " + strings.Repeat("a", 35)},
		{"exactly 40", cache.Chat{LastMessage: &cache.LastMessage{Content: strings.Repeat("a", 40), SenderID: "p"}}, strings.Repeat("a", 40)},
		{"typing wins", cache.Chat{
			LastMessage: &cache.LastMessage{Content: "hey", SenderID: "me"},
			Typing:      map[string]bool{"p": true},
		}, "typing..."},
		{"own typing ignored", cache.Chat{
			LastMessage: &cache.LastMessage{Content: "hey", SenderID: "p"},
			Typing:      map[string]bool{"me": true, "p": false},
		}, "hey"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview("me", tt.chat); got != tt.want {
				t.Errorf("Preview() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarizeStatus(t *testing.T) {
	chat := func(readBy ...string) cache.Chat {
		return cache.Chat{
			ID:           "c1",
			Participants: []string{"me", "p"},
			LastMessage:  &cache.LastMessage{Content: "x", SenderID: "me", ReadBy: readBy},
			UnreadCount:  map[string]int{"me": 3, "p": 1},
		}
	}
	tests := []struct {
		readBy []string
		want   status.Delivery
	}{
		{[]string{"me"}, status.Sent},
		{[]string{"me", "someone"}, status.Delivered},
		{[]string{"me", "p"}, status.Read},
	}
	for _, tt := range tests {
		s := Summarize("me", chat(tt.readBy...), cache.User{ID: "p"})
		if s.Status != tt.want {
			t.Errorf("readBy %v: Status = %s, want %s", tt.readBy, s.Status, tt.want)
		}
		if s.Unread != 3 || s.PartnerID != "p" {
			t.Errorf("Unread = %d, PartnerID = %q", s.Unread, s.PartnerID)
		}
	}

	fromPartner := chat("p")
	fromPartner.LastMessage.SenderID = "p"
	if s := Summarize("me", fromPartner, cache.User{}); s.Status != "" {
		t.Errorf("Status for partner message = %q, want empty", s.Status)
	}
}

func TestReconcileChatOrdersList(t *testing.T) {
	s := testSession()
	r := NewReconciler(s, nil, nil, nil)

	_, _ = r.ReconcileChat("me", chatDoc("a", 10, nil))
	_, _ = r.ReconcileChat("me", chatDoc("b", 20, nil))
	_, _ = r.ReconcileChat("me", chatDoc("c", 5, map[string]any{
		"content": "late", "senderId": "p-c", "createdAt": remote.NewTimestamp(at(30)), "readBy": []any{"p-c"},
	}))
	if got := chatIDs(r.ChatList()); !reflect.DeepEqual(got, []string{"c", "b", "a"}) {
		t.Fatalf("order = %v, want [c b a]", got)
	}

	sum, err := r.ReconcileChat("me", chatDoc("a", 40, nil))
	if err != nil {
		t.Fatal(err)
	}
	if got := chatIDs(r.ChatList()); !reflect.DeepEqual(got, []string{"a", "c", "b"}) {
		t.Errorf("order after activity = %v, want [a c b]", got)
	}
	if sum.Unread != 2 || sum.Preview != EmptyPreview || sum.Partner.Username != "Unknown" {
		t.Errorf("summary = %+v", sum)
	}
	if _, ok := s.Chats.Chat("a"); !ok {
		t.Error("chat not cached")
	}
}

func TestChatListTiesAreStable(t *testing.T) {
	var l ChatList
	for _, id := range []string{"x", "y", "z"} {
		l.Upsert(Summary{ChatID: id, SortTime: at(1)})
	}
	l.Upsert(Summary{ChatID: "y", SortTime: at(1), Preview: "updated"})
	if got := chatIDs(l.Rows()); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("order = %v, want insertion order", got)
	}
	l.Remove("x")
	if got := chatIDs(l.Rows()); !reflect.DeepEqual(got, []string{"y", "z"}) {
		t.Errorf("after Remove = %v", got)
	}
}

func TestReconcileChatInvalid(t *testing.T) {
	r := NewReconciler(testSession(), nil, nil, nil)
	if _, err := r.ReconcileChat("me", remote.Document{ID: "c1", Data: map[string]any{}}); err == nil {
		t.Error("ReconcileChat(invalid) = nil error")
	}
	if len(r.ChatList()) != 0 {
		t.Error("invalid chat reached the list")
	}
}

func TestReconcileConnectionsNeverDeletes(t *testing.T) {
	s := testSession()
	r := NewReconciler(s, nil, nil, nil)
	conn := func(id, other string) remote.Document {
		return remote.Document{ID: id, Data: map[string]any{
			"userId": "me", "connectedUserId": other, "chatId": "chat-" + other, "createdAt": at(1),
		}}
	}

	r.ReconcileConnections([]remote.Document{conn("k1", "a"), conn("k2", "b")})
	applied := r.ReconcileConnections([]remote.Document{conn("k2", "b"), {ID: "bad", Data: map[string]any{}}})

	if len(applied) != 1 {
		t.Errorf("applied = %d, want 1", len(applied))
	}
	if got := s.Connections.UserConnections("me"); len(got) != 2 {
		t.Errorf("connections = %d, want 2", len(got))
	}
}

func TestCachedChatList(t *testing.T) {
	s := testSession()
	s.Connections.AddConnection(cache.Connection{ID: "k1", UserID: "me", ConnectedUserID: "p1", ChatID: "c1", CreatedAt: at(1)})
	s.Connections.AddConnection(cache.Connection{ID: "k2", UserID: "me", ConnectedUserID: "p2", ChatID: "c2", CreatedAt: at(2)})
	s.Connections.AddConnection(cache.Connection{ID: "k3", UserID: "p1", ConnectedUserID: "me", ChatID: "c1", CreatedAt: at(1)})
	s.Chats.SetChat(cache.Chat{
		ID:           "c1",
		Participants: []string{"me", "p1"},
		LastActivity: at(50),
		LastMessage:  &cache.LastMessage{Content: "latest", SenderID: "me", CreatedAt: at(50), ReadBy: []string{"me", "p1"}},
	})
	s.Messages.AddMessage("c2", cache.Message{ID: "m1", ChatID: "c2", SenderID: "p2", Content: "from cache", CreatedAt: at(10), ReadBy: []string{"p2"}})
	s.Users.SetUser(cache.User{ID: "p1", Username: "fox"})

	rows := NewReconciler(s, nil, nil, nil).CachedChatList("me")
	if got := chatIDs(rows); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("rows = %v", got)
	}
	if rows[0].Preview != "You: latest" || rows[0].Status != status.Read || rows[0].Partner.Username != "fox" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Preview != "from cache" || rows[1].Partner.Username != "Unknown" {
		t.Errorf("row 1 = %+v", rows[1])
	}
}
