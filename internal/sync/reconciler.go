package sync

import (
	gosync "sync"

	"go.uber.org/zap"

	"github.com/matheus3301/ventchat/internal/bus"
	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/convert"
	"github.com/matheus3301/ventchat/internal/metrics"
	"github.com/matheus3301/ventchat/internal/offline"
	"github.com/matheus3301/ventchat/internal/remote"
	"github.com/matheus3301/ventchat/internal/status"
)

// Reconciler merges authoritative remote snapshots into the session caches.
// Message reconciliation is serialized per chat.
type Reconciler struct {
	session *offline.Session
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	list    ChatList

	mu    gosync.Mutex
	locks map[string]*gosync.Mutex
}

// NewReconciler creates a reconciler writing into s.
func NewReconciler(s *offline.Session, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		session: s,
		bus:     b,
		metrics: m,
		logger:  logger,
		locks:   make(map[string]*gosync.Mutex),
	}
}

// ChatList returns the viewer's ordered chat list.
func (r *Reconciler) ChatList() []Summary {
	return r.list.Rows()
}

// ReconcileMessages upserts a snapshot of one chat's messages and returns how
// many were applied. Provisional ids and invalid documents are logged and
// skipped; cached messages missing from the snapshot are kept.
func (r *Reconciler) ReconcileMessages(chatID string, docs []remote.Document) int {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	var partnerOf func(sender string) string
	if chat, ok := r.session.Chats.Chat(chatID); ok {
		partnerOf = chat.Partner
	}

	msgs := make([]cache.Message, 0, len(docs))
	for _, doc := range docs {
		if cache.IsProvisionalID(doc.ID) {
			r.logger.Warn("provisional id in remote snapshot, skipping",
				zap.String("chat_id", chatID), zap.String("msg_id", doc.ID))
			r.metrics.Reconciled("message", true)
			continue
		}
		m, err := convert.Message(doc)
		if err != nil {
			r.logger.Warn("invalid message document, skipping", zap.String("chat_id", chatID), zap.Error(err))
			r.metrics.Reconciled("message", true)
			continue
		}
		if m.ChatID != chatID {
			r.logger.Warn("message from another chat in snapshot, skipping",
				zap.String("chat_id", chatID), zap.String("msg_id", m.ID), zap.String("msg_chat_id", m.ChatID))
			r.metrics.Reconciled("message", true)
			continue
		}
		if partnerOf != nil {
			m.Status = status.Later(m.Status, status.Derive(m.ReadBy, m.SenderID, partnerOf(m.SenderID)))
		}
		msgs = append(msgs, m)
		r.metrics.Reconciled("message", false)
	}

	if len(msgs) > 0 {
		r.session.Messages.AddMessages(chatID, msgs...)
	}
	r.bus.Emit(bus.KindMessagesChanged, bus.ChatRef{ChatID: chatID})
	return len(msgs)
}

// ReconcileChat stores a chat document and refreshes its chat-list row for
// viewerID.
func (r *Reconciler) ReconcileChat(viewerID string, doc remote.Document) (Summary, error) {
	chat, err := convert.Chat(doc)
	if err != nil {
		r.logger.Warn("invalid chat document, skipping", zap.String("chat_id", doc.ID), zap.Error(err))
		r.metrics.Reconciled("chat", true)
		return Summary{}, err
	}
	r.session.Chats.SetChat(chat)
	r.metrics.Reconciled("chat", false)

	s := Summarize(viewerID, chat, r.partner(chat.Partner(viewerID)))
	r.list.Upsert(s)
	r.bus.Emit(bus.KindChatsChanged, bus.ChatRef{ChatID: chat.ID})
	return s, nil
}

// ReconcileConnections upserts connection documents by id. Connections absent
// from the snapshot are never removed.
func (r *Reconciler) ReconcileConnections(docs []remote.Document) []cache.Connection {
	var applied []cache.Connection
	for _, doc := range docs {
		c, err := convert.Connection(doc)
		if err != nil {
			r.logger.Warn("invalid connection document, skipping", zap.String("connection_id", doc.ID), zap.Error(err))
			r.metrics.Reconciled("connection", true)
			continue
		}
		r.session.Connections.AddConnection(c)
		applied = append(applied, c)
		r.metrics.Reconciled("connection", false)
	}
	r.bus.Emit(bus.KindConnectionsChanged, len(applied))
	return applied
}

// ReconcileUser stores a user profile document.
func (r *Reconciler) ReconcileUser(doc remote.Document) (cache.User, error) {
	u, err := convert.User(doc)
	if err != nil {
		r.logger.Warn("invalid user document, skipping", zap.String("user_id", doc.ID), zap.Error(err))
		r.metrics.Reconciled("user", true)
		return cache.User{}, err
	}
	r.session.Users.SetUser(u)
	r.metrics.Reconciled("user", false)
	r.refreshPartner(u)
	r.bus.Emit(bus.KindUsersChanged, u.ID)
	return u, nil
}

// CachedChatList builds the chat list of viewerID from cached connections,
// chats, users and messages only, and makes it the current list.
func (r *Reconciler) CachedChatList(viewerID string) []Summary {
	var rows []Summary
	for _, conn := range r.session.Connections.UserConnections(viewerID) {
		chat, ok := r.session.Chats.Chat(conn.ChatID)
		if !ok {
			chat = cache.Chat{
				ID:           conn.ChatID,
				Participants: []string{viewerID, conn.ConnectedUserID},
				LastActivity: conn.CreatedAt,
			}
		}
		if chat.LastMessage == nil {
			if m, ok := r.lastVisible(conn.ChatID, viewerID); ok {
				chat.LastMessage = &cache.LastMessage{
					Content:   m.Content,
					SenderID:  m.SenderID,
					CreatedAt: m.CreatedAt,
					ReadBy:    m.ReadBy,
				}
			}
		}
		rows = append(rows, Summarize(viewerID, chat, r.partner(conn.ConnectedUserID)))
	}
	r.list.Replace(rows)
	return r.list.Rows()
}

func (r *Reconciler) lastVisible(chatID, viewerID string) (cache.Message, bool) {
	msgs := r.session.Messages.VisibleMessages(chatID, viewerID)
	if len(msgs) == 0 {
		return cache.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

func (r *Reconciler) partner(id string) cache.User {
	if u, ok := r.session.Users.User(id); ok {
		return u
	}
	return convert.Placeholder(id)
}

// refreshPartner updates the rows showing u.
func (r *Reconciler) refreshPartner(u cache.User) {
	for _, row := range r.list.Rows() {
		if row.PartnerID == u.ID {
			row.Partner = u
			r.list.Upsert(row)
		}
	}
}

func (r *Reconciler) chatLock(chatID string) *gosync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[chatID]
	if !ok {
		l = &gosync.Mutex{}
		r.locks[chatID] = l
	}
	return l
}
