package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/matheus3301/ventchat/internal/metrics"
	"github.com/matheus3301/ventchat/internal/remote"
)

// Engine binds realtime subscriptions to screen lifecycle. Every Watch call
// returns an unsubscribe func that also tears down nested listeners. Remote
// failures are logged and leave cached data in place.
type Engine struct {
	remote  remote.DocStore
	rec     *Reconciler
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEngine creates an engine feeding rec from store.
func NewEngine(store remote.DocStore, rec *Reconciler, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{remote: store, rec: rec, metrics: m, logger: logger}
}

// Reconciler returns the reconciler the engine writes through.
func (e *Engine) Reconciler() *Reconciler {
	return e.rec
}

// MessagesQuery selects one chat's messages in display order.
func MessagesQuery(chatID string) remote.Query {
	return remote.Query{
		Collection: remote.CollMessages,
		Filters:    []remote.Filter{remote.Where("chatId", remote.OpEqual, chatID)},
		OrderBy:    "createdAt",
	}
}

// ConnectionsQuery selects the connections owned by userID.
func ConnectionsQuery(userID string) remote.Query {
	return remote.Query{
		Collection: remote.CollConnections,
		Filters:    []remote.Filter{remote.Where("userId", remote.OpEqual, userID)},
	}
}

// WatchThread follows one open chat: its messages and its chat document.
func (e *Engine) WatchThread(ctx context.Context, chatID, viewerID string) (func(), error) {
	stopMessages, err := e.remote.SubscribeQuery(ctx, MessagesQuery(chatID), func(docs []remote.Document) {
		n := e.rec.ReconcileMessages(chatID, docs)
		e.logger.Debug("thread snapshot", zap.String("chat_id", chatID), zap.Int("docs", len(docs)), zap.Int("applied", n))
	})
	if err != nil {
		e.logger.Error("subscribe to messages failed", zap.String("chat_id", chatID), zap.Error(err))
		return nil, fmt.Errorf("watch thread %s: %w", chatID, err)
	}

	var fetched gosync.Once
	stopChat, err := e.remote.SubscribeDocument(ctx, remote.CollChats, chatID, func(doc remote.Document, exists bool) {
		if !exists {
			return
		}
		s, err := e.rec.ReconcileChat(viewerID, doc)
		if err != nil || s.PartnerID == "" {
			return
		}
		fetched.Do(func() { e.fetchUser(ctx, s.PartnerID) })
	})
	if err != nil {
		stopMessages()
		e.logger.Error("subscribe to chat failed", zap.String("chat_id", chatID), zap.Error(err))
		return nil, fmt.Errorf("watch thread %s: %w", chatID, err)
	}

	e.metrics.WatchStarted("thread")
	var once gosync.Once
	return func() {
		once.Do(func() {
			stopMessages()
			stopChat()
			e.metrics.WatchStopped("thread")
		})
	}, nil
}

// WatchChatList follows viewerID's connections. Each new connection adds a
// listener on its chat document and fetches the partner profile. The cached
// list is published first so the screen can render before the network answers.
func (e *Engine) WatchChatList(ctx context.Context, viewerID string) (func(), error) {
	e.rec.CachedChatList(viewerID)

	w := &chatListWatch{engine: e, ctx: ctx, viewerID: viewerID, chats: make(map[string]func())}
	stop, err := e.remote.SubscribeQuery(ctx, ConnectionsQuery(viewerID), w.onConnections)
	if err != nil {
		e.logger.Error("subscribe to connections failed", zap.String("user_id", viewerID), zap.Error(err))
		return nil, fmt.Errorf("watch chat list: %w", err)
	}

	e.metrics.WatchStarted("chat_list")
	var once gosync.Once
	return func() {
		once.Do(func() {
			stop()
			w.close()
			e.metrics.WatchStopped("chat_list")
		})
	}, nil
}

type chatListWatch struct {
	engine   *Engine
	ctx      context.Context
	viewerID string

	mu     gosync.Mutex
	chats  map[string]func()
	closed bool
}

func (w *chatListWatch) onConnections(docs []remote.Document) {
	for _, conn := range w.engine.rec.ReconcileConnections(docs) {
		if conn.UserID != w.viewerID || !w.claim(conn.ChatID) {
			continue
		}
		w.engine.fetchUser(w.ctx, conn.ConnectedUserID)

		stop, err := w.engine.remote.SubscribeDocument(w.ctx, remote.CollChats, conn.ChatID, func(doc remote.Document, exists bool) {
			if exists {
				_, _ = w.engine.rec.ReconcileChat(w.viewerID, doc)
			}
		})
		if err != nil {
			w.engine.logger.Error("subscribe to chat failed", zap.String("chat_id", conn.ChatID), zap.Error(err))
			w.release(conn.ChatID)
			continue
		}
		w.attach(conn.ChatID, stop)
	}
}

// claim reserves chatID so only one listener is created for it.
func (w *chatListWatch) claim(chatID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if _, ok := w.chats[chatID]; ok {
		return false
	}
	w.chats[chatID] = nil
	return true
}

func (w *chatListWatch) release(chatID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.chats, chatID)
}

func (w *chatListWatch) attach(chatID string, stop func()) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		stop()
		return
	}
	w.chats[chatID] = stop
	w.mu.Unlock()
}

func (w *chatListWatch) close() {
	w.mu.Lock()
	w.closed = true
	stops := w.chats
	w.chats = nil
	w.mu.Unlock()

	for _, stop := range stops {
		if stop != nil {
			stop()
		}
	}
}

// fetchUser loads a profile into the user cache. A missing or unreadable
// profile keeps whatever is cached.
func (e *Engine) fetchUser(ctx context.Context, userID string) {
	doc, err := e.remote.GetDocument(ctx, remote.CollUsers, userID)
	if errors.Is(err, remote.ErrNotFound) {
		e.logger.Debug("user profile not found", zap.String("user_id", userID))
		return
	}
	if err != nil {
		e.logger.Warn("fetch user profile failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	_, _ = e.rec.ReconcileUser(doc)
}
