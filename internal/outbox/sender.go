package outbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/ventchat/internal/bus"
	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/convert"
	"github.com/matheus3301/ventchat/internal/metrics"
	"github.com/matheus3301/ventchat/internal/offline"
	"github.com/matheus3301/ventchat/internal/remote"
	"github.com/matheus3301/ventchat/internal/status"
)

var (
	// ErrEmptyMessage is returned when the trimmed content is empty.
	ErrEmptyMessage = errors.New("outbox: empty message")
	// ErrProvisional is returned when a mutation targets a message that is
	// not confirmed yet.
	ErrProvisional = errors.New("outbox: message not confirmed yet")
)

// Sender runs the optimistic write pipeline: local placeholder first, remote
// write second, then the placeholder is swapped for the confirmed message or
// rolled back.
type Sender struct {
	remote  remote.DocStore
	session *offline.Session
	tracker *Tracker
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
	cancel  context.CancelFunc
}

// Option configures a Sender.
type Option func(*Sender)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) { s.now = now }
}

// WithMetrics records send outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sender) { s.metrics = m }
}

// NewSender creates a sender writing to store and the session caches.
func NewSender(store remote.DocStore, session *offline.Session, b *bus.Bus, logger *zap.Logger, opts ...Option) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sender{
		remote:  store,
		session: session,
		tracker: NewTracker(),
		bus:     b,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tracker returns the send tracker.
func (s *Sender) Tracker() *Tracker {
	return s.tracker
}

// Send posts content to chatID. The returned message is the confirmed one on
// success and the failed placeholder otherwise.
func (s *Sender) Send(ctx context.Context, chatID, senderID, content, replyTo string) (cache.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return cache.Message{}, ErrEmptyMessage
	}
	if _, err := s.chat(ctx, chatID); err != nil {
		return cache.Message{}, fmt.Errorf("send message: %w", err)
	}

	clientID := uuid.NewString()
	if err := s.tracker.Begin(clientID, chatID); err != nil {
		return cache.Message{}, err
	}
	p := cache.Message{
		ID:        cache.ProvisionalID(clientID),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Type:      cache.TypeText,
		Status:    status.Sending,
		CreatedAt: s.now().UTC(),
		ReadBy:    []string{senderID},
		ReplyTo:   replyTo,
		ClientID:  clientID,
	}
	s.session.Messages.AddMessage(chatID, p)
	s.bus.Emit(bus.KindMessageLocal, bus.ChatRef{ChatID: chatID, MessageID: p.ID, ClientID: clientID})

	return s.deliver(ctx, p)
}

func (s *Sender) deliver(ctx context.Context, p cache.Message) (cache.Message, error) {
	start := time.Now()
	id, err := s.remote.AddDocument(ctx, remote.CollMessages, convert.MessageData(p))
	s.metrics.Send(err == nil, time.Since(start))

	s.session.Messages.RemoveProvisional(p.ChatID, p.ClientID)
	ref := bus.ChatRef{ChatID: p.ChatID, MessageID: p.ID, ClientID: p.ClientID}

	if err != nil {
		_ = s.tracker.Fail(p.ClientID, err)
		if aerr := status.Advance(p.Status, status.Failed); aerr != nil {
			s.logger.Warn("unexpected delivery state", zap.Error(aerr))
		}
		p.Status = status.Failed
		s.logger.Error("failed to send message",
			zap.String("chat_id", p.ChatID), zap.String("client_id", p.ClientID), zap.Error(err))
		s.bus.Emit(bus.KindMessageFailed, ref)
		return p, fmt.Errorf("send message: %w", err)
	}

	confirmed := p
	confirmed.ID = id
	confirmed.Status = status.Sent
	confirmed.Synced = true
	confirmed.ClientID = ""
	s.session.Messages.AddMessage(p.ChatID, confirmed)
	_ = s.tracker.Confirm(p.ClientID, id)

	ref.MessageID = id
	s.logger.Info("message sent", zap.String("client_id", p.ClientID), zap.String("msg_id", id))
	s.bus.Emit(bus.KindMessageConfirmed, ref)

	// The message is already delivered; a stale chat summary heals on the
	// next write or snapshot.
	if err := s.touchChat(ctx, confirmed); err != nil {
		s.logger.Warn("failed to update chat after send", zap.String("chat_id", p.ChatID), zap.Error(err))
	}
	return confirmed, nil
}

// touchChat writes lastMessage and lastActivity and bumps the partner's unread
// counter, remotely and in the chat cache.
func (s *Sender) touchChat(ctx context.Context, m cache.Message) error {
	chat, err := s.chat(ctx, m.ChatID)
	if err != nil {
		return err
	}
	partner := chat.Partner(m.SenderID)
	last := cache.LastMessage{
		Content:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
		ReadBy:    []string{m.SenderID},
	}
	activity := s.now().UTC()

	updates := map[string]any{
		"lastMessage":  convert.LastMessageData(last),
		"lastActivity": activity,
	}
	if partner != "" {
		updates["unreadCount."+partner] = remote.Increment(1)
	}
	if err := s.remote.UpdateDocument(ctx, remote.CollChats, m.ChatID, updates); err != nil {
		return fmt.Errorf("update chat %s: %w", m.ChatID, err)
	}

	s.session.Chats.UpdateChat(m.ChatID, cache.ChatPatch{LastMessage: &last, LastActivity: &activity})
	if partner != "" {
		s.session.Chats.IncrementUnread(m.ChatID, partner)
	}
	s.bus.Emit(bus.KindChatsChanged, bus.ChatRef{ChatID: m.ChatID})
	return nil
}

// Edit replaces the content of a confirmed message. The chat's lastMessage is
// refreshed when the edited message is the latest one.
func (s *Sender) Edit(ctx context.Context, chatID, messageID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	if cache.IsProvisionalID(messageID) {
		return ErrProvisional
	}

	m, err := s.message(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	edited := s.now().UTC()
	if err := s.remote.UpdateDocument(ctx, remote.CollMessages, messageID, map[string]any{
		"content":  content,
		"editedAt": edited,
	}); err != nil {
		return fmt.Errorf("edit message %s: %w", messageID, err)
	}
	s.session.Messages.UpdateMessage(chatID, messageID, cache.MessagePatch{Content: &content, EditedAt: &edited})
	s.bus.Emit(bus.KindMessagesChanged, bus.ChatRef{ChatID: chatID, MessageID: messageID})

	chat, err := s.chat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.LastMessage == nil || !chat.LastMessage.CreatedAt.Equal(m.CreatedAt) {
		return nil
	}
	if err := s.remote.UpdateDocument(ctx, remote.CollChats, chatID, map[string]any{
		"lastMessage.content": content,
	}); err != nil {
		return fmt.Errorf("update chat %s: %w", chatID, err)
	}
	last := *chat.LastMessage
	last.Content = content
	s.session.Chats.UpdateChat(chatID, cache.ChatPatch{LastMessage: &last})
	s.bus.Emit(bus.KindChatsChanged, bus.ChatRef{ChatID: chatID})
	return nil
}

// DeleteForMe hides a message for userID only.
func (s *Sender) DeleteForMe(ctx context.Context, chatID, messageID, userID string) error {
	if cache.IsProvisionalID(messageID) {
		return ErrProvisional
	}
	if err := s.remote.UpdateDocument(ctx, remote.CollMessages, messageID, map[string]any{
		"deletedBy": remote.ArrayUnion{userID},
	}); err != nil {
		return fmt.Errorf("delete message %s for %s: %w", messageID, userID, err)
	}
	s.session.Messages.MarkDeleted(chatID, messageID, userID)
	s.bus.Emit(bus.KindMessagesChanged, bus.ChatRef{ChatID: chatID, MessageID: messageID})
	return nil
}

// DeleteForEveryone removes a message remotely and from the cache.
func (s *Sender) DeleteForEveryone(ctx context.Context, chatID, messageID string) error {
	if cache.IsProvisionalID(messageID) {
		return ErrProvisional
	}
	if _, err := s.remote.GetDocument(ctx, remote.CollMessages, messageID); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	if err := s.remote.DeleteDocument(ctx, remote.CollMessages, messageID); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	s.session.Messages.DeleteMessage(chatID, messageID)
	s.bus.Emit(bus.KindMessagesChanged, bus.ChatRef{ChatID: chatID, MessageID: messageID})
	return nil
}

// MarkRead records that viewerID has seen chatID: the viewer's unread counter
// goes to zero, lastReadAt is stored, and the viewer joins readBy of the
// partner's messages and of the chat's lastMessage. Per-message failures are
// joined; the rest are still attempted.
func (s *Sender) MarkRead(ctx context.Context, chatID, viewerID string) error {
	if err := s.remote.UpdateDocument(ctx, remote.CollChats, chatID, map[string]any{
		"unreadCount." + viewerID: 0,
	}); err != nil {
		return fmt.Errorf("reset unread for %s: %w", chatID, err)
	}
	s.session.Chats.ResetUnread(chatID, viewerID)

	now := s.now().UTC()
	var errs []error
	if err := s.remote.SetDocument(ctx, remote.ReadStatusCollection(chatID), viewerID, map[string]any{
		"lastReadAt": now,
	}, true); err != nil {
		errs = append(errs, fmt.Errorf("store lastReadAt: %w", err))
	}

	for _, m := range s.session.Messages.Messages(chatID) {
		if m.SenderID == viewerID || m.IsProvisional() || m.HiddenFor(viewerID) || slices.Contains(m.ReadBy, viewerID) {
			continue
		}
		next := status.Later(m.Status, status.Read)
		if err := s.remote.UpdateDocument(ctx, remote.CollMessages, m.ID, map[string]any{
			"readBy": remote.ArrayUnion{viewerID},
			"status": string(next),
		}); err != nil {
			errs = append(errs, fmt.Errorf("mark %s read: %w", m.ID, err))
			continue
		}
		readBy := append(m.ReadBy, viewerID)
		s.session.Messages.UpdateMessage(chatID, m.ID, cache.MessagePatch{ReadBy: readBy, Status: &next})
	}

	if chat, ok := s.session.Chats.Chat(chatID); ok {
		if lm := chat.LastMessage; lm != nil && lm.SenderID != viewerID && !slices.Contains(lm.ReadBy, viewerID) {
			if err := s.remote.UpdateDocument(ctx, remote.CollChats, chatID, map[string]any{
				"lastMessage.readBy": remote.ArrayUnion{viewerID},
			}); err != nil {
				errs = append(errs, fmt.Errorf("mark last message read: %w", err))
			} else {
				lm.ReadBy = append(lm.ReadBy, viewerID)
				s.session.Chats.UpdateChat(chatID, cache.ChatPatch{LastMessage: lm})
			}
		}
	}

	s.bus.Emit(bus.KindMessagesChanged, bus.ChatRef{ChatID: chatID})
	s.bus.Emit(bus.KindChatsChanged, bus.ChatRef{ChatID: chatID})
	return errors.Join(errs...)
}

// FlushUnsynced re-sends provisional messages left in the cache, such as those
// persisted by a process that stopped mid-send. In-flight sends are skipped.
// It returns the number of messages confirmed.
func (s *Sender) FlushUnsynced(ctx context.Context) int {
	sent := 0
	for _, m := range s.session.Messages.UnsyncedMessages() {
		if !m.IsProvisional() || m.ClientID == "" {
			continue
		}
		if err := s.tracker.Begin(m.ClientID, m.ChatID); err != nil {
			continue
		}
		m.Status = status.Sending
		if _, err := s.deliver(ctx, m); err != nil {
			continue
		}
		sent++
	}
	return sent
}

// Start re-sends leftovers every interval until Stop or ctx is done.
func (s *Sender) Start(ctx context.Context, interval time.Duration) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx, interval)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.FlushUnsynced(ctx); n > 0 {
				s.logger.Info("flushed unsynced messages", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) chat(ctx context.Context, chatID string) (cache.Chat, error) {
	if c, ok := s.session.Chats.Chat(chatID); ok {
		return c, nil
	}
	doc, err := s.remote.GetDocument(ctx, remote.CollChats, chatID)
	if err != nil {
		return cache.Chat{}, fmt.Errorf("load chat %s: %w", chatID, err)
	}
	c, err := convert.Chat(doc)
	if err != nil {
		return cache.Chat{}, err
	}
	s.session.Chats.SetChat(c)
	return c, nil
}

func (s *Sender) message(ctx context.Context, chatID, messageID string) (cache.Message, error) {
	if m, ok := s.session.Messages.Message(chatID, messageID); ok {
		return m, nil
	}
	doc, err := s.remote.GetDocument(ctx, remote.CollMessages, messageID)
	if err != nil {
		return cache.Message{}, fmt.Errorf("load message %s: %w", messageID, err)
	}
	return convert.Message(doc)
}
