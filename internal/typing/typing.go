// Package typing debounces the typing indicator of one user in one chat.
package typing

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/ventchat/internal/bus"
	"github.com/matheus3301/ventchat/internal/offline"
	"github.com/matheus3301/ventchat/internal/remote"
)

// DefaultIdle is how long after the last keystroke typing is reset.
const DefaultIdle = 2 * time.Second

// Timer is the subset of *time.Timer the indicator uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Indicator publishes typing.<uid> on a chat document. Typing turns on with
// the first non-empty keystroke and off after Idle without keystrokes, on
// empty text, on Clear and on Close.
type Indicator struct {
	remote  remote.DocStore
	session *offline.Session
	bus     *bus.Bus
	logger  *zap.Logger
	chatID  string
	userID  string
	idle    time.Duration
	after   AfterFunc

	mu     sync.Mutex
	typing bool
	timer  Timer
	ctx    context.Context

	// writeMu serializes remote writes; written is the last state stored
	// remotely. Both stay outside mu so keystrokes never wait on the network
	// while holding local state.
	writeMu sync.Mutex
	written bool
}

// Option configures an Indicator.
type Option func(*Indicator)

// WithIdle overrides DefaultIdle.
func WithIdle(d time.Duration) Option {
	return func(in *Indicator) { in.idle = d }
}

// WithAfterFunc replaces the timer source.
func WithAfterFunc(fn AfterFunc) Option {
	return func(in *Indicator) { in.after = fn }
}

// New creates an indicator for userID in chatID. ctx bounds the remote writes
// made from the idle timer.
func New(ctx context.Context, store remote.DocStore, session *offline.Session, b *bus.Bus, logger *zap.Logger, chatID, userID string, opts ...Option) *Indicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	in := &Indicator{
		remote:  store,
		session: session,
		bus:     b,
		logger:  logger,
		chatID:  chatID,
		userID:  userID,
		idle:    DefaultIdle,
		after:   realAfterFunc,
		ctx:     ctx,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Typing reports the current local state.
func (in *Indicator) Typing() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.typing
}

// Keystroke handles a change of the composer text.
func (in *Indicator) Keystroke(text string) {
	in.mu.Lock()
	if strings.TrimSpace(text) == "" {
		changed := in.setLocked(false)
		in.mu.Unlock()
		if changed {
			in.publish()
		}
		return
	}
	changed := in.setLocked(true)
	in.stopTimerLocked()
	var t Timer
	t = in.after(in.idle, func() {
		in.mu.Lock()
		if in.timer != t {
			in.mu.Unlock()
			return
		}
		in.timer = nil
		changed := in.setLocked(false)
		in.mu.Unlock()
		if changed {
			in.publish()
		}
	})
	in.timer = t
	in.mu.Unlock()

	if changed {
		in.publish()
	}
}

// Clear turns typing off, as on send.
func (in *Indicator) Clear() {
	in.mu.Lock()
	changed := in.setLocked(false)
	in.mu.Unlock()
	if changed {
		in.publish()
	}
}

// Close turns typing off if still on, as on leaving the chat screen.
func (in *Indicator) Close() {
	in.Clear()
}

// setLocked updates the local cache and reports whether the state changed.
func (in *Indicator) setLocked(typing bool) bool {
	if !typing {
		in.stopTimerLocked()
	}
	if in.typing == typing {
		return false
	}
	in.typing = typing
	in.session.Chats.SetTyping(in.chatID, in.userID, typing)
	in.bus.Emit(bus.KindChatsChanged, bus.ChatRef{ChatID: in.chatID})
	return true
}

// publish writes the current local state to typing.<uid>. Writes are
// serialized and always carry the latest state, so the remote flag converges
// on the local one even when transitions race.
func (in *Indicator) publish() {
	in.writeMu.Lock()
	defer in.writeMu.Unlock()

	in.mu.Lock()
	typing := in.typing
	in.mu.Unlock()
	if typing == in.written {
		return
	}

	if err := in.remote.UpdateDocument(in.ctx, remote.CollChats, in.chatID, map[string]any{
		"typing." + in.userID: typing,
	}); err != nil {
		in.logger.Warn("failed to update typing status",
			zap.String("chat_id", in.chatID), zap.Bool("typing", typing), zap.Error(err))
		return
	}
	in.written = typing
}

func (in *Indicator) stopTimerLocked() {
	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
}
