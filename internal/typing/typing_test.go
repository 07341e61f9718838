package typing

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/kv"
	"github.com/matheus3301/ventchat/internal/offline"
	"github.com/matheus3301/ventchat/internal/remote"
)

// fakeClock fires scheduled funcs when Advance passes their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && t.at <= c.now {
			t.stopped = true
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func setup(t *testing.T) (*remote.Memory, *offline.Session, *fakeClock, *Indicator) {
	t.Helper()
	ctx := context.Background()
	store := remote.NewMemory()
	if err := store.SetDocument(ctx, remote.CollChats, "c1", map[string]any{"participants": []string{"me", "p"}}, false); err != nil {
		t.Fatal(err)
	}
	session := offline.NewSession(kv.NewLocal(kv.NewMemory(), nil))
	session.Chats.SetChat(cache.Chat{ID: "c1", Participants: []string{"me", "p"}})
	clock := &fakeClock{}
	in := New(ctx, store, session, nil, nil, "c1", "me", WithAfterFunc(clock.AfterFunc))
	return store, session, clock, in
}

func remoteTyping(t *testing.T, store *remote.Memory) any {
	t.Helper()
	doc, err := store.GetDocument(context.Background(), remote.CollChats, "c1")
	if err != nil {
		t.Fatal(err)
	}
	typing, _ := doc.Data["typing"].(map[string]any)
	return typing["me"]
}

func TestDebounce(t *testing.T) {
	store, session, clock, in := setup(t)

	in.Keystroke("h")
	if !in.Typing() || remoteTyping(t, store) != true {
		t.Fatal("typing not set on first keystroke")
	}

	clock.Advance(1500 * time.Millisecond)
	in.Keystroke("he")
	clock.Advance(1500 * time.Millisecond)
	if !in.Typing() {
		t.Fatal("typing reset before 2s of idleness")
	}

	clock.Advance(500 * time.Millisecond)
	if in.Typing() {
		t.Error("typing still set 2s after last keystroke")
	}
	if remoteTyping(t, store) != false {
		t.Error("remote typing not reset")
	}
	if chat, _ := session.Chats.Chat("c1"); chat.Typing["me"] {
		t.Error("cached typing not reset")
	}
}

func TestEmptyTextClears(t *testing.T) {
	store, _, clock, in := setup(t)
	in.Keystroke("hi")
	in.Keystroke("   ")
	if in.Typing() || remoteTyping(t, store) != false {
		t.Error("empty text did not clear typing")
	}
	// The stopped timer must not fire later.
	in.Keystroke("x")
	clock.Advance(time.Second)
	in.Clear()
	in.Keystroke("y")
	clock.Advance(1500 * time.Millisecond)
	if !in.Typing() {
		t.Error("stale timer reset typing")
	}
}

func TestClearAndClose(t *testing.T) {
	store, _, _, in := setup(t)
	in.Keystroke("hello")
	in.Clear()
	if in.Typing() || remoteTyping(t, store) != false {
		t.Error("Clear did not reset typing")
	}
	in.Keystroke("again")
	in.Close()
	if in.Typing() {
		t.Error("Close did not reset typing")
	}
}

func TestRemoteFailureKeepsLocalState(t *testing.T) {
	session := offline.NewSession(kv.NewLocal(kv.NewMemory(), nil))
	session.Chats.SetChat(cache.Chat{ID: "gone", Participants: []string{"me", "p"}})
	clock := &fakeClock{}
	in := New(context.Background(), remote.NewMemory(), session, nil, nil, "gone", "me", WithAfterFunc(clock.AfterFunc))

	in.Keystroke("x")
	if chat, _ := session.Chats.Chat("gone"); !chat.Typing["me"] {
		t.Error("local typing not set when remote write fails")
	}
}

// slowStore holds UpdateDocument until release is closed.
type slowStore struct {
	*remote.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowStore) UpdateDocument(ctx context.Context, collection, id string, updates map[string]any) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Memory.UpdateDocument(ctx, collection, id, updates)
}

func TestRemoteWriteDoesNotHoldState(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	if err := mem.SetDocument(ctx, remote.CollChats, "c1", map[string]any{"participants": []string{"me", "p"}}, false); err != nil {
		t.Fatal(err)
	}
	store := &slowStore{Memory: mem, entered: make(chan struct{}), release: make(chan struct{})}
	session := offline.NewSession(kv.NewLocal(kv.NewMemory(), nil))
	session.Chats.SetChat(cache.Chat{ID: "c1", Participants: []string{"me", "p"}})
	clock := &fakeClock{}
	in := New(ctx, store, session, nil, nil, "c1", "me", WithAfterFunc(clock.AfterFunc))

	done := make(chan struct{})
	go func() {
		defer close(done)
		in.Keystroke("h")
	}()
	<-store.entered

	read := make(chan bool, 1)
	go func() { read <- in.Typing() }()
	select {
	case typing := <-read:
		if !typing {
			t.Error("local typing not set while remote write is pending")
		}
	case <-time.After(time.Second):
		t.Fatal("Typing() blocked on a pending remote write")
	}

	close(store.release)
	<-done
	in.Clear()
	if remoteTyping(t, mem) != false {
		t.Error("remote typing not reset after the slow write finished")
	}
}
