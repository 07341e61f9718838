package outbox

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// State is the state of one optimistic send.
type State string

const (
	Pending   State = "PENDING"
	Confirmed State = "CONFIRMED"
	Failed    State = "FAILED"
)

// Entry tracks one send by its client correlation id.
type Entry struct {
	ClientID  string
	ChatID    string
	MessageID string // server id once confirmed
	State     State
	Err       error
	Attempts  int
	UpdatedAt time.Time
}

// Tracker records the PENDING → CONFIRMED | FAILED lifecycle of sends.
// A failed send may be retried, which makes it pending again.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*Entry)}
}

// Begin marks a send as pending. It fails when the send is already pending or
// confirmed.
func (t *Tracker) Begin(clientID, chatID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[clientID]
	if ok && e.State != Failed {
		return fmt.Errorf("send %s is already %s", clientID, e.State)
	}
	if !ok {
		e = &Entry{ClientID: clientID, ChatID: chatID}
		t.entries[clientID] = e
	}
	e.State = Pending
	e.Err = nil
	e.Attempts++
	e.UpdatedAt = time.Now()
	return nil
}

// Confirm moves a pending send to CONFIRMED with its server id.
func (t *Tracker) Confirm(clientID, messageID string) error {
	return t.finish(clientID, Confirmed, func(e *Entry) { e.MessageID = messageID })
}

// Fail moves a pending send to FAILED.
func (t *Tracker) Fail(clientID string, err error) error {
	return t.finish(clientID, Failed, func(e *Entry) { e.Err = err })
}

func (t *Tracker) finish(clientID string, to State, apply func(*Entry)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[clientID]
	if !ok {
		return fmt.Errorf("send %s is not tracked", clientID)
	}
	if e.State != Pending {
		return fmt.Errorf("invalid send transition from %s to %s", e.State, to)
	}
	e.State = to
	apply(e)
	e.UpdatedAt = time.Now()
	return nil
}

// Get returns a copy of the entry for clientID.
func (t *Tracker) Get(clientID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[clientID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// InState returns the entries in state s, oldest first.
func (t *Tracker) InState(s State) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for _, e := range t.entries {
		if e.State == s {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

// Forget drops a finished entry.
func (t *Tracker) Forget(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[clientID]; ok && e.State != Pending {
		delete(t.entries, clientID)
	}
}
