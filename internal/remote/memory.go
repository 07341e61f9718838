package remote

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Memory is an in-process DocStore. Listeners are notified on a writing
// goroutine after the write lock is released, so a listener may read or write
// the store itself. Each listener sees snapshots in write order: a snapshot
// older than one already delivered is dropped.
type Memory struct {
	mu        sync.RWMutex
	colls     map[string]map[string]map[string]any
	listeners map[int]*listener
	next      int
	version   uint64
	newID     func() string
}

type listener struct {
	query  *Query
	coll   string
	docID  string
	onDocs QueryListener
	onDoc  DocumentListener
	active atomic.Bool

	// mu guards the delivery state below. Only one goroutine drains a
	// listener at a time; others leave their snapshot in pending.
	mu        sync.Mutex
	draining  bool
	started   bool
	delivered uint64
	pending   *snapshot
}

type snapshot struct {
	version uint64
	docs    []Document
	doc     Document
	exists  bool
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithIDFunc sets the generator used for AddDocument ids.
func WithIDFunc(fn func() string) MemoryOption {
	return func(m *Memory) { m.newID = fn }
}

// NewMemory creates an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		colls:     make(map[string]map[string]map[string]any),
		listeners: make(map[int]*listener),
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.colls[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Data: copyMap(data)}, nil
}

func (m *Memory) SetDocument(ctx context.Context, collection, id string, data map[string]any, mergeFields bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	incoming, _ := normalize(data).(map[string]any)
	if incoming == nil {
		incoming = make(map[string]any)
	}

	m.mu.Lock()
	coll := m.collection(collection)
	if existing, ok := coll[id]; ok && mergeFields {
		merge(existing, incoming)
	} else {
		coll[id] = incoming
	}
	m.version++
	m.mu.Unlock()

	m.notify(collection, id)
	return nil
}

func (m *Memory) UpdateDocument(ctx context.Context, collection, id string, updates map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	existing, ok := m.colls[collection][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	// Apply to a copy so a failed update leaves the document untouched.
	next := copyMap(existing)
	for _, path := range sortedKeys(updates) {
		if err := assign(next, path, updates[path]); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
	}
	m.colls[collection][id] = next
	m.version++
	m.mu.Unlock()

	m.notify(collection, id)
	return nil
}

func (m *Memory) AddDocument(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	incoming, _ := normalize(data).(map[string]any)
	if incoming == nil {
		incoming = make(map[string]any)
	}

	m.mu.Lock()
	coll := m.collection(collection)
	id := m.newID()
	for coll[id] != nil {
		id = m.newID()
	}
	coll[id] = incoming
	m.version++
	m.mu.Unlock()

	m.notify(collection, id)
	return id, nil
}

// DeleteDocument removes a document. Deleting a missing document is not an error.
func (m *Memory) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	_, ok := m.colls[collection][id]
	delete(m.colls[collection], id)
	if ok {
		m.version++
	}
	m.mu.Unlock()

	if ok {
		m.notify(collection, id)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.run(q), nil
}

func (m *Memory) SubscribeQuery(ctx context.Context, q Query, fn QueryListener) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.Filters = slices.Clone(q.Filters)
	l := &listener{query: &q, coll: q.Collection, onDocs: fn}
	unsubscribe := m.register(ctx, l)
	m.deliver(l)
	return unsubscribe, nil
}

func (m *Memory) SubscribeDocument(ctx context.Context, collection, id string, fn DocumentListener) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := &listener{coll: collection, docID: id, onDoc: fn}
	unsubscribe := m.register(ctx, l)
	m.deliver(l)
	return unsubscribe, nil
}

// Listeners returns the number of active subscriptions.
func (m *Memory) Listeners() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

func (m *Memory) register(ctx context.Context, l *listener) func() {
	l.active.Store(true)
	m.mu.Lock()
	key := m.next
	m.next++
	m.listeners[key] = l
	m.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			l.active.Store(false)
			m.mu.Lock()
			delete(m.listeners, key)
			m.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}
}

func (m *Memory) notify(collection, id string) {
	m.mu.RLock()
	var targets []*listener
	for _, l := range m.listeners {
		if l.coll != collection {
			continue
		}
		if l.query == nil && l.docID != id {
			continue
		}
		targets = append(targets, l)
	}
	m.mu.RUnlock()

	for _, l := range targets {
		m.deliver(l)
	}
}

func (m *Memory) deliver(l *listener) {
	if !l.active.Load() {
		return
	}
	snap := m.snapshot(l)

	l.mu.Lock()
	if l.pending == nil || snap.version >= l.pending.version {
		l.pending = &snap
	}
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true
	for l.pending != nil {
		next := l.pending
		l.pending = nil
		if l.started && next.version <= l.delivered {
			continue
		}
		l.started, l.delivered = true, next.version
		l.mu.Unlock()

		if l.active.Load() {
			if l.query != nil {
				l.onDocs(next.docs)
			} else {
				l.onDoc(next.doc, next.exists)
			}
		}

		l.mu.Lock()
	}
	l.draining = false
	l.mu.Unlock()
}

func (m *Memory) snapshot(l *listener) snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l.query != nil {
		return snapshot{version: m.version, docs: m.run(*l.query)}
	}
	data, ok := m.colls[l.coll][l.docID]
	return snapshot{version: m.version, doc: Document{ID: l.docID, Data: copyMap(data)}, exists: ok}
}

// run evaluates q. Callers hold m.mu.
func (m *Memory) run(q Query) []Document {
	var docs []Document
	for id, data := range m.colls[q.Collection] {
		if !matchesAll(data, q.Filters) {
			continue
		}
		docs = append(docs, Document{ID: id, Data: copyMap(data)})
	}
	slices.SortFunc(docs, func(a, b Document) int {
		if q.OrderBy != "" {
			av, _ := lookup(a.Data, q.OrderBy)
			bv, _ := lookup(b.Data, q.OrderBy)
			c := compareValues(av, bv)
			if q.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func (m *Memory) collection(name string) map[string]map[string]any {
	coll, ok := m.colls[name]
	if !ok {
		coll = make(map[string]map[string]any)
		m.colls[name] = coll
	}
	return coll
}

func matchesAll(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !matches(data, f) {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
