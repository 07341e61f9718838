// Package remote defines the document-store contract the sync layer consumes
// and an in-process implementation of it.
package remote

import (
	"context"
	"errors"
	"time"
)

// Collection names used by the chat app.
const (
	CollUsers       = "users"
	CollChats       = "chats"
	CollMessages    = "messages"
	CollConnections = "connections"
)

// ReadStatusCollection is the per-chat subcollection holding each
// participant's lastReadAt.
func ReadStatusCollection(chatID string) string {
	return CollChats + "/" + chatID + "/readStatus"
}

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("remote: document not found")

// Document is one stored document. Data holds JSON-like values: string, bool,
// int64, float64, Timestamp, []any and map[string]any.
type Document struct {
	ID   string
	Data map[string]any
}

// Timestamp is the store-native instant.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// NewTimestamp converts t to a Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time returns the instant in UTC.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// ArrayUnion, used as a value in UpdateDocument, appends its elements to the
// array at that path, skipping elements already present.
type ArrayUnion []any

// Increment, used as a value in UpdateDocument, adds n to the number at that
// path (a missing field counts as zero).
type Increment int64

// Op is a query filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

// Filter restricts a query to documents whose Field matches Value under Op.
// Field may be a dotted path.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// QueryListener receives the full current result set of a query.
type QueryListener func(docs []Document)

// DocumentListener receives the current state of one document. exists is
// false when the document is missing or was deleted.
type DocumentListener func(doc Document, exists bool)

// DocStore is a document database with realtime listeners. Subscriptions
// deliver an initial snapshot and then a full snapshot on every change; the
// returned func unsubscribes and is safe to call more than once.
type DocStore interface {
	GetDocument(ctx context.Context, collection, id string) (Document, error)
	SetDocument(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	UpdateDocument(ctx context.Context, collection, id string, updates map[string]any) error
	AddDocument(ctx context.Context, collection string, data map[string]any) (string, error)
	DeleteDocument(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	SubscribeQuery(ctx context.Context, q Query, fn QueryListener) (func(), error)
	SubscribeDocument(ctx context.Context, collection, id string, fn DocumentListener) (func(), error)
}
