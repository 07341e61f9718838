package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

type failingStore struct {
	*Memory
	err   error
	calls int
}

func (f *failingStore) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	f.calls++
	if f.err != nil {
		return Document{}, f.err
	}
	return f.Memory.GetDocument(ctx, collection, id)
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	ctx := context.Background()
	inner := &failingStore{Memory: NewMemory(), err: errors.New("unavailable")}
	b := WithBreaker(inner, BreakerSettings{FailureThreshold: 2, Timeout: time.Minute}, nil)

	for range 2 {
		if _, err := b.GetDocument(ctx, CollUsers, "u1"); err == nil {
			t.Fatal("GetDocument() = nil error, want failure")
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}

	_, err := b.GetDocument(ctx, CollUsers, "u1")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	ctx := context.Background()
	b := WithBreaker(NewMemory(), BreakerSettings{FailureThreshold: 1, Timeout: time.Minute}, nil)

	for range 3 {
		if _, err := b.GetDocument(ctx, CollUsers, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreakerPassesThrough(t *testing.T) {
	ctx := context.Background()
	b := WithBreaker(NewMemory(), DefaultBreakerSettings(), nil)

	id, err := b.AddDocument(ctx, CollMessages, map[string]any{"chatId": "c1"})
	if err != nil {
		t.Fatal(err)
	}
	var got int
	unsubscribe, err := b.SubscribeQuery(ctx, Query{Collection: CollMessages}, func(docs []Document) {
		got = len(docs)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()
	if got != 1 {
		t.Errorf("snapshot size = %d, want 1", got)
	}
	if err := b.UpdateDocument(ctx, CollMessages, id, map[string]any{"content": "x"}); err != nil {
		t.Fatal(err)
	}
}
