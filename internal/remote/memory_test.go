package remote

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func seqIDs() MemoryOption {
	n := 0
	return WithIDFunc(func() string {
		n++
		return fmt.Sprintf("m%d", n)
	})
}

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(seqIDs())

	id, err := m.AddDocument(ctx, CollMessages, map[string]any{"content": "hi", "readBy": []string{"u1"}})
	if err != nil {
		t.Fatal(err)
	}
	if id != "m1" {
		t.Errorf("id = %q, want m1", id)
	}

	doc, err := m.GetDocument(ctx, CollMessages, id)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(doc.Data["readBy"], []any{"u1"}) {
		t.Errorf("readBy = %#v", doc.Data["readBy"])
	}

	doc.Data["content"] = "mutated"
	again, _ := m.GetDocument(ctx, CollMessages, id)
	if again.Data["content"] != "hi" {
		t.Error("store mutated through returned document")
	}

	if err := m.DeleteDocument(ctx, CollMessages, id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetDocument(ctx, CollMessages, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument after delete: err = %v, want ErrNotFound", err)
	}
	if err := m.DeleteDocument(ctx, CollMessages, "missing"); err != nil {
		t.Errorf("DeleteDocument(missing) = %v, want nil", err)
	}
}

func TestMemorySetMerge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.SetDocument(ctx, CollChats, "c1", map[string]any{
		"participants": []string{"u1", "u2"},
		"unreadCount":  map[string]int{"u1": 1, "u2": 2},
	}, false)
	_ = m.SetDocument(ctx, CollChats, "c1", map[string]any{"unreadCount": map[string]any{"u1": 0}}, true)

	doc, _ := m.GetDocument(ctx, CollChats, "c1")
	want := map[string]any{"u1": int64(0), "u2": int64(2)}
	if !reflect.DeepEqual(doc.Data["unreadCount"], want) {
		t.Errorf("unreadCount = %#v, want %#v", doc.Data["unreadCount"], want)
	}
	if doc.Data["participants"] == nil {
		t.Error("merge dropped participants")
	}

	_ = m.SetDocument(ctx, CollChats, "c1", map[string]any{"x": true}, false)
	doc, _ = m.GetDocument(ctx, CollChats, "c1")
	if len(doc.Data) != 1 {
		t.Errorf("overwrite kept fields: %v", doc.Data)
	}
}

func TestMemoryUpdatePaths(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.SetDocument(ctx, CollChats, "c1", map[string]any{
		"unreadCount": map[string]any{"u1": 3, "u2": 0},
	}, false)

	err := m.UpdateDocument(ctx, CollChats, "c1", map[string]any{
		"unreadCount.u1": 0,
		"unreadCount.u2": Increment(1),
		"typing.u1":      true,
		"readBy":         ArrayUnion{"u1", "u2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = m.UpdateDocument(ctx, CollChats, "c1", map[string]any{"readBy": ArrayUnion{"u2", "u3"}})

	doc, _ := m.GetDocument(ctx, CollChats, "c1")
	if got, _ := lookup(doc.Data, "unreadCount.u1"); got != int64(0) {
		t.Errorf("unreadCount.u1 = %v", got)
	}
	if got, _ := lookup(doc.Data, "unreadCount.u2"); got != int64(1) {
		t.Errorf("unreadCount.u2 = %v", got)
	}
	if got, _ := lookup(doc.Data, "typing.u1"); got != true {
		t.Errorf("typing.u1 = %v", got)
	}
	if !reflect.DeepEqual(doc.Data["readBy"], []any{"u1", "u2", "u3"}) {
		t.Errorf("readBy = %v", doc.Data["readBy"])
	}

	if err := m.UpdateDocument(ctx, CollChats, "missing", map[string]any{"a": 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateDocument(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryQuery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "a", "c", "d"} {
		chat := "c1"
		if id == "d" {
			chat = "c2"
		}
		_ = m.SetDocument(ctx, CollMessages, id, map[string]any{
			"chatId":    chat,
			"createdAt": base.Add(time.Duration(3-i) * time.Minute),
			"readBy":    []string{"u" + id},
		}, false)
	}

	docs, err := m.Query(ctx, Query{
		Collection: CollMessages,
		Filters:    []Filter{Where("chatId", OpEqual, "c1")},
		OrderBy:    "createdAt",
	})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, d := range docs {
		got = append(got, d.ID)
	}
	if !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("ordered ids = %v, want [c a b]", got)
	}

	docs, _ = m.Query(ctx, Query{Collection: CollMessages, OrderBy: "createdAt", Descending: true, Limit: 1})
	if len(docs) != 1 || docs[0].ID != "b" {
		t.Errorf("desc limit 1 = %v", docs)
	}

	docs, _ = m.Query(ctx, Query{Collection: CollMessages, Filters: []Filter{Where("readBy", OpArrayContains, "ud")}})
	if len(docs) != 1 || docs[0].ID != "d" {
		t.Errorf("array-contains = %v", docs)
	}
}

func TestMemorySubscribeQuery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(seqIDs())
	q := Query{Collection: CollConnections, Filters: []Filter{Where("userId", OpEqual, "u1")}}

	var snapshots [][]Document
	unsubscribe, err := m.SubscribeQuery(ctx, q, func(docs []Document) {
		snapshots = append(snapshots, docs)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshots) != 1 || len(snapshots[0]) != 0 {
		t.Fatalf("initial snapshot = %v", snapshots)
	}

	_, _ = m.AddDocument(ctx, CollConnections, map[string]any{"userId": "u1"})
	_, _ = m.AddDocument(ctx, CollConnections, map[string]any{"userId": "u2"})
	_ = m.SetDocument(ctx, CollChats, "c1", map[string]any{}, false)

	if len(snapshots) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snapshots))
	}
	if len(snapshots[1]) != 1 || len(snapshots[2]) != 1 {
		t.Errorf("snapshots are not full result sets: %v", snapshots)
	}

	unsubscribe()
	unsubscribe()
	_, _ = m.AddDocument(ctx, CollConnections, map[string]any{"userId": "u1"})
	if len(snapshots) != 3 {
		t.Errorf("delivered after unsubscribe")
	}
	if m.Listeners() != 0 {
		t.Errorf("Listeners() = %d, want 0", m.Listeners())
	}
}

func TestMemorySubscribeDocument(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()

	var states []bool
	if _, err := m.SubscribeDocument(ctx, CollChats, "c1", func(doc Document, exists bool) {
		states = append(states, exists)
	}); err != nil {
		t.Fatal(err)
	}
	_ = m.SetDocument(ctx, CollChats, "c1", map[string]any{"a": 1}, false)
	_ = m.SetDocument(ctx, CollChats, "c2", map[string]any{"a": 1}, false)
	_ = m.DeleteDocument(ctx, CollChats, "c1")

	if !reflect.DeepEqual(states, []bool{false, true, false}) {
		t.Errorf("states = %v, want [false true false]", states)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for m.Listeners() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if m.Listeners() != 0 {
		t.Error("listener survived context cancellation")
	}
}

func TestMemoryListenerMayWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.SetDocument(ctx, CollChats, "c1", map[string]any{"n": 0}, false)

	_, err := m.SubscribeDocument(ctx, CollChats, "c1", func(doc Document, exists bool) {
		if n, _ := doc.Data["n"].(int64); n == 1 {
			_ = m.SetDocument(ctx, CollChats, "echo", map[string]any{"seen": true}, false)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = m.UpdateDocument(ctx, CollChats, "c1", map[string]any{"n": Increment(1)})

	if _, err := m.GetDocument(ctx, CollChats, "echo"); err != nil {
		t.Errorf("write from listener failed: %v", err)
	}
}

func TestMemorySnapshotsArriveInWriteOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.SetDocument(ctx, CollChats, "c1", map[string]any{"n": 0}, false)

	var (
		mu      sync.Mutex
		seen    []int64
		running int
		overlap bool
	)
	_, err := m.SubscribeDocument(ctx, CollChats, "c1", func(doc Document, _ bool) {
		mu.Lock()
		running++
		if running > 1 {
			overlap = true
		}
		n, _ := doc.Data["n"].(int64)
		seen = append(seen, n)
		mu.Unlock()

		time.Sleep(100 * time.Microsecond)

		mu.Lock()
		running--
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	const writers = 50
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.UpdateDocument(ctx, CollChats, "c1", map[string]any{"n": Increment(1)})
		}()
	}
	wg.Wait()

	// A writer may return while another goroutine still drains its snapshot.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(seen) > 0 && seen[len(seen)-1] == writers && running == 0
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("listener ran concurrently with itself")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("snapshot %d went back from %d to %d", i, seen[i-1], seen[i])
		}
	}
	if last := seen[len(seen)-1]; last != writers {
		t.Errorf("last snapshot n = %d, want %d", last, writers)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 30, 0, 123456789, time.UTC)
	if got := NewTimestamp(at).Time(); !got.Equal(at) {
		t.Errorf("Time() = %v, want %v", got, at)
	}
}
