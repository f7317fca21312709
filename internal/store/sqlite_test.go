package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "zera.db"), opts...)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func decodeMap(t *testing.T, doc Document) map[string]any {
	t.Helper()
	var m map[string]any
	if err := doc.DataTo(&m); err != nil {
		t.Fatalf("DataTo failed: %v", err)
	}
	return m
}

func TestSetIsFullOverwrite(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "sessions/live", map[string]any{"a": 1, "b": "x"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "sessions/live", map[string]any{"c": true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	doc, err := s.Get(ctx, "sessions/live")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	m := decodeMap(t, *doc)
	if _, ok := m["a"]; ok {
		t.Fatalf("expected field a to be gone after overwrite: %v", m)
	}
	if m["c"] != true {
		t.Fatalf("expected c=true, got %v", m)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "sessions/none")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidPath(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, p := range []string{"", "sessions", "a/b/c", "/live"} {
		if err := s.Set(context.Background(), p, map[string]any{"x": 1}); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Set(%q): expected ErrInvalidPath, got %v", p, err)
		}
	}
}

func TestUpdateMergesAndIncrements(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "sessions/live", map[string]any{"current_hp": 100, "answer_key": "42"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Update(ctx, "sessions/live", Increment("current_hp", -10), Set("note", "hit")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	doc, err := s.Get(ctx, "sessions/live")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	m := decodeMap(t, *doc)
	if m["current_hp"] != float64(90) {
		t.Fatalf("expected current_hp 90, got %v", m["current_hp"])
	}
	if m["answer_key"] != "42" || m["note"] != "hit" {
		t.Fatalf("expected merged fields, got %v", m)
	}
}

func TestUpdateMissingDocument(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.Update(context.Background(), "sessions/live", Increment("current_hp", -10))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	const (
		initial = 1000
		writers = 40
		damage  = 10
	)
	if err := s.Set(ctx, "sessions/live", map[string]any{"current_hp": initial}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(ctx, "sessions/live", Increment("current_hp", -damage))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Update failed: %v", err)
		}
	}

	doc, err := s.Get(ctx, "sessions/live")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := decodeMap(t, *doc)["current_hp"]; got != float64(initial-writers*damage) {
		t.Fatalf("expected current_hp %d, got %v", initial-writers*damage, got)
	}
}

func TestAddAssignsIDAndServerTimestamp(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	id1, err := s.Add(ctx, "alerts", map[string]any{"message": "one", "timestamp": ServerTimestamp})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	id2, err := s.Add(ctx, "alerts", map[string]any{"message": "one", "timestamp": ServerTimestamp})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if id1 == "" || id1 == id2 {
		t.Fatalf("expected distinct ids, got %q and %q", id1, id2)
	}

	docs, err := s.List(ctx, "alerts")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected duplicate records to both persist, got %d", len(docs))
	}
	if ts := decodeMap(t, docs[0])["timestamp"]; ts != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("expected server timestamp, got %v", ts)
	}
}

func TestWatchDocumentDeliversInitialAndChanges(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	sub, err := s.WatchDocument(ctx, "sessions/live")
	if err != nil {
		t.Fatalf("WatchDocument failed: %v", err)
	}
	defer sub.Close()

	first := recv(t, sub.Updates())
	if first.Exists {
		t.Fatal("expected missing document on first snapshot")
	}

	if err := s.Set(ctx, "sessions/live", map[string]any{"current_hp": 100}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	second := recv(t, sub.Updates())
	if !second.Exists {
		t.Fatal("expected document after Set")
	}
	if got := decodeMap(t, second.Document)["current_hp"]; got != float64(100) {
		t.Fatalf("expected current_hp 100, got %v", got)
	}
}

func TestWatchCollectionDeliversFullSet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	sub, err := s.WatchCollection(ctx, "alerts")
	if err != nil {
		t.Fatalf("WatchCollection failed: %v", err)
	}
	defer sub.Close()

	if snap := recv(t, sub.Updates()); len(snap.Documents) != 0 {
		t.Fatalf("expected empty collection, got %d docs", len(snap.Documents))
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Add(ctx, "alerts", map[string]any{"n": i}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-sub.Updates():
			if len(snap.Documents) == 3 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for full collection snapshot")
		}
	}
}

func TestSubscriptionCloseOnContextCancel(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.WatchDocument(ctx, "sessions/live")
	if err != nil {
		t.Fatalf("WatchDocument failed: %v", err)
	}
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after context cancel")
	}

	s.watchMu.Lock()
	remaining := len(s.docWatchers)
	s.watchMu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected listener to be released, %d remain", remaining)
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}
