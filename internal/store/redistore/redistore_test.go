package redistore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/studykit/groupsync/internal/store"
)

// integration tests require REDIS_ADDR set externally; they are skipped
// otherwise. Each run works under a unique prefix so leftovers from earlier
// runs cannot bleed in.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}

	prefix := fmt.Sprintf("groupsync_test_%d", time.Now().UnixNano())
	s, err := New(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), 0, prefix, zap.NewNop())
	if err != nil {
		t.Fatalf("redistore.New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMergeAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetDocument(ctx, "users", "alice"); err != nil || ok {
		t.Fatalf("expected absence before write: ok=%v err=%v", ok, err)
	}

	if err := s.PutMerge(ctx, "users", "alice", map[string]any{"username": "Ada", "avatar": "owl"}); err != nil {
		t.Fatalf("PutMerge failed: %v", err)
	}
	if err := s.PutMerge(ctx, "users", "alice", map[string]any{"username": "Grace"}); err != nil {
		t.Fatalf("PutMerge failed: %v", err)
	}

	doc, ok, err := s.GetDocument(ctx, "users", "alice")
	if err != nil || !ok {
		t.Fatalf("GetDocument failed: ok=%v err=%v", ok, err)
	}
	if name, _ := doc.String("username"); name != "Grace" {
		t.Fatalf("username = %q, want Grace", name)
	}
	if avatar, _ := doc.String("avatar"); avatar != "owl" {
		t.Fatalf("sibling field clobbered: avatar = %q", avatar)
	}
}

func TestEncodedFieldsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sent := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := s.PutMerge(ctx, "statistics", "alice", map[string]any{
		"totalTimeStudied": int64(90),
		"likes":            int64(2),
		"updatedAt":        sent,
		"visible":          true,
		"trophies":         []string{"gold_cup", "scholar"},
	})
	if err != nil {
		t.Fatalf("PutMerge failed: %v", err)
	}

	doc, ok, err := s.GetDocument(ctx, "statistics", "alice")
	if err != nil || !ok {
		t.Fatalf("GetDocument failed: ok=%v err=%v", ok, err)
	}
	if n, _ := doc.Number("totalTimeStudied"); n != 90 {
		t.Fatalf("totalTimeStudied = %v, want 90", n)
	}
	if ts, tok := doc.Time("updatedAt"); !tok || !ts.Equal(sent) {
		t.Fatalf("updatedAt = %v ok=%v, want %v", ts, tok, sent)
	}
	if v, _ := doc.Bool("visible"); !v {
		t.Fatal("visible did not round-trip as true")
	}
	if trophies, _ := doc.Strings("trophies"); len(trophies) != 2 || trophies[0] != "gold_cup" {
		t.Fatalf("trophies = %v", trophies)
	}
}

func TestIncrementComposesWithMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutMerge(ctx, "statistics", "bob", map[string]any{"likes": int64(1)}); err != nil {
		t.Fatalf("PutMerge failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementField(ctx, "statistics", "bob", "likes", 1); err != nil {
			t.Fatalf("IncrementField failed: %v", err)
		}
	}

	doc, ok, err := s.GetDocument(ctx, "statistics", "bob")
	if err != nil || !ok {
		t.Fatalf("GetDocument failed: ok=%v err=%v", ok, err)
	}
	if likes, _ := doc.Int64("likes"); likes != 4 {
		t.Fatalf("likes = %d, want 4", likes)
	}
}

func TestConcurrentFirstWritesTrackOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// several clients react to a user with no statistics row yet; the racing
	// first writes must register the id exactly once
	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.IncrementField(ctx, "statistics", "bob", "likes", 1); err != nil {
				t.Errorf("IncrementField failed: %v", err)
			}
		}()
	}
	wg.Wait()

	docs, err := s.readAll(ctx, "statistics")
	if err != nil {
		t.Fatalf("readAll failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document in the snapshot, got %d", len(docs))
	}
	if likes, _ := docs[0].Int64("likes"); likes != n {
		t.Fatalf("likes = %d, want %d", likes, n)
	}
}

func TestReadAllSkipsUnwrittenIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// an id registered by a write that failed before its hash landed must not
	// surface as an empty document
	if err := s.client.RPush(ctx, s.idsKey("globalChat"), "ghost").Err(); err != nil {
		t.Fatalf("RPush failed: %v", err)
	}
	if _, err := s.AppendDocument(ctx, "globalChat", map[string]any{"message": "hi"}); err != nil {
		t.Fatalf("AppendDocument failed: %v", err)
	}

	docs, err := s.readAll(ctx, "globalChat")
	if err != nil {
		t.Fatalf("readAll failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if msg, _ := docs[0].String("message"); msg != "hi" {
		t.Fatalf("message = %q, want hi", msg)
	}
}

func TestAppendKeepsInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.AppendDocument(ctx, "globalChat", map[string]any{"message": fmt.Sprintf("m%d", i)})
		if err != nil {
			t.Fatalf("AppendDocument failed: %v", err)
		}
		ids = append(ids, id)
	}

	docs, err := s.readAll(ctx, "globalChat")
	if err != nil {
		t.Fatalf("readAll failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	for i, doc := range docs {
		if doc.ID != ids[i] {
			t.Fatalf("order broken at %d: got %q, want %q", i, doc.ID, ids[i])
		}
	}
}

func TestSubscriptionSeesWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var latest []store.Document
	got := make(chan int, 16)

	cancel, err := s.SubscribeCollection("globalChat", func(docs []store.Document) {
		mu.Lock()
		latest = docs
		mu.Unlock()
		got <- len(docs)
	})
	if err != nil {
		t.Fatalf("SubscribeCollection failed: %v", err)
	}
	defer cancel()

	waitFor := func(n int) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case count := <-got:
				if count == n {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for snapshot with %d documents", n)
			}
		}
	}

	waitFor(0)

	if _, err := s.AppendDocument(ctx, "globalChat", map[string]any{"message": "hello", "sender": "alice"}); err != nil {
		t.Fatalf("AppendDocument failed: %v", err)
	}
	waitFor(1)

	mu.Lock()
	defer mu.Unlock()
	if msg, _ := latest[0].String("message"); msg != "hello" {
		t.Fatalf("snapshot message = %q, want hello", msg)
	}
}
