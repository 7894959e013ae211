// Package memstore is an in-process store backend. It keeps every collection
// in memory and fans change notifications out to registered subscribers, so
// the engine can run hermetically in tests and demos without a server.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/studykit/groupsync/internal/store"
)

// Store implements store.Client in memory.
//
// Subscribers are tracked the same way the connection hub tracks streams: a
// map of registration ids per subscription target, so a single target can
// have any number of independent listeners and each can be released without
// disturbing the others.
type Store struct {
	mu sync.RWMutex

	// docs holds field maps keyed by collection then document id.
	docs map[string]map[string]map[string]any
	// order preserves insertion order per collection; snapshot emission and
	// tie-breaking both depend on it.
	order map[string][]string

	collSubs map[string]map[int64]store.CollectionFunc
	docSubs  map[string]map[int64]store.DocumentFunc
	nextSub  int64
	nextDoc  int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		docs:     make(map[string]map[string]map[string]any),
		order:    make(map[string][]string),
		collSubs: make(map[string]map[int64]store.CollectionFunc),
		docSubs:  make(map[string]map[int64]store.DocumentFunc),
	}
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

// GetDocument point-reads a document.
func (s *Store) GetDocument(_ context.Context, collection, id string) (store.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.docs[collection][id]
	if !ok {
		return store.Document{}, false, nil
	}
	return store.Document{ID: id, Fields: copyFields(fields)}, true, nil
}

// PutMerge upserts only the provided fields, leaving siblings untouched.
func (s *Store) PutMerge(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	doc := s.ensureDoc(collection, id)
	for k, v := range fields {
		doc[k] = v
	}
	s.mu.Unlock()

	s.notify(collection, id)
	return nil
}

// AppendDocument inserts a new document under a generated id.
func (s *Store) AppendDocument(_ context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	s.nextDoc++
	id := fmt.Sprintf("doc-%d", s.nextDoc)
	doc := s.ensureDoc(collection, id)
	for k, v := range fields {
		doc[k] = v
	}
	s.mu.Unlock()

	s.notify(collection, id)
	return id, nil
}

// IncrementField atomically adds delta, creating the document and field at
// zero when absent.
func (s *Store) IncrementField(_ context.Context, collection, id, field string, delta int64) error {
	s.mu.Lock()
	doc := s.ensureDoc(collection, id)
	switch v := doc[field].(type) {
	case nil:
		doc[field] = delta
	case int64:
		doc[field] = v + delta
	case int:
		doc[field] = int64(v) + delta
	case float64:
		doc[field] = v + float64(delta)
	default:
		s.mu.Unlock()
		return fmt.Errorf("increment %s/%s.%s: field is not numeric", collection, id, field)
	}
	s.mu.Unlock()

	s.notify(collection, id)
	return nil
}

// SubscribeCollection registers fn and immediately delivers the current
// snapshot. The returned cancel func unregisters the subscriber.
func (s *Store) SubscribeCollection(collection string, fn store.CollectionFunc) (store.CancelFunc, error) {
	s.mu.Lock()
	if _, ok := s.collSubs[collection]; !ok {
		s.collSubs[collection] = make(map[int64]store.CollectionFunc)
	}
	s.nextSub++
	id := s.nextSub
	s.collSubs[collection][id] = fn
	s.mu.Unlock()

	fn(s.snapshot(collection))

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.collSubs[collection]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.collSubs, collection)
			}
		}
	}, nil
}

// SubscribeDocument registers fn for one document and immediately delivers
// its current state (or absence).
func (s *Store) SubscribeDocument(collection, id string, fn store.DocumentFunc) (store.CancelFunc, error) {
	key := docKey(collection, id)

	s.mu.Lock()
	if _, ok := s.docSubs[key]; !ok {
		s.docSubs[key] = make(map[int64]store.DocumentFunc)
	}
	s.nextSub++
	subID := s.nextSub
	s.docSubs[key][subID] = fn
	s.mu.Unlock()

	doc, ok, _ := s.GetDocument(context.Background(), collection, id)
	fn(doc, ok)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.docSubs[key]; ok {
			delete(subs, subID)
			if len(subs) == 0 {
				delete(s.docSubs, key)
			}
		}
	}, nil
}

// ensureDoc returns the mutable field map for collection/id, creating it
// (and its order slot) when absent. Caller must hold mu.
func (s *Store) ensureDoc(collection, id string) map[string]any {
	if _, ok := s.docs[collection]; !ok {
		s.docs[collection] = make(map[string]map[string]any)
	}
	if _, ok := s.docs[collection][id]; !ok {
		s.docs[collection][id] = make(map[string]any)
		s.order[collection] = append(s.order[collection], id)
	}
	return s.docs[collection][id]
}

// snapshot returns the collection's documents in insertion order with
// copied field maps, so subscribers can never observe later mutations.
func (s *Store) snapshot(collection string) []store.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[collection]
	out := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.Document{ID: id, Fields: copyFields(s.docs[collection][id])})
	}
	return out
}

// notify delivers the current state to every subscriber of the collection
// and of the changed document. Callbacks run outside the store lock so a
// subscriber may issue store calls of its own.
func (s *Store) notify(collection, id string) {
	s.mu.RLock()
	collFns := make([]store.CollectionFunc, 0, len(s.collSubs[collection]))
	for _, fn := range s.collSubs[collection] {
		collFns = append(collFns, fn)
	}
	docFns := make([]store.DocumentFunc, 0, len(s.docSubs[docKey(collection, id)]))
	for _, fn := range s.docSubs[docKey(collection, id)] {
		docFns = append(docFns, fn)
	}
	s.mu.RUnlock()

	if len(collFns) > 0 {
		snap := s.snapshot(collection)
		for _, fn := range collFns {
			fn(snap)
		}
	}
	if len(docFns) > 0 {
		doc, ok, _ := s.GetDocument(context.Background(), collection, id)
		for _, fn := range docFns {
			fn(doc, ok)
		}
	}
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
