package engine

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/studykit/groupsync/internal/session"
	"github.com/studykit/groupsync/internal/store"
	"github.com/studykit/groupsync/internal/store/memstore"
)

// signedIn returns a session with the given identity installed.
func signedIn(uid string) *session.Context {
	c := session.NewContext()
	c.SetUser(&session.User{UID: uid})
	return c
}

// sessionWithoutUser returns a signed-out session.
func sessionWithoutUser() *session.Context {
	return session.NewContext()
}

// countingStore wraps a backend and counts mutating calls, so tests can
// assert that locally-rejected operations issue zero remote writes.
type countingStore struct {
	store.Client
	writes atomic.Int64

	// failWrites makes every mutation fail with a transport error.
	failWrites bool
}

var errStoreDown = errors.New("store unavailable")

func newCountingStore() *countingStore {
	return &countingStore{Client: memstore.New()}
}

func (c *countingStore) PutMerge(ctx context.Context, collection, id string, fields map[string]any) error {
	if c.failWrites {
		return errStoreDown
	}
	c.writes.Add(1)
	return c.Client.PutMerge(ctx, collection, id, fields)
}

func (c *countingStore) AppendDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if c.failWrites {
		return "", errStoreDown
	}
	c.writes.Add(1)
	return c.Client.AppendDocument(ctx, collection, fields)
}

func (c *countingStore) IncrementField(ctx context.Context, collection, id, field string, delta int64) error {
	if c.failWrites {
		return errStoreDown
	}
	c.writes.Add(1)
	return c.Client.IncrementField(ctx, collection, id, field, delta)
}
