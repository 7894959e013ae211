package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/studykit/groupsync/internal/normalize"
	"github.com/studykit/groupsync/internal/store"
)

// NameResolver resolves a uid to its human display name. Profiles are
// sparse: until a username is observed, the raw uid stands in. Both the
// stream manager (stamping outgoing messages) and the leaderboard join use
// it.
type NameResolver struct {
	store store.Client
	log   *zap.Logger
}

// NewNameResolver returns a resolver over the users collection.
func NewNameResolver(st store.Client, log *zap.Logger) *NameResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &NameResolver{store: st, log: log}
}

// Resolve point-reads the profile and falls back to the uid when the
// profile or its username is missing or unreadable. A failed lookup is a
// fallback, never an error: one unreachable profile must not abort a whole
// leaderboard derivation.
func (r *NameResolver) Resolve(ctx context.Context, uid string) string {
	doc, ok, err := r.store.GetDocument(ctx, collUsers, uid)
	if err != nil {
		r.log.Warn("profile lookup failed, falling back to uid",
			zap.String("uid", uid), zap.Error(err))
		return uid
	}
	if !ok {
		return uid
	}
	if name, ok := doc.String("username"); ok {
		if n := normalize.Username(name); n != "" {
			return n
		}
	}
	return uid
}

// Watch delivers the display name now and again whenever the profile
// document changes.
func (r *NameResolver) Watch(uid string, fn func(displayName string)) (store.CancelFunc, error) {
	return r.store.SubscribeDocument(collUsers, uid, func(doc store.Document, ok bool) {
		if ok {
			if name, found := doc.String("username"); found {
				if n := normalize.Username(name); n != "" {
					fn(n)
					return
				}
			}
		}
		fn(uid)
	})
}

// SetUsername merge-writes only the username field of the profile, leaving
// any sibling profile fields intact.
func (r *NameResolver) SetUsername(ctx context.Context, uid, name string) error {
	n := normalize.Username(name)
	if n == "" {
		return ErrEmptyUsername
	}
	if err := r.store.PutMerge(ctx, collUsers, uid, map[string]any{"username": n}); err != nil {
		return fmt.Errorf("set username: %w", err)
	}
	return nil
}
