package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studykit/groupsync/internal/session"
	"github.com/studykit/groupsync/internal/store"
)

// StreamManager maintains the ordered chat log via a live subscription and
// exposes the send operation.
type StreamManager struct {
	store   store.Client
	session *session.Context
	names   *NameResolver
	log     *zap.Logger
}

// NewStreamManager wires a stream manager over the shared message
// collection.
func NewStreamManager(st store.Client, sess *session.Context, names *NameResolver, log *zap.Logger) *StreamManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamManager{store: st, session: sess, names: names, log: log}
}

// Subscribe establishes the live feed. Every notification re-sorts the
// entire known set by SentAt ascending and re-emits the full snapshot; the
// stable sort keeps arrival order for equal or pending timestamps. This is
// deliberately a full-snapshot model, not an incremental diff, so
// out-of-order delivery can never corrupt the ordering.
func (m *StreamManager) Subscribe(fn func(messages []Message)) (store.CancelFunc, error) {
	return m.store.SubscribeCollection(collMessages, func(docs []store.Document) {
		msgs := make([]Message, 0, len(docs))
		for _, d := range docs {
			msgs = append(msgs, decodeMessage(d))
		}
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		})
		fn(msgs)
	})
}

// Send validates and durably appends one message. Empty or whitespace-only
// text and signed-out senders are rejected locally with zero remote writes.
// There is no optimistic local echo: the subscription round-trip is
// authoritative, and a successful append reaches every subscriber (the
// sender included) within one notification.
func (m *StreamManager) Send(ctx context.Context, body MessageBody) error {
	user, ok := m.session.CurrentUser()
	if !ok {
		return ErrNotAuthenticated
	}
	if strings.TrimSpace(body.Text) == "" {
		return ErrEmptyMessage
	}

	fields := map[string]any{
		"sender":            user.UID,
		"senderDisplayName": m.names.Resolve(ctx, user.UID),
		"messageID":         uuid.NewString(),
		"message":           body.Text,
		"sentAt":            time.Now().UTC(),
	}
	if body.Kind == BodyTextWithImage && len(body.Image) > 0 {
		fields["image"] = base64.StdEncoding.EncodeToString(body.Image)
	}

	if _, err := m.store.AppendDocument(ctx, collMessages, fields); err != nil {
		// The caller keeps the typed body for retry; no local state changed.
		return fmt.Errorf("send message: %w", err)
	}
	m.log.Debug("message sent", zap.String("sender", user.UID))
	return nil
}
