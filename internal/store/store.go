// Package store defines the narrow capability contract the sync engine
// requires from the remote document store: point reads, merge-writes,
// append-only inserts, atomic increments, and push-based change
// subscriptions. Concrete backends live in the subpackages.
package store

import (
	"context"
	"strconv"
	"time"
)

// Document is a single keyed record in a named collection. Fields holds the
// record's values; the concrete types a backend produces are normalized to
// Go natives (string, int64, float64, bool, time.Time, []any) where the
// backend can tell, strings otherwise.
type Document struct {
	ID     string
	Fields map[string]any
}

// CancelFunc releases a subscription. Safe to call more than once.
type CancelFunc func()

// CollectionFunc receives the full snapshot of a collection on every change
// notification, in insertion order. At-least-once delivery: consumers must
// tolerate duplicate snapshots.
type CollectionFunc func(docs []Document)

// DocumentFunc receives a single document, or ok=false when the document
// does not (yet) exist.
type DocumentFunc func(doc Document, ok bool)

// Client is the store capability surface. All mutating and reading calls are
// asynchronous from the caller's perspective and may fail with a transport
// error; subscriptions push notifications until cancelled.
type Client interface {
	// GetDocument point-reads one document. Absence is reported via the
	// boolean, not as an error.
	GetDocument(ctx context.Context, collection, id string) (Document, bool, error)

	// PutMerge upserts only the provided fields into the document, leaving
	// sibling fields untouched. Safe under concurrent multi-client writers
	// editing disjoint fields.
	PutMerge(ctx context.Context, collection, id string, fields map[string]any) error

	// AppendDocument inserts a new document with a store-assigned id.
	AppendDocument(ctx context.Context, collection string, fields map[string]any) (string, error)

	// IncrementField atomically adds delta to a numeric field, creating the
	// document and the field at zero when absent.
	IncrementField(ctx context.Context, collection, id, field string, delta int64) error

	// SubscribeCollection registers fn for full-snapshot notifications of
	// the collection. The current snapshot is delivered immediately.
	SubscribeCollection(collection string, fn CollectionFunc) (CancelFunc, error)

	// SubscribeDocument registers fn for doc-or-absent notifications of a
	// single document. The current state is delivered immediately.
	SubscribeDocument(collection, id string, fn DocumentFunc) (CancelFunc, error)
}

// String reads a string field.
func (d Document) String(key string) (string, bool) {
	s, ok := d.Fields[key].(string)
	return s, ok
}

// Bool reads a boolean field. Backends that store scalars as text (Redis)
// report booleans as "true"/"false" strings, so both forms are accepted.
func (d Document) Bool(key string) (bool, bool) {
	switch v := d.Fields[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}

// Number reads a numeric field as float64, accepting the integer and float
// widths backends produce plus numeric strings.
func (d Document) Number(key string) (float64, bool) {
	switch v := d.Fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Int64 reads an integer field, truncating floats.
func (d Document) Int64(key string) (int64, bool) {
	f, ok := d.Number(key)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Time reads a timestamp field. Backends without a native time type store
// RFC 3339 strings.
func (d Document) Time(key string) (time.Time, bool) {
	switch v := d.Fields[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// Strings reads a field holding a sequence of strings.
func (d Document) Strings(key string) ([]string, bool) {
	switch v := d.Fields[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
