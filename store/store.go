// Package store defines the document store contract the caches are built on.
//
// The contract is deliberately small: point lookups, bulk upserts and a
// resumable change stream per collection. mongostore implements it on top
// of MongoDB; memstore implements it in memory for tests and local runs.
package store

import (
	"context"
	"strings"
)

// Document is a decoded store document with plain Go values:
// string, bool, int32, int64, float64, time.Time, []any, map[string]any and nil.
type Document map[string]any

// ID returns the document's _id field
func (d Document) ID() any {
	return d[IDField]
}

// Clone returns a deep copy of d
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return CloneValue(map[string]any(d)).(map[string]any)
}

// IDField is the primary key field of every document
const IDField = "_id"

// Filter selects documents by equality on every listed field
type Filter map[string]any

// ByID returns a filter matching a single document id
func ByID(id any) Filter {
	return Filter{IDField: id}
}

// Upsert replaces the document matched by Filter, inserting it when missing
type Upsert struct {
	Filter   Filter
	Document Document
}

// WriteResult summarises a bulk upsert
type WriteResult struct {
	Matched  int64
	Modified int64
	Upserted int64
}

// Op is the kind of change carried by a ChangeEvent
type Op string

const (
	OpInsert  Op = "insert"
	OpUpdate  Op = "update"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
	// OpInvalidate means every cached view of the collection must be dropped,
	// e.g. after the collection itself was dropped or renamed.
	OpInvalidate Op = "invalidate"
)

// ResumeToken is an opaque change stream position
type ResumeToken []byte

// ChangeEvent is one mutation delivered by a change stream.
// Delivery is at-least-once, so consumers must apply events idempotently.
type ChangeEvent struct {
	Collection string
	Op         Op
	DocumentID any
	// Updated holds the fields set by an update, keyed by dotted path
	Updated Document
	// Removed lists the dotted paths unset by an update
	Removed []string
	// FullDocument is the post-image for insert and replace events, and for
	// update events when the store can look it up
	FullDocument Document
	Token        ResumeToken
}

// WatchOptions configures a change stream subscription
type WatchOptions struct {
	// ResumeAfter continues the stream after the given token; nil starts at the current time
	ResumeAfter ResumeToken
}

// Stream is an open change stream cursor
type Stream interface {
	// Next blocks until the next event arrives, ctx is done or the stream fails
	Next(ctx context.Context) (ChangeEvent, error)
	// ResumeToken returns the position after the last event returned by Next
	ResumeToken() ResumeToken
	// Close releases the server-side cursor
	Close(ctx context.Context) error
}

// Client is the document store used by the caches
type Client interface {
	// Find returns the first document matching filter, or ErrNotFound
	Find(ctx context.Context, collection string, filter Filter) (Document, error)
	// BulkUpsert applies all upserts to collection in order
	BulkUpsert(ctx context.Context, collection string, upserts []Upsert) (WriteResult, error)
	// Watch opens a change stream on collection
	Watch(ctx context.Context, collection string, opts WatchOptions) (Stream, error)
	// Close releases the client's connections
	Close(ctx context.Context) error
}

// SplitPath splits a dotted path into its segments
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// CloneValue deep-copies maps and slices inside a document value
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = CloneValue(val)
		}
		return out
	case Document:
		return Document(CloneValue(map[string]any(x)).(map[string]any))
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = CloneValue(val)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
