package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed            = errors.New("docstore closed")
	ErrUnknownCollection = errors.New("unknown collection")
)

// Document is a versioned record in a named collection. The engine reads
// documents and writes only through the broadcast publisher; Version increases
// on every write to the same id so watchers can tell modifications apart from
// redeliveries.
type Document struct {
	ID      string
	Version int64
	Fields  map[string]any
}

// Str returns a string field, or "" when absent or not a string.
func (d Document) Str(key string) string {
	v, _ := d.Fields[key].(string)
	return v
}

// Time returns a time field. RFC3339 strings (the persisted form) are parsed;
// absent or unparseable values return the zero time.
func (d Document) Time(key string) time.Time {
	switch v := d.Fields[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

func (d Document) clone() Document {
	cp := d
	if d.Fields != nil {
		cp.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			cp.Fields[k] = v
		}
	}
	return cp
}

// Filter is an equality/membership constraint on one field.
type Filter struct {
	Field string
	Value any
}

// Query selects, orders, and bounds documents of one collection.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int // 0 means unbounded
}

// ChangeKind annotates one document-level change between two consecutive
// snapshots of a live query.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Snapshot is a full live-query result set at one point in time, annotated
// with the changes against the previous snapshot of the same subscription.
// The first snapshot after subscribing has Initial set and lists every
// current document as added.
type Snapshot struct {
	Docs    []Document
	Changes []Change
	Initial bool
}

// SnapshotFunc receives snapshots in delivery order. A non-nil error means
// the subscription failed mid-stream; no further calls follow it.
type SnapshotFunc func(snap Snapshot, err error)

// Subscription is a handle on a live query. Stop is idempotent; once it
// returns, the callback will not run again.
type Subscription interface {
	Stop()
}

// Collection exposes one-shot queries, live subscriptions, and the single
// write path the engine uses.
type Collection interface {
	Name() string
	Query(ctx context.Context, q Query) ([]Document, error)
	Put(ctx context.Context, doc Document) error
	Subscribe(q Query, fn SnapshotFunc) (Subscription, error)
}

// Store hands out collections by name.
type Store interface {
	Collection(name string) Collection
	Close() error
}
