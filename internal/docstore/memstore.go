package docstore

import (
	"context"
	"errors"
	"sync"
)

// NewMem returns an in-memory Store with working live subscriptions. It backs
// the default daemon configuration and the test suites of the watcher stack.
func NewMem() *MemStore {
	return &MemStore{colls: map[string]*memCollection{}}
}

type MemStore struct {
	mu     sync.Mutex
	colls  map[string]*memCollection
	closed bool
}

func (s *MemStore) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[name]
	if !ok {
		c = &memCollection{name: name, live: &liveSet{}}
		s.colls[name] = c
	}
	return c
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	colls := make([]*memCollection, 0, len(s.colls))
	for _, c := range s.colls {
		colls = append(colls, c)
	}
	s.mu.Unlock()

	for _, c := range colls {
		c.live.fail(ErrClosed)
	}
	return nil
}

// FailCollection terminates every live subscription on the named collection
// with err, simulating a mid-stream store failure. Test hook.
func (s *MemStore) FailCollection(name string, err error) {
	if err == nil {
		err = errors.New("subscription failed")
	}
	s.mu.Lock()
	c := s.colls[name]
	s.mu.Unlock()
	if c != nil {
		c.live.fail(err)
	}
}

type memCollection struct {
	name string

	dataMu sync.Mutex
	docs   []Document

	live *liveSet
}

func (c *memCollection) Name() string { return c.name }

func (c *memCollection) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.dataMu.Lock()
	docs := c.snapshotLocked()
	c.dataMu.Unlock()
	return evalQuery(docs, q), nil
}

func (c *memCollection) Put(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" {
		return errors.New("document id is required")
	}

	c.dataMu.Lock()
	replaced := false
	for i := range c.docs {
		if c.docs[i].ID == doc.ID {
			if doc.Version <= c.docs[i].Version {
				doc.Version = c.docs[i].Version + 1
			}
			c.docs[i] = doc.clone()
			replaced = true
			break
		}
	}
	if !replaced {
		if doc.Version == 0 {
			doc.Version = 1
		}
		c.docs = append(c.docs, doc.clone())
	}
	docs := c.snapshotLocked()
	c.dataMu.Unlock()

	c.live.broadcast(docs)
	return nil
}

func (c *memCollection) Subscribe(q Query, fn SnapshotFunc) (Subscription, error) {
	if fn == nil {
		return nil, errors.New("snapshot callback is required")
	}
	c.dataMu.Lock()
	docs := c.snapshotLocked()
	c.dataMu.Unlock()
	return c.live.subscribe(q, fn, docs), nil
}

func (c *memCollection) snapshotLocked() []Document {
	out := make([]Document, len(c.docs))
	for i, d := range c.docs {
		out[i] = d.clone()
	}
	return out
}
