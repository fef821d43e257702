package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "notifyd/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    version    INTEGER NOT NULL,
    fields     TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (collection, id)
);
`

type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// OpenSQLite opens a sqlite-backed Store. Documents are cached per collection
// and written through; live queries are evaluated in-process against the
// cache, so subscription semantics match the in-memory store exactly.
func OpenSQLite(cfg SQLiteConfig, log logx.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("docstore sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, log: log, colls: map[string]*sqliteCollection{}}, nil
}

type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	log    logx.Logger
	colls  map[string]*sqliteCollection
	closed bool
}

func (s *SQLiteStore) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[name]
	if !ok {
		c = &sqliteCollection{store: s, name: name, live: &liveSet{}}
		s.colls[name] = c
	}
	return c
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	colls := make([]*sqliteCollection, 0, len(s.colls))
	for _, c := range s.colls {
		colls = append(colls, c)
	}
	db := s.db
	s.mu.Unlock()

	for _, c := range colls {
		c.live.fail(ErrClosed)
	}
	return db.Close()
}

type sqliteCollection struct {
	store *SQLiteStore
	name  string

	dataMu sync.Mutex
	loaded bool
	docs   []Document

	live *liveSet
}

func (c *sqliteCollection) Name() string { return c.name }

func (c *sqliteCollection) Query(ctx context.Context, q Query) ([]Document, error) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}
	return evalQuery(c.snapshotLocked(), q), nil
}

func (c *sqliteCollection) Put(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}

	c.dataMu.Lock()
	if err := c.loadLocked(ctx); err != nil {
		c.dataMu.Unlock()
		return err
	}

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

	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		c.dataMu.Unlock()
		return err
	}
	_, err = c.store.db.ExecContext(ctx,
		`INSERT INTO documents(collection, id, version, fields, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(collection, id) DO UPDATE SET
		   version=excluded.version, fields=excluded.fields, updated_at=excluded.updated_at`,
		c.name, doc.ID, doc.Version, string(fields), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		c.dataMu.Unlock()
		return err
	}
	docs := c.snapshotLocked()
	c.dataMu.Unlock()

	c.live.broadcast(docs)
	return nil
}

func (c *sqliteCollection) Subscribe(q Query, fn SnapshotFunc) (Subscription, error) {
	if fn == nil {
		return nil, errors.New("snapshot callback is required")
	}
	c.dataMu.Lock()
	if err := c.loadLocked(context.Background()); err != nil {
		c.dataMu.Unlock()
		return nil, err
	}
	docs := c.snapshotLocked()
	c.dataMu.Unlock()
	return c.live.subscribe(q, fn, docs), nil
}

func (c *sqliteCollection) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT id, version, fields FROM documents WHERE collection = ?`, c.name)
	if err != nil {
		return err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id      string
			version int64
			raw     string
		)
		if err := rows.Scan(&id, &version, &raw); err != nil {
			return err
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			// A corrupt row degrades to an id-only document rather than
			// poisoning the whole collection.
			c.store.log.Warn("document fields corrupt", logx.String("collection", c.name), logx.String("id", id), logx.Err(err))
			fields = map[string]any{}
		}
		docs = append(docs, Document{ID: id, Version: version, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	c.docs = docs
	c.loaded = true
	return nil
}

func (c *sqliteCollection) snapshotLocked() []Document {
	out := make([]Document, len(c.docs))
	for i, d := range c.docs {
		out[i] = d.clone()
	}
	return out
}
