package kvstore

import (
	"context"
	"errors"
	"strings"

	logx "notifyd/pkg/logx"
)

// Store is the minimal string key/value persistence API used by the engine.
//
// Values are opaque strings; callers that need structure encode JSON. A nil
// Store is never returned by Open for an enabled driver, but callers must
// tolerate disabled storage (Open returning nil, nil).
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open initializes the configured durable store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown kvstore driver: " + driver)
	}
}
