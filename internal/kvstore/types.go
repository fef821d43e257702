package kvstore

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("kvstore disabled")

// Config configures the durable key/value store.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", durable storage is disabled and every key
// behaves as absent.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
