package config

import (
	"fmt"
	"strings"
)

type Config struct {
	// Mode selects the operating role: "customer" (default) or "operator".
	Mode string `json:"mode,omitempty"`

	Logging LoggingConfig `json:"logging"`

	// State controls the small key/value state store (seen sets, consent
	// flags). Nil means disabled: state lives in memory only and dedup does
	// not survive restarts.
	State *StateConfig `json:"state,omitempty"`

	DocStore DocStoreConfig `json:"docstore"`

	// Delivery controls the async notification pipeline. If the whole
	// section is omitted, the pipeline defaults to enabled with runtime
	// defaults.
	Delivery *DeliveryConfig `json:"delivery,omitempty"`

	Engine EngineConfig `json:"engine"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StateConfig controls the key/value state store.
//
// Example:
//
//	"state": { "driver": "file", "path": "./notifyd_state" }
type StateConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DocStoreConfig controls the document store the engine subscribes to.
// Driver is "sqlite" or "memory" ("memory" is for tests and dry runs).
type DocStoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DeliveryConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type DeliveryConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	HistorySize   int    `json:"history_size"`

	// Telegram configures the background sink. Nil means notifications go
	// to the foreground (console) sink only.
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// EngineConfig controls subscription lifecycle policy.
type EngineConfig struct {
	// Resubscribe re-attaches a live watch after a mid-stream failure.
	Resubscribe bool `json:"resubscribe"`
	// ResubscribeDelay is a Go duration string; default "5s".
	ResubscribeDelay string `json:"resubscribe_delay,omitempty"`
	// FlushSchedule is a cron spec for the periodic seen-state flush;
	// empty means the default "@every 5m", "none" disables the job.
	FlushSchedule string `json:"flush_schedule,omitempty"`
}

// Validate rejects configs that cannot produce a working process. Durations
// are checked here so a hot reload cannot commit an unparseable value.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.Mode) {
	case "", "customer", "operator":
	default:
		return fmt.Errorf("mode: unknown mode %q", c.Mode)
	}

	switch strings.TrimSpace(c.DocStore.Driver) {
	case "sqlite":
		if strings.TrimSpace(c.DocStore.Path) == "" {
			return fmt.Errorf("docstore: sqlite driver requires path")
		}
	case "memory":
	default:
		return fmt.Errorf("docstore: unknown driver %q", c.DocStore.Driver)
	}
	if _, err := ParseDurationField("docstore.busy_timeout", c.DocStore.BusyTimeout); err != nil {
		return err
	}

	if s := c.State; s != nil {
		switch strings.TrimSpace(s.Driver) {
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("state: driver %q requires path", s.Driver)
			}
		case "":
		default:
			return fmt.Errorf("state: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("state.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if d := c.Delivery; d != nil {
		if _, err := ParseDurationField("delivery.retry_base", d.RetryBase); err != nil {
			return err
		}
		if _, err := ParseDurationField("delivery.retry_max_delay", d.RetryMaxDelay); err != nil {
			return err
		}
		if t := d.Telegram; t != nil {
			if strings.TrimSpace(t.Token) == "" {
				return fmt.Errorf("delivery.telegram: token is required")
			}
			if t.ChatID == 0 {
				return fmt.Errorf("delivery.telegram: chat_id is required")
			}
			if _, err := ParseDurationField("delivery.telegram.poll_timeout", t.PollTimeout); err != nil {
				return err
			}
		}
	}

	if _, err := ParseDurationField("engine.resubscribe_delay", c.Engine.ResubscribeDelay); err != nil {
		return err
	}
	return nil
}
