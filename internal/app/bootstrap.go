package app

import (
	"fmt"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/consent"
	"notifyd/internal/delivery"
	"notifyd/internal/docstore"
	"notifyd/internal/engine"
	"notifyd/internal/kvstore"
	"notifyd/internal/runtime/supervisor"
	logx "notifyd/pkg/logx"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

var SummarizeConfigChange = config.SummarizeConfigChange

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.New

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

// ---- Section mappings ----

func mapMode(cfg *Config) consent.Mode {
	return consent.ParseMode(cfg.Mode)
}

func mapLoggingConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStateConfig maps the optional kv state section. enabled=false means the
// durable store is off and seen/consent state does not survive restarts.
func mapStateConfig(cfg *Config) (kvstore.Config, bool, error) {
	if cfg == nil || cfg.State == nil {
		return kvstore.Config{}, false, nil
	}
	sc := cfg.State
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return kvstore.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return kvstore.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return kvstore.Config{}, false, fmt.Errorf("state.path is required when state.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("state.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return kvstore.Config{}, false, err
		}
		return kvstore.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return kvstore.Config{}, false, fmt.Errorf("unknown state.driver: %s", sc.Driver)
	}
}

func mapDocStoreConfig(cfg *Config) (docstore.SQLiteConfig, bool, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DocStore.Driver))
	switch driver {
	case "memory":
		return docstore.SQLiteConfig{}, false, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(cfg.DocStore.Path)
		if path == "" {
			return docstore.SQLiteConfig{}, false, fmt.Errorf("docstore.path is required when docstore.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("docstore.busy_timeout", cfg.DocStore.BusyTimeout, time.Second)
		if err != nil {
			return docstore.SQLiteConfig{}, false, err
		}
		return docstore.SQLiteConfig{Path: path, BusyTimeout: busy}, true, nil
	default:
		return docstore.SQLiteConfig{}, false, fmt.Errorf("unknown docstore.driver: %s", cfg.DocStore.Driver)
	}
}

// mapDeliveryConfig applies runtime defaults for an omitted section or
// omitted fields.
func mapDeliveryConfig(cfg *Config) (delivery.Config, error) {
	out := delivery.Config{
		Enabled:       true,
		Workers:       2,
		QueueSize:     512,
		RatePerSec:    3,
		RetryMax:      3,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 10 * time.Second,
		HistorySize:   200,
	}
	d := cfg.Delivery
	if d == nil {
		return out, nil
	}
	out.Enabled = d.Enabled
	if d.Workers > 0 {
		out.Workers = d.Workers
	}
	if d.QueueSize > 0 {
		out.QueueSize = d.QueueSize
	}
	if d.RatePerSec > 0 {
		out.RatePerSec = d.RatePerSec
	}
	if d.RetryMax > 0 {
		out.RetryMax = d.RetryMax
	}
	if d.HistorySize > 0 {
		out.HistorySize = d.HistorySize
	}
	var err error
	out.RetryBase, err = parseDurationOrDefault("delivery.retry_base", d.RetryBase, out.RetryBase)
	if err != nil {
		return delivery.Config{}, err
	}
	out.RetryMaxDelay, err = parseDurationOrDefault("delivery.retry_max_delay", d.RetryMaxDelay, out.RetryMaxDelay)
	if err != nil {
		return delivery.Config{}, err
	}
	return out, nil
}

func mapTelegramConfig(cfg *Config) (delivery.TelegramConfig, bool, error) {
	if cfg.Delivery == nil || cfg.Delivery.Telegram == nil {
		return delivery.TelegramConfig{}, false, nil
	}
	t := cfg.Delivery.Telegram
	if strings.TrimSpace(t.Token) == "" {
		return delivery.TelegramConfig{}, false, fmt.Errorf("delivery.telegram.token is required")
	}
	if t.ChatID == 0 {
		return delivery.TelegramConfig{}, false, fmt.Errorf("delivery.telegram.chat_id is required")
	}
	timeout, err := parseDurationOrDefault("delivery.telegram.poll_timeout", t.PollTimeout, 10*time.Second)
	if err != nil {
		return delivery.TelegramConfig{}, false, err
	}
	return delivery.TelegramConfig{Token: t.Token, ChatID: t.ChatID, Timeout: timeout}, true, nil
}

func mapEngineConfig(cfg *Config, mode consent.Mode) (engine.Config, error) {
	delay, err := parseDurationOrDefault("engine.resubscribe_delay", cfg.Engine.ResubscribeDelay, 5*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	schedule := strings.TrimSpace(cfg.Engine.FlushSchedule)
	switch schedule {
	case "":
		schedule = "@every 5m"
	case "none", "off":
		schedule = ""
	}
	return engine.Config{
		Mode:             mode,
		Resubscribe:      cfg.Engine.Resubscribe,
		ResubscribeDelay: delay,
		FlushSchedule:    schedule,
	}, nil
}
