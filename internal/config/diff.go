package config

import (
	"reflect"
	"sort"
	"strings"

	logx "notifyd/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Mode) != strings.TrimSpace(newCfg.Mode) {
		changed = append(changed, "mode")
		attrs = append(attrs, logx.String("mode", strings.TrimSpace(newCfg.Mode)))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// State (kv persistence). Nil means disabled.
	var oState, nState StateConfig
	if oldCfg.State != nil {
		oState = *oldCfg.State
	}
	if newCfg.State != nil {
		nState = *newCfg.State
	}
	if oState != nState || (oldCfg.State == nil) != (newCfg.State == nil) {
		changed = append(changed, "state")
		attrs = append(attrs,
			logx.String("state.driver", strings.TrimSpace(nState.Driver)),
			logx.Bool("state.path_set", strings.TrimSpace(nState.Path) != ""),
		)
	}

	if oldCfg.DocStore != newCfg.DocStore {
		changed = append(changed, "docstore")
		attrs = append(attrs,
			logx.String("docstore.driver", strings.TrimSpace(newCfg.DocStore.Driver)),
			logx.Bool("docstore.path_set", strings.TrimSpace(newCfg.DocStore.Path) != ""),
		)
	}

	// Delivery. Nil means runtime defaults; compare against them so omitting
	// the section versus writing the defaults out reads as no change.
	// Never log the telegram token; surface only whether one is set.
	defD := &DeliveryConfig{
		Enabled:       true,
		Workers:       2,
		QueueSize:     512,
		RatePerSec:    3,
		RetryMax:      3,
		RetryBase:     "500ms",
		RetryMaxDelay: "10s",
		HistorySize:   200,
	}
	oldD := oldCfg.Delivery
	newD := newCfg.Delivery
	if oldD == nil {
		oldD = defD
	}
	if newD == nil {
		newD = defD
	}
	if !reflect.DeepEqual(*oldD, *newD) {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Bool("delivery.enabled", newD.Enabled),
			logx.Int("delivery.workers", newD.Workers),
			logx.Int("delivery.queue_size", newD.QueueSize),
			logx.Int("delivery.rate_per_sec", newD.RatePerSec),
			logx.Int("delivery.retry_max", newD.RetryMax),
			logx.Bool("delivery.telegram_set", newD.Telegram != nil && strings.TrimSpace(newD.Telegram.Token) != ""),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.resubscribe", newCfg.Engine.Resubscribe),
			logx.String("engine.resubscribe_delay", strings.TrimSpace(newCfg.Engine.ResubscribeDelay)),
			logx.String("engine.flush_schedule", strings.TrimSpace(newCfg.Engine.FlushSchedule)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
