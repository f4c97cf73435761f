package config

import (
	"reflect"
	"sort"
	"strings"

	"uiroute/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, safe attrs for logging
// (never tokens), and the changed settings that only take effect after a
// restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	op, np := oldCfg.Pipeline, newCfg.Pipeline
	if !reflect.DeepEqual(op, np) {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.Int("pipeline.allow_count", len(np.Admission.Allow)),
			logx.Int("pipeline.disabled_types", len(np.Admission.DisabledTypes)),
			logx.String("pipeline.debounce_default", np.Debounce.Default),
			logx.String("pipeline.burst_window", np.Burst.Window),
		)
		if op.QueueSize != np.QueueSize {
			restart = append(restart, "pipeline.queue_size")
		}
		if !strings.EqualFold(strings.TrimSpace(op.Ordering), strings.TrimSpace(np.Ordering)) {
			restart = append(restart, "pipeline.ordering")
		}
		if op.HistorySize != np.HistorySize {
			restart = append(restart, "pipeline.history_size")
		}
		if op.ConsumerTimeout != np.ConsumerTimeout {
			restart = append(restart, "pipeline.consumer_timeout")
		}
		if !reflect.DeepEqual(op.RequiredConsumers, np.RequiredConsumers) {
			restart = append(restart, "pipeline.required_consumers")
		}
	}

	if !reflect.DeepEqual(oldCfg.Consumers, newCfg.Consumers) {
		changed = append(changed, "consumers")
		attrs = append(attrs,
			logx.Bool("consumers.refresh_webhook", newCfg.Consumers.Refresh != nil),
			logx.Bool("consumers.command_webhook", newCfg.Consumers.Command != nil),
			logx.Bool("consumers.tracking", newCfg.TrackingEnabled()),
		)
		restart = append(restart, "consumers")
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		var driver string
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
		restart = append(restart, "storage")
	}

	// Telegram (never log token)
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		var owners int
		var tokenSet bool
		if tg := newCfg.Telegram; tg != nil {
			owners = len(tg.OwnerUserIDs)
			tokenSet = strings.TrimSpace(tg.Token) != ""
		}
		attrs = append(attrs, logx.Int("telegram.owner_count", owners), logx.Bool("telegram.token_set", tokenSet))
		restart = append(restart, "telegram")
	}

	// Debug server (never log token). Applied live.
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.allow_insecure", newCfg.Debug.AllowInsecure),
		)
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.String("report.schedule", newCfg.Report.Schedule),
		)
	}

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		restart = append(restart, "source")
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
