package app

import (
	"fmt"
	"strings"
	"time"

	"uiroute/internal/config"
	"uiroute/internal/consumer"
	"uiroute/internal/event"
	"uiroute/internal/observability/debug"
	"uiroute/internal/report"
	"uiroute/internal/source"
	"uiroute/internal/storage"
	"uiroute/internal/transport/telegram"
	"uiroute/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapWebhookConfig(name string, t event.Target, wc *config.WebhookConfig) (consumer.WebhookConfig, error) {
	path := "consumers." + name
	out := consumer.WebhookConfig{
		Name:       "webhook:" + name,
		URL:        strings.TrimSpace(wc.URL),
		Token:      strings.TrimSpace(wc.Token),
		Target:     t,
		Workers:    wc.Workers,
		QueueSize:  wc.QueueSize,
		RatePerSec: wc.RatePerSec,
		RetryMax:   wc.RetryMax,
	}
	var err error
	if out.Timeout, err = config.ParseDurationField(path+".timeout", wc.Timeout); err != nil {
		return out, err
	}
	if out.RetryBase, err = config.ParseDurationField(path+".retry_base", wc.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField(path+".retry_max_delay", wc.RetryMaxDelay); err != nil {
		return out, err
	}
	return out, nil
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	d := cfg.Debug
	out := debug.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Prefix:               strings.TrimSpace(d.Prefix),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second); err != nil {
		return out, err
	}
	// /debug/pprof/profile streams for 30s by default.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 60*time.Second); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 2*time.Minute); err != nil {
		return out, err
	}
	return out, nil
}

func mapReportConfig(cfg *config.Config) report.Config {
	return report.Config{
		Enabled:  cfg.Report.Enabled,
		Schedule: cfg.Report.Schedule,
		Timezone: cfg.Report.Timezone,
	}
}

// mapTelegramConfig reports false when no token is configured.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tg := cfg.Telegram
	if tg == nil || strings.TrimSpace(tg.Token) == "" {
		return telegram.Config{}, false, nil
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tg.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: strings.TrimSpace(tg.Token), OwnerUserIDs: tg.OwnerUserIDs, PollTimeout: poll}, true, nil
}

func mapSourceConfig(cfg *config.Config) source.Config {
	return source.Config{Kind: cfg.Source.Kind, Path: cfg.Source.Path}
}

// validate runs the checks Config.Validate cannot do on its own. It is the
// reload validator, so a bad file never reaches the running services.
func validate(cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	return report.Validate(mapReportConfig(cfg))
}
