package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Consumers ConsumersConfig `json:"consumers"`

	Storage  *StorageConfig  `json:"storage,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Debug    DebugConfig     `json:"debug,omitempty"`
	Report   ReportConfig    `json:"report,omitempty"`
	Source   SourceConfig    `json:"source,omitempty"`
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

// PipelineConfig controls the router.
//
// Defaults (when fields are omitted/zero):
//   - queue_size: 100
//   - ordering: "fifo" ("priority" dequeues by tier, then arrival)
//   - consumer_timeout: "100ms"
//   - history_size: 100
//   - summary_interval: "5s"
//   - burst: 10 per "1s"
//   - debounce.default: "1s"
type PipelineConfig struct {
	QueueSize       int    `json:"queue_size,omitempty"`
	Ordering        string `json:"ordering,omitempty"`
	ConsumerTimeout string `json:"consumer_timeout,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
	SummaryInterval string `json:"summary_interval,omitempty"`

	Burst     BurstConfig     `json:"burst"`
	Debounce  DebounceConfig  `json:"debounce"`
	Admission AdmissionConfig `json:"admission"`

	// RequiredConsumers lists targets (refresh, command, tracking) that must
	// have a consumer for the pipeline to start.
	RequiredConsumers []string `json:"required_consumers,omitempty"`
}

type BurstConfig struct {
	// Threshold is a pointer so an explicit 0 (disabled) differs from omitted.
	Threshold *int   `json:"threshold,omitempty"`
	Window    string `json:"window,omitempty"`
}

type DebounceConfig struct {
	Default string `json:"default,omitempty"`
	// PerType maps an event type name (e.g. "scrolled") to an interval.
	PerType map[string]string `json:"per_type,omitempty"`
}

type AdmissionConfig struct {
	// Allow holds exact packages or prefixes ending in "*". Empty allows all.
	Allow         []string `json:"allow,omitempty"`
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

type ConsumersConfig struct {
	Refresh  *WebhookConfig `json:"refresh,omitempty"`
	Command  *WebhookConfig `json:"command,omitempty"`
	Tracking TrackingConfig `json:"tracking"`
}

// WebhookConfig posts notifications for one target to an HTTP endpoint.
type WebhookConfig struct {
	URL           string `json:"url"`
	Token         string `json:"token,omitempty"` // do not log
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type TrackingConfig struct {
	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
	// Persist writes tracker state to storage when storage is configured.
	Persist bool `json:"persist,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./uiroute_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof, metrics,
// health, history).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// ReportConfig schedules periodic metrics summaries in the log.
//
// Schedule accepts cron ("*/5 * * * *"), descriptors ("@every 1m",
// "@hourly"), durations ("10m") or HH:MM intervals ("01:30").
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // default "@every 1m"
	Timezone string `json:"timezone,omitempty"`
}

// SourceConfig selects where raw notifications come from.
//
//	kind: "stdin" (default) | "file" | "none"
type SourceConfig struct {
	Kind string `json:"kind,omitempty"`
	Path string `json:"path,omitempty"`
}
