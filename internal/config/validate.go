package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks everything that can be checked without touching the
// outside world. Schedules are validated by the report package.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.Pipeline.Resolve(); err != nil {
		errs = append(errs, err)
	}
	for name, wh := range map[string]*WebhookConfig{"refresh": c.Consumers.Refresh, "command": c.Consumers.Command} {
		if wh == nil {
			continue
		}
		if err := wh.validate("consumers." + name); err != nil {
			errs = append(errs, err)
		}
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if tg := c.Telegram; tg != nil && strings.TrimSpace(tg.Token) != "" {
		if len(tg.OwnerUserIDs) == 0 {
			errs = append(errs, errors.New("telegram.owner_user_ids is required when a token is set"))
		}
		if _, err := ParseDurationField("telegram.poll_timeout", tg.PollTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Debug.Enabled {
		if err := c.Debug.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Source.Kind)) {
	case "", "stdin", "none":
	case "file":
		if strings.TrimSpace(c.Source.Path) == "" {
			errs = append(errs, errors.New("source.path is required for kind file"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind: unknown kind %q", c.Source.Kind))
	}
	return errors.Join(errs...)
}

func (w *WebhookConfig) validate(path string) error {
	u, err := url.Parse(strings.TrimSpace(w.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s.url: want an http(s) URL, got %q", path, w.URL)
	}
	for field, raw := range map[string]string{"timeout": w.Timeout, "retry_base": w.RetryBase, "retry_max_delay": w.RetryMaxDelay} {
		if _, err := ParseDurationField(path+"."+field, raw); err != nil {
			return err
		}
	}
	if w.RetryMax < 0 || w.RatePerSec < 0 || w.Workers < 0 || w.QueueSize < 0 {
		return fmt.Errorf("%s: counts must be >= 0", path)
	}
	return nil
}

func (d *DebugConfig) validate() error {
	addr := strings.TrimSpace(d.Addr)
	if addr == "" {
		addr = DefaultDebugAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("debug.addr: %w", err)
	}
	if !isLoopbackHost(host) && strings.TrimSpace(d.Token) == "" && !d.AllowInsecure {
		return fmt.Errorf("debug.addr %q is not loopback: set debug.token or debug.allow_insecure", addr)
	}
	for field, raw := range map[string]string{"read_timeout": d.ReadTimeout, "write_timeout": d.WriteTimeout, "idle_timeout": d.IdleTimeout} {
		if _, err := ParseDurationField("debug."+field, raw); err != nil {
			return err
		}
	}
	return nil
}

const DefaultDebugAddr = "127.0.0.1:6060"

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// TrackingEnabled reports whether the built-in tracker should be registered.
func (c *Config) TrackingEnabled() bool {
	return c.Consumers.Tracking.Enabled == nil || *c.Consumers.Tracking.Enabled
}
