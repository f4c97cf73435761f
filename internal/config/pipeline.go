package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"uiroute/internal/event"
	"uiroute/internal/filter"
	"uiroute/internal/queue"
)

const (
	DefaultConsumerTimeout = 100 * time.Millisecond
	DefaultSummaryInterval = 5 * time.Second
)

// Pipeline is the resolved, typed form of PipelineConfig.
type Pipeline struct {
	QueueSize       int
	Ordering        queue.Ordering
	ConsumerTimeout time.Duration
	HistorySize     int
	SummaryInterval time.Duration
	Policy          filter.Policy
	Required        []event.Target
}

// Resolve parses durations and names and applies defaults.
func (p PipelineConfig) Resolve() (Pipeline, error) {
	out := Pipeline{QueueSize: p.QueueSize, HistorySize: p.HistorySize}
	if p.QueueSize < 0 {
		return out, fmt.Errorf("pipeline.queue_size must be >= 0")
	}
	if p.HistorySize < 0 {
		return out, fmt.Errorf("pipeline.history_size must be >= 0")
	}

	var err error
	if out.Ordering, err = queue.ParseOrdering(p.Ordering); err != nil {
		return out, fmt.Errorf("pipeline.ordering: %w", err)
	}
	if out.ConsumerTimeout, err = ParseDurationOrDefault("pipeline.consumer_timeout", p.ConsumerTimeout, DefaultConsumerTimeout); err != nil {
		return out, err
	}
	if out.SummaryInterval, err = ParseDurationOrDefault("pipeline.summary_interval", p.SummaryInterval, DefaultSummaryInterval); err != nil {
		return out, err
	}
	if out.Policy, err = p.Policy(); err != nil {
		return out, err
	}
	for _, name := range p.RequiredConsumers {
		t, ok := event.ParseTarget(name)
		if !ok {
			return out, fmt.Errorf("pipeline.required_consumers: unknown target %q", name)
		}
		out.Required = append(out.Required, t)
	}
	return out, nil
}

// Policy builds the hot-reloadable part of the pipeline config.
func (p PipelineConfig) Policy() (filter.Policy, error) {
	pol := filter.DefaultPolicy()

	// An explicit "0s" disables debouncing; only an omitted value gets the default.
	def := filter.DefaultDebounce
	if strings.TrimSpace(p.Debounce.Default) != "" {
		d, err := ParseDurationField("pipeline.debounce.default", p.Debounce.Default)
		if err != nil {
			return pol, err
		}
		def = d
	}
	for i := range pol.Debounce {
		pol.Debounce[i] = def
	}
	for name, raw := range p.Debounce.PerType {
		t, ok := event.ParseType(name)
		if !ok {
			return pol, fmt.Errorf("pipeline.debounce.per_type: unknown event type %q", name)
		}
		d, err := ParseDurationField("pipeline.debounce.per_type."+name, raw)
		if err != nil {
			return pol, err
		}
		pol.Debounce[t] = d
	}

	if p.Burst.Threshold != nil {
		if *p.Burst.Threshold < 0 {
			return pol, errors.New("pipeline.burst.threshold must be >= 0")
		}
		pol.BurstThreshold = *p.Burst.Threshold
	}
	var err error
	if pol.BurstWindow, err = ParseDurationOrDefault("pipeline.burst.window", p.Burst.Window, filter.DefaultBurstWindow); err != nil {
		return pol, err
	}

	for _, raw := range p.Admission.Allow {
		pat, ok := filter.NormalizePattern(raw)
		if !ok {
			return pol, errors.New("pipeline.admission.allow: empty pattern")
		}
		pol.Allow = append(pol.Allow, pat)
	}
	for _, name := range p.Admission.DisabledTypes {
		t, ok := event.ParseType(name)
		if !ok {
			return pol, fmt.Errorf("pipeline.admission.disabled_types: unknown event type %q", name)
		}
		pol.Disabled[t] = true
	}
	return pol, nil
}
