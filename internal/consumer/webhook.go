package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"uiroute/internal/event"
	"uiroute/internal/runtime/supervisor"
	"uiroute/pkg/logx"
)

// ErrBacklogFull is returned by Webhook.Accept when its send queue is full.
var ErrBacklogFull = errors.New("webhook backlog full")

type WebhookConfig struct {
	Name   string
	URL    string
	Token  string // sent as a bearer token when set
	Target event.Target

	Workers    int
	QueueSize  int
	RatePerSec int
	Timeout    time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c *WebhookConfig) normalize() {
	if c.Name == "" {
		c.Name = "webhook:" + c.Target.String()
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
}

// Payload is the JSON body posted for one notification.
type Payload struct {
	Target  string    `json:"target"`
	Type    string    `json:"type"`
	Package string    `json:"package"`
	Class   string    `json:"class"`
	Tier    int       `json:"tier"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
}

// WebhookStats are best-effort counters.
type WebhookStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Backlog int    `json:"backlog"`
}

// Webhook forwards notifications to an HTTP endpoint.
//
// Accept only queues the payload, so dispatch never waits on the network.
// Workers drain the queue under a token bucket and retry failures with
// jittered exponential backoff.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	log    logx.Logger

	q       chan Payload
	limiter *rate.Limiter

	mu  sync.Mutex
	sup *supervisor.Supervisor

	sent, failed, dropped atomic.Uint64
}

func NewWebhook(cfg WebhookConfig, client *http.Client, log logx.Logger) (*Webhook, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("webhook url is required")
	}
	cfg.normalize()
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Webhook{
		cfg:    cfg,
		client: client,
		log:    log.With(logx.String("comp", "webhook"), logx.String("consumer", cfg.Name)),
		q:      make(chan Payload, cfg.QueueSize),
	}
	if cfg.RatePerSec > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return w, nil
}

func (w *Webhook) Name() string { return w.cfg.Name }

func (w *Webhook) Accept(_ context.Context, n event.Notification) error {
	p := Payload{
		Target:  w.cfg.Target.String(),
		Type:    n.Type.String(),
		Package: n.Package,
		Class:   n.Class,
		Tier:    int(n.Tier),
		Key:     n.Key,
		At:      n.At,
	}
	select {
	case w.q <- p:
		return nil
	default:
		w.dropped.Add(1)
		return ErrBacklogFull
	}
}

// Init starts the send workers.
func (w *Webhook) Init(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sup != nil {
		return nil
	}
	w.sup = supervisor.New(context.Background(), supervisor.WithLogger(w.log))
	for i := 0; i < w.cfg.Workers; i++ {
		w.sup.GoRestart(fmt.Sprintf("%s.worker.%d", w.cfg.Name, i), w.workerLoop,
			supervisor.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	}
	return nil
}

// Close stops the workers. Queued payloads are dropped.
func (w *Webhook) Close() error {
	w.mu.Lock()
	sup := w.sup
	w.sup = nil
	w.mu.Unlock()
	if sup == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()
	err := sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: workers did not stop: %w", w.cfg.Name, err)
	}
	return nil
}

func (w *Webhook) Stats() WebhookStats {
	return WebhookStats{
		Sent:    w.sent.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
		Backlog: len(w.q),
	}
}

func (w *Webhook) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-w.q:
			w.sendWithRetry(ctx, p)
		}
	}
}

func (w *Webhook) sendWithRetry(ctx context.Context, p Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		w.failed.Add(1)
		return
	}
	maxAttempts := 1 + max(w.cfg.RetryMax, 0)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}
		lastErr = w.post(ctx, body)
		if lastErr == nil {
			w.sent.Add(1)
			return
		}
		w.log.Debug("webhook post failed", logx.Err(lastErr), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(w.cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	w.failed.Add(1)
	w.log.Warn("webhook gave up", logx.Err(lastErr), logx.String("type", p.Type), logx.String("package", p.Package))
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg WebhookConfig, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
