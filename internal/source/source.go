// Package source feeds notifications from a JSON-lines stream into the
// pipeline. One object per line:
//
//	{"type":"window-changed","package":"com.example","class":"MainActivity","at":"2026-01-02T15:04:05.123Z"}
//
// "at" is optional (RFC 3339); "ts_ms" (unix milliseconds) is accepted as an
// alternative. Lines without either are stamped on arrival.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"uiroute/internal/event"
	"uiroute/pkg/logx"
)

const maxLine = 1 << 20

// Sink receives classified-ready notifications. *router.Router satisfies it.
type Sink interface {
	Submit(raw event.Raw) event.Verdict
}

type Config struct {
	Kind string // "stdin" (default), "file" or "none"
	Path string
}

// Open returns the configured stream, or nil for kind "none".
func Open(cfg Config) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "stdin":
		return os.Stdin, nil
	case "file":
		return os.Open(cfg.Path)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

type line struct {
	Type    string     `json:"type"`
	Package string     `json:"package"`
	Class   string     `json:"class"`
	At      *time.Time `json:"at,omitempty"`
	TSMS    int64      `json:"ts_ms,omitempty"`
}

// Stats counts what the reader saw. Verdicts is indexed by event.Verdict.
type Stats struct {
	Lines     uint64
	Malformed uint64
	Verdicts  [event.Refused + 1]uint64
}

type Reader struct {
	sink Sink
	log  logx.Logger
	now  func() time.Time

	lines     atomic.Uint64
	malformed atomic.Uint64
	verdicts  [event.Refused + 1]atomic.Uint64
}

func NewReader(sink Sink, log logx.Logger) *Reader {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reader{sink: sink, log: log.With(logx.String("comp", "source")), now: time.Now}
}

func (r *Reader) Stats() Stats {
	st := Stats{Lines: r.lines.Load(), Malformed: r.malformed.Load()}
	for i := range r.verdicts {
		st.Verdicts[i] = r.verdicts[i].Load()
	}
	return st
}

// Run submits every line of in until EOF or ctx is done. If in is an
// io.Closer it is closed when ctx ends so a blocked read returns. EOF is a
// clean exit.
func (r *Reader) Run(ctx context.Context, in io.Reader) error {
	if c, ok := in.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	for sc.Scan() {
		if ctx.Err() != nil {
			break
		}
		r.handle(sc.Bytes())
	}
	st := r.Stats()
	r.log.Info("source finished",
		logx.Uint64("lines", st.Lines),
		logx.Uint64("malformed", st.Malformed),
		logx.Uint64("admitted", st.Verdicts[event.Enqueued]),
	)
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("read source: %w", err)
	}
	return nil
}

func (r *Reader) handle(b []byte) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == '#' {
		return
	}
	n := r.lines.Add(1)

	var l line
	if err := json.Unmarshal(b, &l); err != nil {
		if r.malformed.Add(1) <= 5 {
			r.log.Warn("malformed source line", logx.Uint64("line", n), logx.Err(err))
		}
		return
	}
	// Unknown kinds go through as TypeUnknown; admission rejects and counts them.
	t, _ := event.ParseType(l.Type)
	raw := event.Raw{Type: t, Package: l.Package, Class: l.Class}
	switch {
	case l.At != nil:
		raw.At = *l.At
	case l.TSMS > 0:
		raw.At = time.UnixMilli(l.TSMS)
	default:
		raw.At = r.now()
	}
	v := r.sink.Submit(raw)
	if int(v) < len(r.verdicts) {
		r.verdicts[v].Add(1)
	}
	r.log.Trace("submitted", logx.String("type", t.String()), logx.String("pkg", l.Package), logx.Stringer("verdict", v))
}
