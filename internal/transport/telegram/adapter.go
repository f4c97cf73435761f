// Package telegram is the owner-only chat front end for the admin
// controller. Every text message from an owner is run as one admin command
// and the output sent back.
package telegram

import (
	"context"
	"errors"
	"html"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"uiroute/internal/admin"
	rtsup "uiroute/internal/runtime/supervisor"
	"uiroute/pkg/logx"
)

type Config struct {
	Token        string
	OwnerUserIDs []int64
	PollTimeout  time.Duration
}

// Controller is the admin surface the adapter drives.
type Controller interface {
	Execute(ctx context.Context, actor, source, line string) (string, error)
	Commands() []admin.Command
}

const (
	commandTimeout = 10 * time.Second
	// Telegram rejects messages above 4096 characters; leave room for the
	// <pre> wrapper.
	chunkLimit = 3500
)

type Adapter struct {
	cfg  Config
	ctrl Controller
	log  logx.Logger
	bot  *tele.Bot

	mu  sync.Mutex
	sup *rtsup.Supervisor

	handled atomic.Uint64
	denied  atomic.Uint64
}

func New(cfg Config, ctrl Controller, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(cfg.OwnerUserIDs) == 0 {
		return nil, errors.New("telegram owner_user_ids is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return newAdapter(cfg, ctrl, log, b), nil
}

func newAdapter(cfg Config, ctrl Controller, log logx.Logger, b *tele.Bot) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, ctrl: ctrl, log: log.With(logx.String("comp", "telegram")), bot: b}
	b.Use(a.ownerOnly)
	b.Handle(tele.OnText, a.onText)
	return a
}

func (a *Adapter) authorized(id int64) bool {
	return id != 0 && slices.Contains(a.cfg.OwnerUserIDs, id)
}

func (a *Adapter) ownerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		var id int64
		if s := c.Sender(); s != nil {
			id = s.ID
		}
		if !a.authorized(id) {
			// Strangers get no reply.
			a.denied.Add(1)
			a.log.Debug("update from non-owner ignored", logx.Int64("from", id))
			return nil
		}
		return next(c)
	}
}

func (a *Adapter) onText(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	a.handled.Add(1)
	for _, chunk := range a.reply(ctx, c.Sender().ID, c.Text()) {
		if err := c.Send(chunk, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}); err != nil {
			a.log.Warn("telegram send failed", logx.Err(err))
			return err
		}
	}
	return nil
}

// reply runs one command line and renders the result as HTML chunks.
func (a *Adapter) reply(ctx context.Context, from int64, text string) []string {
	out, err := a.ctrl.Execute(ctx, strconv.FormatInt(from, 10), "telegram", text)
	if err != nil {
		return []string{"<b>error:</b> " + html.EscapeString(err.Error())}
	}
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return []string{"ok"}
	}
	parts := splitMessage(out, chunkLimit)
	for i, p := range parts {
		parts[i] = "<pre>" + html.EscapeString(p) + "</pre>"
	}
	return parts
}

// Start installs the bot menu (best effort) and starts long polling under a
// supervisor. Start is idempotent.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	if err := a.setMenu(); err != nil {
		a.log.Warn("telegram menu update failed", logx.Err(err))
	}

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup.Go0("telegram.stop", func(ctx context.Context) {
		<-ctx.Done()
		a.bot.Stop()
	})
	a.sup.Go0("telegram.poll", func(context.Context) {
		a.log.Info("polling started", logx.Int("owners", len(a.cfg.OwnerUserIDs)))
		a.bot.Start() // blocks until Stop
	})
	return nil
}

func (a *Adapter) setMenu() error {
	cmds := a.ctrl.Commands()
	menu := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		menu = append(menu, tele.Command{Text: c.Name, Description: c.Description})
	}
	return a.bot.SetCommands(menu)
}

// Stop never blocks shutdown for long on a pending getUpdates long poll.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("handled", a.handled.Load()), logx.Uint64("denied", a.denied.Load()))
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
	}
	return nil
}

// splitMessage cuts text into pieces of at most limit runes, preferring line
// boundaries.
func splitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = chunkLimit
	}
	var out []string
	for text != "" {
		r := []rune(text)
		if len(r) <= limit {
			out = append(out, text)
			break
		}
		cut := len(string(r[:limit]))
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl >= cut/3 {
			cut = nl + 1
		}
		out = append(out, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	return out
}
