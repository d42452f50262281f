// Package telegram is an owner-only Telegram front end for dispatch: list
// groups and templates, start, inspect and cancel runs, and receive a message
// when a run finishes.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"sheetmail/internal/dispatch"
	"sheetmail/internal/eventbus"
	"sheetmail/internal/source"
	"sheetmail/internal/storage"
	"sheetmail/pkg/logx"
	"sheetmail/pkg/tgui"
)

type Config struct {
	Token           string
	OwnerUserIDs    []int64
	NotifyChat      int64
	PollTimeout     time.Duration
	NotifyPerMinute int
}

// Deps are the components the bot drives. Store and Bus may be nil.
type Deps struct {
	Launcher *source.Launcher
	Store    storage.Store
	Bus      *eventbus.Bus
}

type Bot struct {
	cfg    Config
	log    logx.Logger
	deps   Deps
	owners map[int64]struct{}
	bot    *tele.Bot
}

func New(cfg Config, deps Deps, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	b := newBot(cfg, deps, log)
	b.bot = tb
	return b, nil
}

func newBot(cfg Config, deps Deps, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	owners := make(map[int64]struct{}, len(cfg.OwnerUserIDs))
	for _, id := range cfg.OwnerUserIDs {
		owners[id] = struct{}{}
	}
	return &Bot{cfg: cfg, log: log, deps: deps, owners: owners}
}

// Run polls Telegram and forwards run completions to the notify chat until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	if len(b.owners) == 0 {
		b.log.Warn("telegram has no owner_user_ids; every command will be refused")
	}
	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		reply := b.execute(ctx, m.Sender.ID, m.Text)
		if reply == "" {
			return nil
		}
		for _, chunk := range tgui.Split(reply, 0) {
			if err := c.Send(chunk, sendOpts()); err != nil {
				return err
			}
		}
		return nil
	})

	if b.cfg.NotifyChat != 0 && b.deps.Bus != nil {
		events, unsub := b.deps.Bus.Subscribe(64, func(e eventbus.Event) bool { return e.Type == eventbus.RunFinished })
		defer unsub()
		n := NewNotifier(b, b.cfg.NotifyChat, b.cfg.NotifyPerMinute, b.log)
		go n.Run(ctx, events)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.log.Info("telegram polling started", logx.Int("owners", len(b.owners)))
		b.bot.Start()
	}()

	<-ctx.Done()
	b.bot.Stop()
	select {
	case <-done:
		b.log.Info("telegram polling stopped")
	case <-time.After(2 * time.Second):
		b.log.Warn("telegram stop grace elapsed; continuing shutdown")
	}
	return nil
}

// SendText delivers an HTML message to chatID, split into several when long.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	to := &tele.Chat{ID: chatID}
	for _, chunk := range tgui.Split(text, 0) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.bot.Send(to, chunk, sendOpts()); err != nil {
			return err
		}
	}
	return nil
}

func sendOpts() *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
}

const helpText = `<b>sheetmail</b>
/groups – list workbook groups
/templates [group] – list templates
/send &lt;group&gt; &lt;template&gt; – start a run
/status &lt;group&gt; – show run progress
/cancel &lt;group&gt; – cancel the active run
/history [group] [limit] – recent finished runs`

// execute runs one command for user from and returns the reply ("" for no reply).
func (b *Bot) execute(ctx context.Context, from int64, text string) string {
	cmd, args, ok := parseCommand(text)
	if !ok {
		return ""
	}
	switch cmd {
	case "start", "help":
		return helpText
	}
	if _, owner := b.owners[from]; !owner {
		b.log.Warn("telegram command refused", logx.Int64("from", from), logx.String("cmd", cmd))
		return "unauthorized"
	}

	start := time.Now()
	reply := b.command(ctx, cmd, args)
	b.log.Debug("telegram command", logx.Int64("from", from), logx.String("cmd", cmd), logx.Duration("dur", time.Since(start)))
	return reply
}

func (b *Bot) command(ctx context.Context, cmd string, args []string) string {
	l := b.deps.Launcher
	switch cmd {
	case "groups":
		groups, err := l.Groups()
		if err != nil {
			return "error: " + esc(err.Error())
		}
		return formatGroups(groups)

	case "templates":
		group := ""
		if len(args) > 0 {
			group = args[0]
		}
		return formatTemplates(group, l.Library().List(group))

	case "send":
		if len(args) < 2 {
			return "usage: /send &lt;group&gt; &lt;template&gt;"
		}
		h, err := l.Launch(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return "cannot start: " + esc(err.Error())
		}
		st := h.Status()
		return fmt.Sprintf("started <code>%s</code>: %d recipients in %d batches", esc(h.GroupID), st.Progress.Total, st.Progress.Batches)

	case "status":
		if len(args) < 1 {
			return "usage: /status &lt;group&gt;"
		}
		return formatStatus(l.Registry().Status(args[0]))

	case "cancel":
		if len(args) < 1 {
			return "usage: /cancel &lt;group&gt;"
		}
		if err := l.Registry().Cancel(args[0]); err != nil {
			if errors.Is(err, dispatch.ErrNotRunning) {
				return esc(args[0]) + " is not running"
			}
			return "error: " + esc(err.Error())
		}
		return "cancel requested for " + esc(args[0])

	case "history":
		if b.deps.Store == nil {
			return "run history is disabled"
		}
		f := storage.Filter{Limit: 10}
		for _, a := range args {
			if n, err := strconv.Atoi(a); err == nil && n > 0 {
				f.Limit = n
				continue
			}
			f.GroupID = a
		}
		runs, err := b.deps.Store.ListRuns(ctx, f)
		if err != nil {
			return "error: " + esc(err.Error())
		}
		return formatHistory(runs)
	}
	return "unknown command. try /help"
}
