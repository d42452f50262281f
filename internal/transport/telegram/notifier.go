package telegram

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"sheetmail/internal/eventbus"
	"sheetmail/pkg/logx"
)

type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Notifier posts run completions to one chat. Bursts beyond the per-minute
// budget are dropped and counted rather than queued.
type Notifier struct {
	log     logx.Logger
	send    Sender
	chat    int64
	limiter *rate.Limiter
	dropped atomic.Uint64
}

func NewNotifier(send Sender, chat int64, perMinute int, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Notifier{
		log:     log,
		send:    send,
		chat:    chat,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (n *Notifier) Dropped() uint64 { return n.dropped.Load() }

// Run consumes events until ctx ends or events is closed.
func (n *Notifier) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			n.handle(ctx, e)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, e eventbus.Event) {
	if e.Type != eventbus.RunFinished || e.Status == nil {
		return
	}
	if !n.limiter.Allow() {
		n.dropped.Add(1)
		n.log.Warn("run notification dropped (rate limited)", logx.Group(e.GroupID), logx.Uint64("dropped", n.dropped.Load()))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := n.send.SendText(sctx, n.chat, formatFinished(*e.Status)); err != nil {
		n.log.Warn("run notification failed", logx.Group(e.GroupID), logx.Err(err))
	}
}
