// Package systemd speaks the sd_notify protocol for Type=notify units.
// Every call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"sheetmail/pkg/logx"
)

// Notifier sends readiness, stopping and watchdog states.
type Notifier struct {
	log  logx.Logger
	send func(state string) (bool, error)
	// watchdog reports the configured WatchdogSec, 0 when disabled.
	watchdog func() (time.Duration, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:      log,
		send:     func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) { n.notify("STATUS=" + s) }

func (n *Notifier) notify(state string) {
	if ok, err := n.send(state); err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// Watchdog pings systemd at half the configured WatchdogSec until ctx ends or
// the returned stop func is called.
func (n *Notifier) Watchdog(ctx context.Context) (stop func()) {
	interval, err := n.watchdog()
	if err != nil || interval <= 0 {
		return func() {}
	}
	wctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-t.C:
				n.notify(daemon.SdNotifyWatchdog)
			}
		}
	}()
	return cancel
}
