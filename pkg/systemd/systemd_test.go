package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetmail/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) send(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestNotifierStates(t *testing.T) {
	rec := &recorder{}
	n := New(logx.Nop())
	n.send = rec.send

	n.Ready()
	n.Status("idle")
	n.Stopping()
	assert.Equal(t, []string{daemon.SdNotifyReady, "STATUS=idle", daemon.SdNotifyStopping}, rec.states)
}

func TestWatchdogDisabled(t *testing.T) {
	rec := &recorder{}
	n := New(logx.Nop())
	n.send = rec.send
	n.watchdog = func() (time.Duration, error) { return 0, errors.New("no socket") }

	stop := n.Watchdog(context.Background())
	stop()
	assert.Empty(t, rec.states)
}

func TestWatchdogPings(t *testing.T) {
	rec := &recorder{}
	n := New(logx.Nop())
	n.send = rec.send
	n.watchdog = func() (time.Duration, error) { return 20 * time.Millisecond, nil }

	stop := n.Watchdog(context.Background())
	require.Eventually(t, func() bool { return rec.count(daemon.SdNotifyWatchdog) >= 2 }, time.Second, 5*time.Millisecond)
	stop()
}
