package telegram

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetmail/internal/delivery"
	"sheetmail/internal/dispatch"
	"sheetmail/internal/eventbus"
	"sheetmail/internal/source"
	"sheetmail/pkg/logx"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		cmd  string
		args []string
		ok   bool
	}{
		{text: "/groups", cmd: "groups", args: []string{}, ok: true},
		{text: "/Send@sheetmail_bot sales intro.txt", cmd: "send", args: []string{"sales", "intro.txt"}, ok: true},
		{text: `/send sales "spring promo.txt"`, cmd: "send", args: []string{"sales", "spring promo.txt"}, ok: true},
		{text: "hello", ok: false},
		{text: "/", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, args, ok := parseCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.cmd, cmd)
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func newTestBot(t *testing.T) (*Bot, chan struct{}) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte("Emails,Websites Url,Password,Name\nbob@acme.org,www.acme.org,pw,Jane & Co\n"), 0o600))

	release := make(chan struct{})
	client := delivery.ClientFunc(func(ctx context.Context, _ delivery.Envelope) error {
		<-release
		return nil
	})
	reg := dispatch.NewRegistry(client, dispatch.Options{Interval: time.Millisecond}, logx.Nop())
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		_ = reg.Shutdown(context.Background())
	})
	lib := source.NewLibrary()
	require.NoError(t, lib.Add("", dispatch.Template{Name: "intro", RawText: "Hi Sub\nbody"}))
	l := source.NewLauncher(source.NewCatalog(path, source.Options{SenderDomain: "example.com"}, logx.Nop()), lib, reg)
	return newBot(Config{OwnerUserIDs: []int64{42}}, Deps{Launcher: l}, logx.Nop()), release
}

func TestExecuteOwnerOnly(t *testing.T) {
	t.Parallel()
	b, _ := newTestBot(t)
	ctx := context.Background()

	assert.Contains(t, b.execute(ctx, 7, "/help"), "/send")
	assert.Equal(t, "unauthorized", b.execute(ctx, 7, "/groups"))
	assert.Empty(t, b.execute(ctx, 42, "just chatting"))
	assert.Contains(t, b.execute(ctx, 42, "/bogus"), "unknown command")
}

func TestExecuteRunCommands(t *testing.T) {
	t.Parallel()
	b, release := newTestBot(t)
	ctx := context.Background()

	groups := b.execute(ctx, 42, "/groups")
	assert.Contains(t, groups, "<code>sales</code>")
	assert.Contains(t, groups, "Jane &amp; Co")

	assert.Contains(t, b.execute(ctx, 42, "/templates sales"), "intro")
	assert.Contains(t, b.execute(ctx, 42, "/send sales"), "usage")
	assert.Contains(t, b.execute(ctx, 42, "/send sales nope"), "template not found")

	assert.Contains(t, b.execute(ctx, 42, "/send sales intro"), "1 recipients in 1 batches")
	assert.Contains(t, b.execute(ctx, 42, "/send sales intro"), "already")
	assert.Contains(t, b.execute(ctx, 42, "/status sales"), "running")

	assert.Contains(t, b.execute(ctx, 42, "/cancel sales"), "cancel requested")
	close(release)
	reg := b.deps.Launcher.Registry()
	require.Eventually(t, func() bool { return !reg.IsRunning("sales") }, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, b.execute(ctx, 42, "/cancel sales"), "not running")
	assert.Contains(t, b.execute(ctx, 42, "/history"), "disabled")
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendText(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func TestNotifierRateLimits(t *testing.T) {
	t.Parallel()
	send := &fakeSender{}
	n := NewNotifier(send, 1, 2, logx.Nop())

	st := dispatch.Status{GroupID: "sales", State: dispatch.StateFailed, Reason: dispatch.ReasonAuth, Err: delivery.ErrAuth}
	for range 3 {
		n.handle(context.Background(), eventbus.Event{Type: eventbus.RunFinished, GroupID: "sales", Status: &st})
	}
	n.handle(context.Background(), eventbus.Event{Type: eventbus.RunOutcome, GroupID: "sales"})

	require.Len(t, send.sent, 2)
	assert.Contains(t, send.sent[0], "reason: auth")
	assert.Equal(t, uint64(1), n.Dropped())
}

func TestFormatStatus(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	st := dispatch.Status{
		GroupID:    "sales",
		Template:   "intro",
		State:      dispatch.StateCompleted,
		Progress:   dispatch.Progress{Total: 3, Processed: 3, Sent: 2, Rejected: 1, Batch: 1, Batches: 1},
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Minute),
	}
	got := formatStatus(st)
	assert.Contains(t, got, "progress: 3/3 (sent 2, rejected 1)")
	assert.Contains(t, got, "took: 2m0s")
	assert.Equal(t, "<b>ops</b>: idle", formatStatus(dispatch.Status{GroupID: "ops", State: dispatch.StateIdle}))
}
