package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetmail/internal/config"
	"sheetmail/internal/delivery"
	"sheetmail/internal/dispatch"
	"sheetmail/internal/storage"
)

type recordingClient struct {
	mu   sync.Mutex
	sent []delivery.Envelope
}

func (c *recordingClient) Deliver(_ context.Context, env delivery.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if env.To == "locked@acme.org" {
		return &delivery.Error{Kind: delivery.KindPermanent, Stage: "rcpt", Code: 550}
	}
	c.sent = append(c.sent, env)
	return nil
}

func writeFixture(t *testing.T, extra string) (cfgPath string, dir string) {
	t.Helper()
	dir = t.TempDir()
	csv := "Emails,Websites Url,Password,Name\nbob@acme.org,www.acme.org,pw,Jane\nlocked@acme.org,www.locked.org,,\nnot-an-address,www.x.org,,\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.csv"), []byte(csv), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "intro.txt"), []byte("Hello from Sub\n<p>{sender_name}</p>"), 0o600))

	body := fmt.Sprintf(`
logging:
  level: error
dispatch:
  interval: 10ms
workbook:
  path: %s
  sender_domain: example.com
templates:
  dir: %s
storage:
  driver: file
  path: %s
%s`, filepath.Join(dir, "sales.csv"), filepath.Join(dir, "templates"), filepath.Join(dir, "history"), extra)
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dir
}

func TestAppLaunchRecordsHistory(t *testing.T) {
	cfgPath, _ := writeFixture(t, "")
	client := &recordingClient{}
	a, err := New(cfgPath, WithClient(client))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopCommandEnd) })

	h, err := a.Launcher().Launch(context.Background(), "sales", "intro.txt")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := h.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, dispatch.StateCompleted, st.State)
	assert.Equal(t, 3, st.Progress.Processed)
	assert.Equal(t, 1, st.Progress.Sent)
	assert.Equal(t, 2, st.Progress.Rejected)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "Hello from Acme", client.sent[0].Subject)
	assert.Equal(t, "sales@example.com", client.sent[0].From)
	assert.Equal(t, "pw", client.sent[0].Credential)

	runs, err := a.Store().ListRuns(context.Background(), storage.Filter{GroupID: "sales", WithOutcomes: true})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, h.RunID, runs[0].RunID)
	require.Len(t, runs[0].Outcomes, 3)
	assert.Equal(t, dispatch.CausePermanent, runs[0].Outcomes[1].Cause)
	assert.Equal(t, dispatch.CauseInvalidAddress, runs[0].Outcomes[2].Cause)
}

func TestAppRejectsBadSchedule(t *testing.T) {
	cfgPath, _ := writeFixture(t, `schedules:
  - name: nightly
    group: sales
    template: intro.txt
    spec: "whenever"
`)
	_, err := New(cfgPath, WithClient(&recordingClient{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nightly")
}

func TestApplyConfigUpdatesDispatchOptions(t *testing.T) {
	cfgPath, _ := writeFixture(t, "")
	a, err := New(cfgPath, WithClient(&recordingClient{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopCommandEnd) })

	prev := a.cfgm.Get()
	next := *prev
	next.Dispatch = config.DispatchConfig{Interval: "2m", BatchSize: 10}
	next.Schedules = []config.ScheduleEntry{{Name: "morning", Group: "sales", Template: "intro.txt", Spec: "09:00"}}
	a.applyConfig(context.Background(), prev, &next)

	opts := a.Registry().Options()
	assert.Equal(t, 2*time.Minute, opts.Interval)
	assert.Equal(t, 10, opts.BatchSize)
	snap := a.sched.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "daily", snap[0].Kind)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{name: "disabled", in: config.StorageConfig{}},
		{name: "none", in: config.StorageConfig{Driver: "none"}},
		{name: "file", in: config.StorageConfig{Driver: "file", Path: "./h"}, enabled: true},
		{name: "sqlite", in: config.StorageConfig{Driver: "sqlite", Path: "./h.db", BusyTimeout: "2s"}, enabled: true},
		{name: "sqlite without path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "mongo", Path: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, enabled)
			if tt.name == "sqlite" {
				assert.Equal(t, 2*time.Second, sc.BusyTimeout)
			}
		})
	}
}
