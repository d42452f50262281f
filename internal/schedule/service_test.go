package schedule

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetmail/internal/dispatch"
	"sheetmail/pkg/logx"
)

func TestApplyIsAllOrNothing(t *testing.T) {
	t.Parallel()
	s := New(func(context.Context, Entry) error { return nil }, logx.Nop())

	require.NoError(t, s.Apply([]Entry{{Name: "morning", Group: "sales", Template: "intro", Spec: "09:00"}}))
	err := s.Apply([]Entry{
		{Name: "ok", Group: "sales", Template: "intro", Spec: "1h"},
		{Name: "bad", Group: "ops", Template: "intro", Spec: "whenever"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bad"`)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "morning", snap[0].Name)
	assert.Equal(t, "daily", snap[0].Kind)
}

func TestValidateRejectsDuplicatesAndBlankNames(t *testing.T) {
	t.Parallel()
	err := Validate([]Entry{
		{Name: "a", Spec: "1h"},
		{Name: "a", Spec: "2h"},
		{Name: " ", Spec: "1h"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
	assert.Contains(t, err.Error(), "name required")
}

func TestServiceFiresAndSkipsBusyGroups(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		fired []string
	)
	s := New(func(_ context.Context, e Entry) error {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, e.Group)
		if len(fired) > 1 {
			return fmt.Errorf("group %q: %w", e.Group, dispatch.ErrAlreadyRunning)
		}
		return nil
	}, logx.Nop(), WithLocation(time.UTC))
	require.NoError(t, s.Apply([]Entry{{Name: "tick", Group: "sales", Template: "intro", Spec: "@every 1s"}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	t.Cleanup(func() { s.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap) == 1 && snap[0].Skipped >= 1
	}, time.Second, 20*time.Millisecond)
	snap := s.Snapshot()
	assert.Empty(t, snap[0].LastErr)
	assert.False(t, snap[0].LastFire.IsZero())
}

func TestApplyWhileRunningKeepsHistory(t *testing.T) {
	t.Parallel()
	s := New(func(context.Context, Entry) error { return fmt.Errorf("boom") }, logx.Nop())
	e := Entry{Name: "tick", Group: "sales", Template: "intro", Spec: "@every 1s"}
	require.NoError(t, s.Apply([]Entry{e}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	t.Cleanup(func() { s.Stop(context.Background()) })

	require.Eventually(t, func() bool { return s.Snapshot()[0].LastErr == "boom" }, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Apply([]Entry{e, {Name: "other", Group: "ops", Template: "intro", Spec: "10m"}}))
	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "other", snap[0].Name)
	assert.Equal(t, "boom", snap[1].LastErr)
	assert.Equal(t, 10*time.Minute, time.Until(snap[0].Next).Round(time.Minute))
}
