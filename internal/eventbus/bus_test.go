package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetmail/internal/dispatch"
)

func TestPublishFansOutAndFilters(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4, nil)
	defer unsubAll()
	sales, unsubSales := b.Subscribe(4, ForGroup("sales"))
	defer unsubSales()

	b.Publish(Event{Type: RunStarted, GroupID: "sales", RunID: "r1"})
	b.Publish(Event{Type: RunStarted, GroupID: "ops", RunID: "r2"})

	require.Len(t, all, 2)
	require.Len(t, sales, 1)
	e := <-sales
	assert.Equal(t, "r1", e.RunID)
	assert.False(t, e.Time.IsZero())
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1, nil)

	b.Publish(Event{Type: RunOutcome, GroupID: "sales"})
	b.Publish(Event{Type: RunOutcome, GroupID: "sales"})
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(1), b.Dropped())

	unsub()
	unsub()
	b.Publish(Event{Type: RunOutcome, GroupID: "sales"})
	_, open := <-ch
	assert.True(t, open, "buffered event still readable")
	_, open = <-ch
	assert.False(t, open)
}

func TestHooksPublishLifecycle(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(8, nil)
	defer unsub()

	h := b.Hooks()
	h.OnStart(dispatch.Status{GroupID: "sales", RunID: "r1", State: dispatch.StateRunning})
	h.OnOutcome("sales", "r1", dispatch.Outcome{Index: 0, Address: "a@b.co", Kind: dispatch.OutcomeSent})
	h.OnFinish(dispatch.Status{GroupID: "sales", RunID: "r1", State: dispatch.StateCompleted})

	var types []Type
	for range 3 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []Type{RunStarted, RunOutcome, RunFinished}, types)
}
