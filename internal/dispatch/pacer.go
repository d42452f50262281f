package dispatch

import (
	"context"
	"time"
)

// pacer spaces attempt starts at least interval apart. It belongs to a single run.
type pacer struct {
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

func newPacer(interval time.Duration) *pacer {
	return &pacer{interval: interval, now: time.Now}
}

// wait blocks until the next attempt may start and returns that start time.
// The first call returns immediately. Cancellation of ctx wins over the timer.
func (p *pacer) wait(ctx context.Context) (time.Time, error) {
	if ctx.Err() != nil {
		return time.Time{}, context.Cause(ctx)
	}
	for {
		now := p.now()
		if p.next.IsZero() || !now.Before(p.next) {
			p.next = now.Add(p.interval)
			return now, nil
		}
		t := time.NewTimer(p.next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return time.Time{}, context.Cause(ctx)
		case <-t.C:
		}
	}
}
