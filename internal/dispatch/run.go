package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"sheetmail/internal/delivery"
	"sheetmail/pkg/logx"
)

var addressValidator = validator.New()

// run is one execution of dispatch for a (group, template) pair.
// Everything except the status snapshot is owned by the worker goroutine.
type run struct {
	id        string
	group     Group
	tpl       Template
	opts      Options
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	client delivery.Client
	log    logx.Logger
	hooks  []Hooks

	mu       sync.Mutex
	progress Progress
	outcomes []Outcome
	final    *Status
}

func batchCount(n, size int) int {
	if n == 0 {
		return 0
	}
	return (n + size - 1) / size
}

// snapshot returns the status as seen from outside the worker.
func (r *run) snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.final != nil {
		return cloneStatus(*r.final)
	}
	return Status{
		GroupID:   r.group.ID,
		RunID:     r.id,
		Template:  r.tpl.Name,
		State:     StateRunning,
		Progress:  r.progress,
		Outcomes:  append([]Outcome(nil), r.outcomes...),
		StartedAt: r.startedAt,
	}
}

func cloneStatus(st Status) Status {
	st.Outcomes = append([]Outcome(nil), st.Outcomes...)
	if st.Fatal != nil {
		f := *st.Fatal
		st.Fatal = &f
	}
	return st
}

func (r *run) setBatch(b int) {
	r.mu.Lock()
	r.progress.Batch = b
	r.mu.Unlock()
}

func (r *run) record(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.progress.Processed++
	switch o.Kind {
	case OutcomeSent:
		r.progress.Sent++
	case OutcomeRejected:
		r.progress.Rejected++
	}
	r.mu.Unlock()

	r.notify(o)
}

func (r *run) notify(o Outcome) {
	for _, h := range r.hooks {
		if h.OnOutcome != nil {
			r.guard("outcome", func() { h.OnOutcome(r.group.ID, r.id, o) })
		}
	}
}

// guard runs a hook, logging instead of propagating its panic.
func (r *run) guard(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in dispatch hook", logx.String("hook", name), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}

// terminal builds the final status from the recorded outcomes.
func (r *run) terminal(state State, reason Reason, err error, fatal *Outcome) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		GroupID:    r.group.ID,
		RunID:      r.id,
		Template:   r.tpl.Name,
		State:      state,
		Progress:   r.progress,
		Outcomes:   append([]Outcome(nil), r.outcomes...),
		Reason:     reason,
		Fatal:      fatal,
		Err:        err,
		StartedAt:  r.startedAt,
		FinishedAt: time.Now(),
	}
}

func (r *run) cancelled() Status {
	cause := context.Cause(r.ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		cause = ErrCancelled
	}
	return r.terminal(StateFailed, ReasonCancelled, cause, nil)
}

// drive delivers to every recipient in input order, one batch after another,
// with attempt starts spaced by the pacing interval.
func (r *run) drive() Status {
	recipients := r.group.Recipients
	size := r.opts.BatchSize
	batches := batchCount(len(recipients), size)
	pace := newPacer(r.opts.Interval)
	// An in-flight delivery is never interrupted by cancellation.
	sendCtx := context.WithoutCancel(r.ctx)

	for b := 0; b < batches; b++ {
		if r.ctx.Err() != nil {
			return r.cancelled()
		}
		lo := b * size
		hi := min(lo+size, len(recipients))
		r.setBatch(b + 1)
		r.log.Debug("batch started", logx.Int("batch", b+1), logx.Int("batches", batches), logx.Int("size", hi-lo))

		for i := lo; i < hi; i++ {
			if r.ctx.Err() != nil {
				return r.cancelled()
			}
			rec := recipients[i]
			out := Outcome{Index: i, Batch: b + 1, Address: rec.Address}

			if err := checkAddress(rec.Address); err != nil {
				out.Kind, out.Cause, out.Reason = OutcomeRejected, CauseInvalidAddress, err.Error()
				r.log.Warn("recipient rejected", logx.Int("index", i), logx.Address("to", rec.Address), logx.String("cause", string(out.Cause)))
				r.record(out)
				continue
			}
			msg, err := Render(r.tpl, r.group, rec)
			if err != nil {
				out.Kind, out.Cause, out.Reason = OutcomeRejected, CausePersonalization, err.Error()
				r.log.Warn("recipient rejected", logx.Int("index", i), logx.Address("to", rec.Address), logx.String("cause", string(out.Cause)), logx.Err(err))
				r.record(out)
				continue
			}

			at, err := pace.wait(r.ctx)
			if err != nil {
				return r.cancelled()
			}
			out.AttemptedAt = at

			err = r.client.Deliver(sendCtx, delivery.Envelope{
				Relay:       r.opts.Relay,
				Credential:  r.group.Credential,
				From:        r.group.FromAddress,
				To:          rec.Address,
				Subject:     msg.Subject,
				Body:        msg.Body,
				ContentType: r.opts.ContentType,
			})
			if err == nil {
				out.Kind = OutcomeSent
				r.log.Debug("message sent", logx.Int("index", i), logx.Address("to", rec.Address))
				r.record(out)
				continue
			}

			out.Reason = err.Error()
			switch delivery.KindOf(err) {
			case delivery.KindAuth:
				out.Kind = OutcomeAuthFailure
				r.notify(out)
				return r.terminal(StateFailed, ReasonAuth, fmt.Errorf("recipient %d (%s): %w", i+1, rec.Address, err), &out)
			case delivery.KindPermanent:
				out.Kind, out.Cause = OutcomeRejected, CausePermanent
			default:
				out.Kind, out.Cause = OutcomeRejected, CauseTransient
			}
			r.log.Warn("delivery failed", logx.Int("index", i), logx.Address("to", rec.Address), logx.String("cause", string(out.Cause)), logx.Err(err))
			r.record(out)
		}
	}
	return r.terminal(StateCompleted, ReasonNone, nil, nil)
}

func checkAddress(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	if err := addressValidator.Var(addr, "email"); err != nil {
		return fmt.Errorf("malformed address %q", addr)
	}
	return nil
}
