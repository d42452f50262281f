package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sheetmail/internal/delivery"
	"sheetmail/internal/runtime/supervisor"
	"sheetmail/pkg/logx"
)

// Hooks observe run lifecycle and must not block. OnStart runs on the goroutine
// calling Start; OnOutcome and OnFinish run on the run's worker goroutine.
type Hooks struct {
	OnStart   func(Status)
	OnOutcome func(groupID, runID string, o Outcome)
	OnFinish  func(Status)
}

type RegistryOption func(*Registry)

func WithHooks(h Hooks) RegistryOption {
	return func(r *Registry) { r.hooks = append(r.hooks, h) }
}

// Registry tracks at most one active run per group. Runs of different groups
// share nothing but the active map and proceed fully in parallel.
type Registry struct {
	client delivery.Client
	log    logx.Logger
	sup    *supervisor.Supervisor

	mu     sync.Mutex
	opts   Options
	hooks  []Hooks
	active map[string]*run
	last   map[string]Status
	closed bool
}

func NewRegistry(client delivery.Client, opts Options, log logx.Logger, ropts ...RegistryOption) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		client: client,
		log:    log,
		opts:   opts.normalized(),
		active: map[string]*run{},
		last:   map[string]Status{},
	}
	for _, o := range ropts {
		o(r)
	}
	if r.sup == nil {
		r.sup = supervisor.New(context.Background(), supervisor.WithLogger(log))
	}
	return r
}

// Observe registers lifecycle hooks for runs started afterwards.
func (r *Registry) Observe(h Hooks) {
	r.mu.Lock()
	r.hooks = append(r.hooks, h)
	r.mu.Unlock()
}

// Apply replaces the run options. Active runs keep the options they started with.
func (r *Registry) Apply(opts Options) {
	opts = opts.normalized()
	r.mu.Lock()
	prev := r.opts
	r.opts = opts
	r.mu.Unlock()
	if prev != opts {
		r.log.Info("dispatch options updated",
			logx.Duration("interval", opts.Interval),
			logx.Int("batch_size", opts.BatchSize),
			logx.String("content_type", opts.ContentType),
			logx.String("relay", opts.Relay.String()),
		)
	}
}

func (r *Registry) Options() Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts
}

// Start validates the request and launches a run for g in the background.
// ctx only bounds the call itself; the run outlives it until completion, Cancel or Shutdown.
func (r *Registry) Start(ctx context.Context, g Group, tpl Template) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(g.ID) == "" {
		return nil, &ValidationError{Field: "group", Msg: "group id is empty"}
	}
	if strings.TrimSpace(tpl.Name) == "" {
		return nil, &ValidationError{Field: "template", Msg: "no template selected"}
	}
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}
	if err := addressValidator.Var(g.FromAddress, "required,email"); err != nil {
		return nil, &ValidationError{Field: "from", Msg: fmt.Sprintf("invalid sender address %q", g.FromAddress)}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("dispatch registry is shut down")
	}
	if _, busy := r.active[g.ID]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("group %q: %w", g.ID, ErrAlreadyRunning)
	}

	g = g.snapshot()
	opts := r.opts
	runCtx, cancel := context.WithCancelCause(r.sup.Context())
	rn := &run{
		id:        uuid.NewString(),
		group:     g,
		tpl:       tpl,
		opts:      opts,
		startedAt: time.Now(),
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		client:    r.client,
		hooks:     append([]Hooks(nil), r.hooks...),
		progress: Progress{
			Total:   len(g.Recipients),
			Batches: batchCount(len(g.Recipients), opts.BatchSize),
		},
	}
	rn.log = r.log.With(logx.Group(g.ID), logx.Run(rn.id))
	r.active[g.ID] = rn
	delete(r.last, g.ID)
	r.mu.Unlock()

	rn.log.Info("run started",
		logx.String("template", tpl.Name),
		logx.Int("recipients", rn.progress.Total),
		logx.Int("batches", rn.progress.Batches),
		logx.Duration("interval", opts.Interval),
	)
	st := rn.snapshot()
	for _, h := range rn.hooks {
		if h.OnStart != nil {
			rn.guard("start", func() { h.OnStart(st) })
		}
	}

	r.sup.Go("dispatch."+g.ID, func(context.Context) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("dispatch run panic: %v", p)
				r.finish(rn, rn.terminal(StateFailed, ReasonPanic, err, nil))
			}
		}()
		r.finish(rn, rn.drive())
		return nil
	})
	return &Handle{RunID: rn.id, GroupID: g.ID, run: rn, reg: r}, nil
}

// finish deregisters rn, publishes its terminal status and releases its waiters.
func (r *Registry) finish(rn *run, st Status) {
	rn.cancel(nil)

	rn.mu.Lock()
	rn.final = &st
	rn.mu.Unlock()

	r.mu.Lock()
	if r.active[rn.group.ID] == rn {
		delete(r.active, rn.group.ID)
		r.last[rn.group.ID] = st
	}
	r.mu.Unlock()

	fields := []logx.Field{
		logx.String("state", string(st.State)),
		logx.Int("sent", st.Progress.Sent),
		logx.Int("rejected", st.Progress.Rejected),
		logx.Int("total", st.Progress.Total),
		logx.Duration("dur", st.FinishedAt.Sub(st.StartedAt)),
	}
	if st.State == StateFailed {
		fields = append(fields, logx.String("reason", string(st.Reason)), logx.Err(st.Err))
		rn.log.Warn("run failed", fields...)
	} else {
		rn.log.Info("run completed", fields...)
	}

	for _, h := range rn.hooks {
		if h.OnFinish != nil {
			rn.guard("finish", func() { h.OnFinish(cloneStatus(st)) })
		}
	}
	close(rn.done)
}

// Status reports the active run, else the last finished run, else Idle.
func (r *Registry) Status(groupID string) Status {
	r.mu.Lock()
	rn := r.active[groupID]
	last, ok := r.last[groupID]
	r.mu.Unlock()
	if rn != nil {
		return rn.snapshot()
	}
	if ok {
		return cloneStatus(last)
	}
	return Status{GroupID: groupID, State: StateIdle}
}

// Handle returns the group's active run, if any.
func (r *Registry) Handle(groupID string) (*Handle, bool) {
	r.mu.Lock()
	rn := r.active[groupID]
	r.mu.Unlock()
	if rn == nil {
		return nil, false
	}
	return &Handle{RunID: rn.id, GroupID: groupID, run: rn, reg: r}, true
}

// Cancel requests cooperative cancellation of the group's active run.
func (r *Registry) Cancel(groupID string) error {
	h, ok := r.Handle(groupID)
	if !ok {
		return fmt.Errorf("group %q: %w", groupID, ErrNotRunning)
	}
	h.Cancel()
	return nil
}

func (r *Registry) IsRunning(groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[groupID]
	return ok
}

func (r *Registry) ActiveRunCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Groups returns the ids of groups with an active run, sorted.
func (r *Registry) Groups() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Shutdown refuses new runs, cancels the active ones and waits for them to finish.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	runs := make([]*run, 0, len(r.active))
	for _, rn := range r.active {
		runs = append(runs, rn)
	}
	r.mu.Unlock()

	for _, rn := range runs {
		rn.cancel(ErrCancelled)
	}
	for _, rn := range runs {
		select {
		case <-rn.done:
		case <-ctx.Done():
			return fmt.Errorf("dispatch shutdown: %w", ctx.Err())
		}
	}
	if len(runs) > 0 {
		r.log.Info("dispatch registry stopped", logx.Int("cancelled_runs", len(runs)))
	}
	return nil
}

// Handle refers to one started run.
type Handle struct {
	RunID   string
	GroupID string

	run *run
	reg *Registry
}

// Done is closed once the run is terminal and deregistered.
func (h *Handle) Done() <-chan struct{} { return h.run.done }

func (h *Handle) Status() Status { return h.run.snapshot() }

// Cancel requests cancellation of this run; it is a no-op once the run is terminal.
func (h *Handle) Cancel() {
	h.run.cancel(ErrCancelled)
	h.run.log.Info("run cancel requested")
}

// Wait blocks until the run is terminal or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Status, error) {
	select {
	case <-h.run.done:
		return h.run.snapshot(), nil
	case <-ctx.Done():
		return h.run.snapshot(), ctx.Err()
	}
}
