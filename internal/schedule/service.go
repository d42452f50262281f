package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sheetmail/internal/dispatch"
	"sheetmail/pkg/logx"
)

// Entry starts a run of Template for Group whenever Spec fires.
type Entry struct {
	Name     string
	Group    string
	Template string
	Spec     string
}

// Trigger starts the run for a fired entry. It must not block on the run itself.
type Trigger func(ctx context.Context, e Entry) error

// EntryInfo is a snapshot row for listings.
type EntryInfo struct {
	Entry
	Kind     string    `json:"kind"`
	Next     time.Time `json:"next"`
	LastFire time.Time `json:"last_fire,omitempty"`
	LastErr  string    `json:"last_err,omitempty"`
	Skipped  int       `json:"skipped"`
}

type def struct {
	entry  Entry
	parsed ParsedSpec
	sched  cron.Schedule
	id     cron.EntryID

	lastFire time.Time
	lastErr  string
	skipped  int
}

type Option func(*Service)

// WithLocation evaluates cron and daily specs in loc (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// Service fires run triggers on schedule. Entries can be replaced at runtime with Apply.
type Service struct {
	log  logx.Logger
	fire Trigger
	loc  *time.Location

	mu   sync.Mutex
	ctx  context.Context
	c    *cron.Cron
	defs map[string]*def
}

func New(fire Trigger, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, fire: fire, loc: time.Local, defs: map[string]*def{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate parses every entry without changing the active schedule.
func Validate(entries []Entry) error {
	var errs []error
	seen := map[string]bool{}
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: name required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if _, err := ParseSpec(e.Spec); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d] %q: %w", i, name, err))
		}
	}
	return errors.Join(errs...)
}

// Apply replaces the schedule set. It is all-or-nothing: on a parse error the
// previous entries stay active.
func (s *Service) Apply(entries []Entry) error {
	if err := Validate(entries); err != nil {
		return err
	}
	next := make(map[string]*def, len(entries))
	for _, e := range entries {
		e.Name = strings.TrimSpace(e.Name)
		p, _ := ParseSpec(e.Spec)
		sched, err := p.Schedule()
		if err != nil {
			return fmt.Errorf("schedule %q: %w", e.Name, err)
		}
		next[e.Name] = &def{entry: e, parsed: p, sched: sched}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, d := range s.defs {
		if s.c != nil {
			s.c.Remove(d.id)
		}
		if nd, ok := next[name]; ok && nd.entry == d.entry {
			nd.lastFire, nd.lastErr, nd.skipped = d.lastFire, d.lastErr, d.skipped
		}
	}
	s.defs = next
	if s.c != nil {
		for _, d := range s.defs {
			s.addLocked(d)
		}
	}
	s.log.Info("schedules applied", logx.Int("count", len(next)))
	return nil
}

// Start begins firing entries until Stop or ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.addLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("entries", len(s.defs)), logx.String("tz", s.loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) addLocked(d *def) {
	name := d.entry.Name
	d.id = s.c.Schedule(d.sched, cron.FuncJob(func() { s.run(name) }))
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", d.parsed.String()), logx.Time("next", d.sched.Next(time.Now().In(s.loc))))
}

// run fires one entry. A group that is already running is skipped, not an error.
func (s *Service) run(name string) {
	s.mu.Lock()
	d := s.defs[name]
	ctx := s.ctx
	s.mu.Unlock()
	if d == nil || ctx == nil || ctx.Err() != nil {
		return
	}
	e := d.entry
	err := s.fire(ctx, e)

	s.mu.Lock()
	d.lastFire = time.Now()
	d.lastErr = ""
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrAlreadyRunning):
		d.skipped++
	default:
		d.lastErr = err.Error()
	}
	s.mu.Unlock()

	fields := []logx.Field{logx.String("name", e.Name), logx.Group(e.Group), logx.String("template", e.Template)}
	switch {
	case err == nil:
		s.log.Info("scheduled run started", fields...)
	case errors.Is(err, dispatch.ErrAlreadyRunning):
		s.log.Info("scheduled run skipped; group already running", fields...)
	default:
		s.log.Warn("scheduled run failed to start", append(fields, logx.Err(err))...)
	}
}

// Snapshot lists entries sorted by name with their next fire time.
func (s *Service) Snapshot() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().In(s.loc)
	out := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, EntryInfo{
			Entry:    d.entry,
			Kind:     d.parsed.Kind.String(),
			Next:     d.sched.Next(now),
			LastFire: d.lastFire,
			LastErr:  d.lastErr,
			Skipped:  d.skipped,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
