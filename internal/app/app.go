// Package app wires configuration, dispatch, sources, storage, schedules and
// the control surfaces into one process and applies config hot-reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"sheetmail/internal/config"
	"sheetmail/internal/control"
	"sheetmail/internal/delivery"
	"sheetmail/internal/dispatch"
	"sheetmail/internal/eventbus"
	"sheetmail/internal/runtime/supervisor"
	"sheetmail/internal/schedule"
	"sheetmail/internal/source"
	"sheetmail/internal/storage"
	"sheetmail/internal/transport/telegram"
	"sheetmail/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.Bus
	store storage.Store

	catalog  *source.Catalog
	library  *source.Library
	registry *dispatch.Registry
	launcher *source.Launcher

	sched   *schedule.Service
	control *control.Server
}

type Option func(*options)

type options struct {
	client delivery.Client
	logCfg *logx.Config
}

// WithClient replaces the SMTP client (tests, dry runs).
func WithClient(c delivery.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogLevel overrides the configured log level.
func WithLogLevel(level string) Option {
	return func(o *options) {
		if o.logCfg == nil {
			o.logCfg = &logx.Config{}
		}
		o.logCfg.Level = level
	}
}

// New loads the config at cfgPath and builds every component without starting
// background work. Runs can be launched right away; Start adds schedules,
// the control API, Telegram and config hot-reload.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logCfg := mapLogging(cfg)
	if o.logCfg != nil && o.logCfg.Level != "" {
		logCfg.Level = o.logCfg.Level
	}
	logSvc, log := logx.New(logCfg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	dopts, err := mapDispatch(cfg)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
	}

	path, sopts := mapSource(cfg)
	catalog := source.NewCatalog(path, sopts, log.With(logx.String("comp", "source")))
	library := source.NewLibrary()
	if dir := strings.TrimSpace(cfg.Templates.Dir); dir != "" {
		n, err := library.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("templates.dir: %w", err)
		}
		log.Info("templates loaded", logx.String("dir", dir), logx.Int("count", n))
	}

	client := o.client
	if client == nil {
		client = delivery.NewSMTP(log.With(logx.String("comp", "smtp")))
	}

	bus := eventbus.New()
	registry := dispatch.NewRegistry(client, dopts, log.With(logx.String("comp", "dispatch")),
		dispatch.WithHooks(control.MetricsHooks()),
		dispatch.WithHooks(bus.Hooks()),
	)

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		catalog:  catalog,
		library:  library,
		registry: registry,
		launcher: source.NewLauncher(catalog, library, registry),
	}
	if store != nil {
		registry.Observe(dispatch.Hooks{OnFinish: a.recordRun})
	}
	a.sched = schedule.New(a.fireSchedule, log.With(logx.String("comp", "schedule")))
	if err := a.sched.Apply(mapSchedules(cfg)); err != nil {
		return nil, err
	}
	a.control = control.New(control.Deps{
		Launcher:  a.launcher,
		Store:     store,
		Schedules: a.sched,
		Workers:   func() supervisor.Counters { return a.sup.Counters() },
	}, log.With(logx.String("comp", "control")))
	return a, nil
}

func (a *App) Launcher() *source.Launcher { return a.launcher }

func (a *App) Registry() *dispatch.Registry { return a.registry }

// Store is nil when run history is disabled.
func (a *App) Store() storage.Store { return a.store }

func (a *App) Bus() *eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

// ControlAddr is the bound control API address, or "" when it is not serving.
func (a *App) ControlAddr() string { return a.control.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) recordRun(st dispatch.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.RecordRun(ctx, storage.FromStatus(st)); err != nil {
		a.log.Warn("run history write failed", logx.Group(st.GroupID), logx.Run(st.RunID), logx.Err(err))
	}
}

func (a *App) fireSchedule(ctx context.Context, e schedule.Entry) error {
	_, err := a.launcher.Launch(ctx, e.Group, e.Template)
	return err
}

// Start runs the long-lived services until Stop or a fatal error.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		var errs []error
		if _, err := mapDispatch(next); err != nil {
			errs = append(errs, err)
		}
		if _, _, err := mapStorageConfig(next); err != nil {
			errs = append(errs, err)
		}
		if _, err := mapControl(next); err != nil {
			errs = append(errs, err)
		}
		if _, err := mapTelegram(next); err != nil {
			errs = append(errs, err)
		}
		if err := schedule.Validate(mapSchedules(next)); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	cc, err := mapControl(cfg)
	if err != nil {
		return err
	}
	if err := a.control.Reconfigure(a.sup.Context(), cc); err != nil {
		return err
	}
	a.sup.Go("control", a.control.Run)

	if cfg.Telegram.Enabled {
		if err := a.startTelegram(cfg); err != nil {
			return err
		}
	}

	a.sched.Start(a.sup.Context())

	a.startReloadLoop()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("workbook", a.catalog.Path()),
		logx.Int("schedules", len(a.sched.Snapshot())),
		logx.Bool("control", cc.Enabled),
		logx.Bool("telegram", cfg.Telegram.Enabled),
		logx.Bool("history", a.store != nil),
	)
	return nil
}

// startTelegram polls Telegram under a restart loop so a network outage at boot
// (getMe failing) does not fail the whole app.
func (a *App) startTelegram(cfg *config.Config) error {
	tc, err := mapTelegram(cfg)
	if err != nil {
		return err
	}
	log := a.log.With(logx.String("comp", "telegram"))
	deps := telegram.Deps{Launcher: a.launcher, Store: a.store, Bus: a.bus}
	a.sup.GoRestart("telegram", func(ctx context.Context) error {
		bot, err := telegram.New(tc, deps, log)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		return bot.Run(ctx)
	}, supervisor.WithRestartBackoff(2*time.Second, 2*time.Minute))
	return nil
}

// startReloadLoop fans committed config changes out to the live components.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool { return slices.Contains(sections, name) }

	if changed("logging") {
		a.logs.Apply(mapLogging(next))
	}
	if changed("relay") || changed("dispatch") {
		if dopts, err := mapDispatch(next); err != nil {
			a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		} else {
			a.registry.Apply(dopts)
		}
	}
	if changed("workbook") {
		path, sopts := mapSource(next)
		a.catalog.Apply(path, sopts)
	}
	if changed("templates") {
		if dir := strings.TrimSpace(next.Templates.Dir); dir != "" {
			if n, err := a.library.LoadDir(dir); err != nil {
				a.log.Warn("template reload failed", logx.String("dir", dir), logx.Err(err))
			} else {
				a.log.Info("templates loaded", logx.String("dir", dir), logx.Int("count", n))
			}
		}
	}
	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed("schedules") {
		if err := a.sched.Apply(mapSchedules(next)); err != nil {
			a.log.Warn("invalid schedules; keeping previous", logx.Err(err))
		}
	}
	if changed("control") {
		if cc, err := mapControl(next); err != nil {
			a.log.Warn("invalid control config; keeping previous", logx.Err(err))
		} else if err := a.control.Reconfigure(ctx, cc); err != nil {
			a.log.Error("control api reconfigure failed", logx.Err(err))
		}
	}
	if changed("telegram") {
		a.log.Warn("telegram config changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down in dependency order. Active runs are cancelled
// between recipients; an in-flight delivery is allowed to finish.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("dispatch", 3*time.Minute, a.registry.Shutdown)
	step("control", 2*time.Second, func(c context.Context) error { a.control.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 3*time.Second, a.sup.Wait)
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
