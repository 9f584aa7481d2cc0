package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/time/rate"

	"jobtrack/internal/config"
	"jobtrack/internal/engine"
	"jobtrack/internal/eventbus"
	"jobtrack/internal/runtime/supervisor"
	"jobtrack/internal/scheduler"
	"jobtrack/internal/storage"
	"jobtrack/pkg/logx"
	"jobtrack/pkg/unitctl"
)

// App wires config, logging, storage, the engine and the scheduler together.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus    eventbus.Bus
	store  storage.Store
	engine *engine.Service
	sched  *scheduler.Scheduler

	units  *unitctl.Controller
	now    func() time.Time
	notify func(state string)

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	loc     *time.Location
	started bool
	stopped bool

	warnMu sync.Mutex
	warn   map[string]*rate.Limiter
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logs, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log)

	a := &App{
		cfgm:   cfgm,
		logs:   logs,
		log:    log.With(logx.String("comp", "app")),
		bus:    eventbus.New(),
		units:  unitctl.New(),
		now:    time.Now,
		notify: sdNotify(log),
		warn:   map[string]*rate.Limiter{},
	}
	fail := func(err error) (*App, error) {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logs.Close()
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return fail(err)
	}
	a.loc = loc

	switch st, err := OpenHistory(cfg, log); {
	case errors.Is(err, storage.ErrDisabled):
	case err != nil:
		return fail(fmt.Errorf("open storage: %w", err))
	default:
		a.store = st
	}

	ecfg, err := mapEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.engine = engine.New(ecfg, log, a.bus)

	opts, err := schedulerOptions(cfg, log)
	if err != nil {
		return fail(err)
	}
	a.sched = scheduler.New(scheduler.Hooks{
		OnExecute:    a.onExecute,
		OnTrackStart: a.onTrackStart,
		OnRemove:     a.onRemove,
	}, opts...)

	n := a.registerJobs(cfg.Jobs, loc)
	a.log.Info("app built",
		logx.String("config", cfgm.Path()),
		logx.Int("jobs", n),
		logx.Bool("storage", a.store != nil),
		logx.String("timezone", loc.String()),
	)
	return a, nil
}

// Config returns the last committed config.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Scheduler exposes the job scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Engine exposes the execution engine.
func (a *App) Engine() *engine.Service { return a.engine }

// Bus exposes the event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Store returns the history store, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Done is closed when the app context ends, e.g. after a fatal error.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	a.started = true
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sup := a.sup
	a.mu.Unlock()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := schedulerOptions(cfg, a.log)
		return err
	})

	// Subscribe before anything can publish so the first events are kept.
	if a.store != nil {
		events, unsub := a.bus.SubscribeTypes(256, recordedTypes...)
		store := a.store
		sup.Go0("history.recorder", func(c context.Context) {
			defer unsub()
			recordLoop(c, events, store, a.log)
		})
	}

	if a.engine.Enabled() {
		a.engine.Start(sup.Context())
	}
	cfg := a.cfgm.Get()
	if cfg.Scheduler.Enabled {
		a.sched.Start()
	} else {
		a.log.Info("scheduler disabled; jobs are registered but will not fire")
	}

	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub, cfg)
	})
	sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notify(daemon.SdNotifyReady)
	a.notify(fmt.Sprintf("STATUS=%d jobs", a.sched.Len()))
	a.log.Info("app started", logx.Int("workers", a.sched.Len()))
	return nil
}

// Stop shuts the scheduler down first so no new work is dispatched, then
// stops the engine and background goroutines. It is safe to call more than
// once.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	sup := a.sup
	a.mu.Unlock()

	a.notify(daemon.SdNotifyStopping)
	a.log.Info("app stopping")

	var errs []error
	if a.sched.Shutdown() {
		if err := a.sched.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	a.engine.Stop(ctx)
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("supervisor: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	_ = a.units.Close()
	a.log.Info("app stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// reloadLoop applies committed configs published by the manager.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, applied *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.apply(ctx, applied, next)
			applied = next
		}
	}
}

// apply moves the running app from prev to next.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	a.notify(daemon.SdNotifyReloading)
	defer a.notify(daemon.SdNotifyReady)

	a.logs.Apply(mapLoggingConfig(next))

	if !reflect.DeepEqual(prev.Storage, next.Storage) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev.Scheduler.PollInterval != next.Scheduler.PollInterval || prev.Scheduler.HookPolicy != next.Scheduler.HookPolicy {
		a.log.Warn("scheduler poll_interval/hook_policy changed; restart required for changes to take effect")
	}

	if ecfg, err := mapEngineConfig(next); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ecfg)
	}

	loc, err := next.Location()
	if err != nil {
		a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
		loc = a.loc
	}
	if loc.String() != a.loc.String() {
		a.loc = loc
		a.rebuildAll(next, loc)
	} else {
		a.reconcile(next, config.DiffJobs(prev, next), loc)
	}

	switch {
	case prev.Scheduler.Enabled && !next.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		a.sched.Shutdown()
		wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.sched.Wait(wctx); err != nil {
			a.log.Warn("scheduler stop timed out", logx.Err(err))
		}
		cancel()
	case !prev.Scheduler.Enabled && next.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start()
	}
	a.notify(fmt.Sprintf("STATUS=%d jobs", a.sched.Len()))
}

// sdNotify returns a notifier that reports state to systemd when running
// under it and does nothing otherwise.
func sdNotify(log logx.Logger) func(string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
			return
		}
		if sent {
			log.Trace("sd_notify", logx.String("state", state))
		}
	}
}
