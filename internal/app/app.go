// Package app wires the reminder daemon: config, logging, storage, the
// scheduler loop, delivery, maintenance jobs and the debug server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/dedup"
	"remindbot/internal/dispatch"
	"remindbot/internal/eventbus"
	"remindbot/internal/maintenance"
	"remindbot/internal/observability/debugserver"
	"remindbot/internal/observability/tracing"
	"remindbot/internal/reminders"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	msg  kit.Messenger

	backend storage.Backend
	store   *reminders.Store
	svc     *reminders.Service
	cache   *dedup.Cache
	disp    *dispatch.Dispatcher
	sched   *scheduler.Scheduler
	maint   *maintenance.Service
	debug   *debugserver.Service
	tracing *tracing.Provider
	sd      *notifier

	sup       *rtsup.Supervisor
	startedAt time.Time
}

// New loads cfgPath and builds every component without starting any.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	msg, err := openMessenger(cfg, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(mapLogConfig(cfg), msg)

	a := &App{
		cfgm: cfgm,
		log:  log.With(logx.String("comp", "app")),
		logs: logs,
		bus:  eventbus.New(),
		msg:  msg,
	}

	a.tracing, err = tracing.Setup(context.Background(), mapTracingConfig(cfg), log.With(logx.String("comp", "tracing")))
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	a.backend, err = storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = a.tracing.Shutdown(context.Background())
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = reminders.NewStore(a.backend, reminders.WithStoreLogger(log), reminders.WithStoreBus(a.bus))
	a.svc = reminders.NewService(a.store, reminders.ServiceConfig{DefaultLocation: location(cfg)}, log, a.bus)

	ttl, maxEntries := mapDedup(cfg)
	a.cache = dedup.New(dedup.Config{TTL: ttl, MaxEntries: maxEntries})
	a.disp = dispatch.New(mapDispatchConfig(cfg), msg, log, a.bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.store, a.cache, a.disp,
		scheduler.WithBus(a.bus), scheduler.WithLogger(log))
	a.svc.SetWaker(a.sched)

	a.maint = maintenance.New(location(cfg), log)
	a.debug = debugserver.New(log, func() any { return a.Status() }, a.Health)
	a.sd = newNotifier(a.log)
	return a, nil
}

func openMessenger(cfg *config.Config, log logx.Logger) (kit.Messenger, error) {
	if cfg.Telegram.DryRun {
		rec := kit.NewRecorder()
		rec.OnSend = func(s kit.Sent) {
			log.Info("dry run: message not sent", logx.Int64("to", s.To), logx.Bool("channel", s.Channel), logx.String("text", s.Text))
		}
		return rec, nil
	}
	return telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
		SendTimeout: mapDispatchConfig(cfg).SendTimeout,
	}, log.With(logx.String("comp", "telegram")))
}

// Service exposes the reminder operations to an in-process command layer.
func (a *App) Service() *reminders.Service { return a.svc }

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.startedAt = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		return mapDebugConfig(next).Validate()
	})

	if lc, ok := a.msg.(kit.Lifecycle); ok {
		if err := lc.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.applyJobs(cfg)
	if err := a.maint.Start(a.sup.Context()); err != nil {
		a.log.Warn("some maintenance jobs failed to register", logx.Err(err))
	}
	if err := a.debug.Reconfigure(a.sup.Context(), mapDebugConfig(cfg)); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	if cfg.Scheduler.Enabled {
		a.sd.checkInterval(a.sched.Config().MaxInterval)
		a.sched.OnTick = func(scheduler.TickReport) { a.sd.ping() }
		a.sup.GoRestart("scheduler", a.sched.Run,
			rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	} else {
		a.log.Warn("scheduler disabled; reminders will not fire")
	}

	a.sup.Go("eventbus.log", a.logEvents)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.ready()
	a.log.Info("app started",
		logx.String("storage", a.backend.Driver()),
		logx.Bool("scheduler", cfg.Scheduler.Enabled),
		logx.Bool("dry_run", cfg.Telegram.DryRun))
	return nil
}

func (a *App) applyJobs(cfg *config.Config) {
	sc := mapStorageConfig(cfg)
	jobs := []maintenance.Job{
		maintenance.BackupJob(cfg.Storage.BackupSchedule, a.backend, maintenance.BackupPath(sc.Path), a.log),
		maintenance.StatsJob(cfg.Scheduler.StatsSchedule, a.store, time.Now, a.sched.Config().Grace, a.log),
	}
	for _, j := range jobs {
		if err := a.maint.Set(j); err != nil {
			a.log.Warn("maintenance job rejected", logx.String("job", j.Name), logx.Err(err))
		}
	}
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
		}
	}
}

// reloadLoop applies published configs, coalescing bursts to the newest.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
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
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		a.log.Debug("config reload received, no effective changes")
		return
	}

	if ch.Has("logging") || ch.Has("telegram") {
		a.logs.Apply(mapLogConfig(next))
	}
	if ch.Has("scheduler") {
		a.sched.Apply(mapSchedulerConfig(next))
		a.svc.SetDefaultLocation(location(next))
	}
	if ch.Has("dedup") {
		a.cache.Apply(mapDedup(next))
	}
	if ch.Has("dispatch") {
		dc := mapDispatchConfig(next)
		a.disp.Apply(dc)
		if tm, ok := a.msg.(*telegram.Messenger); ok {
			tm.SetSendTimeout(dc.SendTimeout)
		}
	}
	if ch.Has("storage") || ch.Has("scheduler") {
		a.applyJobs(next)
	}
	if ch.Has("debug") {
		if err := a.debug.Reconfigure(ctx, mapDebugConfig(next)); err != nil {
			a.log.Warn("debug server reconfigure failed", logx.Err(err))
		}
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(ch.Restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

// Status is the /status document.
type Status struct {
	Uptime      string                  `json:"uptime"`
	Storage     string                  `json:"storage"`
	LastTick    scheduler.TickReport    `json:"last_tick"`
	Dedup       dedup.Stats             `json:"dedup"`
	Dispatch    []dispatch.Record       `json:"dispatch_history"`
	Maintenance []maintenance.EntryInfo `json:"maintenance"`
	Supervisor  rtsup.Snapshot          `json:"supervisor"`
}

func (a *App) Status() Status {
	st := Status{
		Uptime:      time.Since(a.startedAt).Truncate(time.Second).String(),
		Storage:     a.backend.Driver(),
		LastTick:    a.sched.LastTick(),
		Dedup:       a.cache.Stats(),
		Dispatch:    a.disp.History(),
		Maintenance: a.maint.Entries(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}

var errStalled = errors.New("scheduler stalled")

// Health fails when the supervisor recorded a fatal error or the scheduler
// has not ticked for several intervals.
func (a *App) Health() error {
	if err := a.Err(); err != nil {
		return err
	}
	cfg := a.cfgm.Get()
	if cfg == nil || !cfg.Scheduler.Enabled {
		return nil
	}
	last := a.sched.LastTick().At
	if last.IsZero() {
		return nil
	}
	if since := time.Since(last); since > 3*a.sched.Config().MaxInterval {
		return fmt.Errorf("%w: last tick %s ago", errStalled, since.Truncate(time.Second))
	}
	return nil
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot hold the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, p)
				}
			}()
			done <- fn(c)
		}()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-c.Done():
			a.log.Warn("stop step deadline reached, continuing", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The scheduler finishes its current tick, dispatches included.
	step("supervisor", 15*time.Second, a.sup.Wait)
	step("maintenance", 5*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("debug", 2*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("messenger", 2*time.Second, func(c context.Context) error {
		if lc, ok := a.msg.(kit.Lifecycle); ok {
			return lc.Stop(c)
		}
		return nil
	})
	step("storage", 2*time.Second, func(context.Context) error { return a.backend.Close() })
	step("tracing", 5*time.Second, a.tracing.Shutdown)

	a.log.Info("stopped")
	return a.logs.Close()
}
