// Package app wires the bot together: config, logging, storage, timers,
// notifier, scheduler, backups, HTTP API, router and the chat transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"respawnbot/internal/backup"
	"respawnbot/internal/boss"
	"respawnbot/internal/commands"
	"respawnbot/internal/config"
	"respawnbot/internal/eventbus"
	"respawnbot/internal/httpapi"
	"respawnbot/internal/notifier"
	rtsup "respawnbot/internal/runtime/supervisor"
	"respawnbot/internal/scheduler"
	"respawnbot/internal/storage"
	"respawnbot/internal/timefmt"
	"respawnbot/internal/timer"
	kit "respawnbot/internal/transport"
	"respawnbot/internal/transport/router"
	"respawnbot/pkg/chatui"
	logx "respawnbot/pkg/logx"
	"respawnbot/pkg/systemd"
)

type Options struct {
	ConfigPath string
	// Console forces the console transport whatever the file says.
	Console bool
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// adapterFactory builds the chat transport. onExit is called when the
// transport wants the process to stop (console "exit").
type adapterFactory func(cfg *config.Config, log logx.Logger, onExit func()) (kit.Adapter, error)

type App struct {
	opts Options
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	loc   *time.Location

	timers  *timer.Service
	backups *backup.Service
	sched   *scheduler.Service
	notif   *notifier.Service
	http    *httpapi.Service
	router  *router.Router
	rOpts   router.Options
	cmds    *commands.Set
	adapter kit.Adapter

	updates chan kit.Update
	exit    chan struct{}
	started time.Time
}

func New(opts Options) (*App, error) {
	return newApp(opts, newAdapter)
}

func newApp(opts Options, makeAdapter adapterFactory) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, opts)
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfgm.Commit(cfg)

	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		bus:     eventbus.New(),
		exit:    make(chan struct{}),
		updates: make(chan kit.Update, max(cfg.Transport.QueueSize, 256)),
	}

	// The chat sink needs its target before it is enabled, and the adapter
	// only exists later, so logging boots with the sink off.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	a.logs, a.log = logx.New(bootCfg, nil)
	a.logs.SetChatTarget(logChatTarget(cfg))
	a.log = a.log.With(logx.String("comp", "app"))

	if err := a.build(cfg, makeAdapter); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = a.logs.Close()
		return nil, err
	}

	a.logs.SetSender(a.adapter)
	a.logs.Apply(logCfg)
	return a, nil
}

func (a *App) build(cfg *config.Config, makeAdapter adapterFactory) error {
	var err error
	if a.loc, err = timefmt.LoadLocation(cfg.Timezone); err != nil {
		return err
	}
	catalog, err := mapBosses(cfg)
	if err != nil {
		return err
	}
	reg, err := boss.New(catalog)
	if err != nil {
		return err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, a.log.With(logx.String("comp", "storage"))); err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	a.timers = timer.New(timer.Options{Registry: reg, Store: a.store, Bus: a.bus, Log: a.log})
	lctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = a.timers.Load(lctx)
	cancel()
	if err != nil {
		// Start empty rather than not at all; writes keep retrying the store.
		a.log.Error("loading timers failed; starting empty", logx.Err(err))
	}

	a.sched = scheduler.New(a.loc, a.log.With(logx.String("comp", "scheduler")))

	if bc, enabled, err := mapBackupConfig(cfg); err != nil {
		return err
	} else if enabled {
		if a.backups, err = backup.New(bc, a.timers, backup.Options{Bus: a.bus, Log: a.log}); err != nil {
			return err
		}
		if err := a.backups.Schedule(a.sched); err != nil {
			return fmt.Errorf("backup.schedule: %w", err)
		}
	}

	if a.adapter, err = makeAdapter(cfg, a.log, a.requestExit); err != nil {
		return fmt.Errorf("%s transport: %w", driverOf(cfg), err)
	}
	style := styleOf(a.adapter)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, notifier.Options{
		Timers:    a.timers,
		Adapter:   a.adapter,
		Scheduler: a.sched,
		Bus:       a.bus,
		Log:       a.log,
		Loc:       a.loc,
		Style:     style,
	})

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	a.http = httpapi.New(hcfg, httpapi.Options{Timers: a.timers, Health: a.health, Log: a.log})

	cmdOpts := commands.Options{Timers: a.timers, Loc: a.loc, Log: a.log}
	if a.backups != nil {
		cmdOpts.Backups = a.backups
	}
	a.cmds = commands.New(cmdOpts)
	// The router is created in Start, under the app supervisor.
	a.rOpts = router.Options{
		Log:      a.log,
		Adapter:  a.adapter,
		Style:    style,
		Owners:   cfg.Transport.Owners,
		Prefixes: cfg.Transport.CommandPrefixes,
		Workers:  cfg.Transport.Workers,
		Queue:    cfg.Transport.QueueSize,
	}
	return nil
}

func applyOverrides(cfg *config.Config, opts Options) {
	if opts.Console {
		cfg.Transport.Driver = DriverConsole
	}
	if lvl := strings.TrimSpace(opts.LogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
}

func styleOf(ad kit.Adapter) chatui.Style {
	if s, ok := ad.(interface{ Style() chatui.Style }); ok {
		return s.Style()
	}
	return chatui.Plain{}
}

// Done is closed when the app supervisor context ends (fatal error, Stop, or
// the transport asking to exit).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Exit is closed when the transport asked the process to stop.
func (a *App) Exit() <-chan struct{} { return a.exit }

func (a *App) requestExit() {
	select {
	case <-a.exit:
	default:
		close(a.exit)
	}
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		applyOverrides(cfg, a.opts)
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start transport: %w", err)
	}
	ro := a.rOpts
	ro.Supervisor = a.sup
	a.router = router.New(ro)
	a.router.SetRegistry(a.cmds.Commands(), a.cmds.Callbacks())

	a.sched.Start(a.sup.Context())
	a.notif.Start(a.sup.Context())
	a.http.Start(a.sup.Context())

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log, func() bool { return a.sup.Err() == nil })
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("transport", driverOf(a.cfgm.Get())),
		logx.String("tz", a.loc.String()),
		logx.Int("bosses", len(a.timers.Registry().Bosses())),
		logx.Bool("backups", a.backups != nil),
	)
	return nil
}

// logEvents mirrors bus traffic at debug level.
func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Timers first so the final table/DMs are not cut mid-send by the adapter.
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Duration("uptime", time.Since(a.started)))
	return a.logs.Close()
}
