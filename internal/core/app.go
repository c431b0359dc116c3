// Package core wires the notification bridge together: configuration,
// logging, the platform listener, the forwarder and the status server all
// live for exactly as long as the App does.
package core

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"

	"notibridge/internal/bridge"
	"notibridge/internal/config"
	"notibridge/internal/listener"
	"notibridge/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	lst listener.Listener
	fwd *bridge.Forwarder
	srv *statusServer

	cron *cron.Cron

	// startCfg holds the bridge settings fixed at startup. Config reloads
	// only ever touch the logging section.
	startCfg *config.Config
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	lst, err := listener.New(runtime.GOOS, logSvc.Logger())
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	fwd := bridge.NewForwarder(
		cfg.Bridge.CentralContextURL,
		cfg.Bridge.BucketName,
		nil,
		logSvc.Logger().With(logx.String("comp", "forwarder")),
	)

	srv := newStatusServer(logSvc.Logger().With(logx.String("comp", "status")), lst.Running, fwd)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		lst:      lst,
		fwd:      fwd,
		srv:      srv,
		cron:     cron.New(),
		startCfg: cfg,
	}, nil
}

// Running reports whether the platform listener is observing notifications.
func (a *App) Running() bool { return a.lst.Running() }

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

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := cron.ParseStandard(cfg.Stats.Schedule); err != nil {
			return fmt.Errorf("stats.schedule: %w", err)
		}
		return nil
	})

	// The callback is the whole pipeline: listener event -> forwarder.
	// Forward never fails upward, so one bad delivery can't stop observation.
	cb := func(cbCtx context.Context, p bridge.Payload) {
		a.fwd.Forward(cbCtx, p)
	}

	if err := a.lst.Start(a.sup.Context(), cb); err != nil {
		return fmt.Errorf("listener start: %w", err)
	}

	if err := a.srv.Start(fmt.Sprintf(":%d", a.startCfg.Bridge.Port)); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.lst.Stop(stopCtx)
		cancel()
		return fmt.Errorf("status server: %w", err)
	}

	a.startStatsJob(a.startCfg.Stats.Schedule)

	// hot reload config fan-out: only logging is applied live
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("bridge started",
		logx.String("platform", runtime.GOOS),
		logx.String("target", a.fwd.BaseURL()),
		logx.String("bucket", a.fwd.Bucket()),
		logx.Bool("listening", a.lst.Running()),
	)
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if cfg.Bridge != a.startCfg.Bridge {
		a.log.Info("bridge settings changed on disk; restart to apply them")
	}
	if cfg.Stats.Schedule != a.startCfg.Stats.Schedule {
		a.log.Info("stats schedule changed on disk; restart to apply it")
	}

	a.log.Info("config reloaded", logx.String("level", cfg.Logging.Level))
}

func (a *App) startStatsJob(spec string) {
	_, err := a.cron.AddFunc(spec, func() {
		snap := a.fwd.Stats().Snapshot()
		f := []logx.Field{
			logx.Uint64("forwarded", snap.Forwarded),
			logx.Uint64("rejected", snap.Rejected),
			logx.Uint64("failed", snap.Failed),
			logx.Uint64("dropped", snap.Dropped),
		}
		if !snap.LastForward.IsZero() {
			f = append(f, logx.Time("last_forward", snap.LastForward))
		}
		a.log.Info("forward summary", f...)
	})
	if err != nil {
		a.log.Warn("stats schedule invalid; summary disabled", logx.String("spec", spec), logx.Err(err))
		return
	}
	a.cron.Start()
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("listener", 3*time.Second, func(c context.Context) error { return a.lst.Stop(c) })
	step("cron", 2*time.Second, func(c context.Context) error {
		done := a.cron.Stop().Done()
		select {
		case <-done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("status", 2*time.Second, func(c context.Context) error { a.srv.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}
