// Package app wires the relay daemon: config, logging, transport,
// relay loop, health schedule, weekly report schedule and systemd
// notification.
package app

import (
	"context"
	"fmt"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"github.com/Arch-Node/foundry-relay/internal/actions"
	"github.com/Arch-Node/foundry-relay/internal/config"
	"github.com/Arch-Node/foundry-relay/internal/health"
	"github.com/Arch-Node/foundry-relay/internal/history"
	"github.com/Arch-Node/foundry-relay/internal/relay"
	"github.com/Arch-Node/foundry-relay/internal/report"
	rtsup "github.com/Arch-Node/foundry-relay/internal/runtime/supervisor"
	"github.com/Arch-Node/foundry-relay/internal/signalcli"
	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *rtsup.Supervisor

	log      logx.Logger
	notifier *signalcli.Notifier
	relay    *relay.Relay
	monitor  *health.Monitor
	hist     *history.Store
	reporter *report.Builder
	cron     *cron.Cron
}

// New builds the daemon from the config at cfgPath. Everything is
// constructed once; the only state that follows hot reload afterwards
// is the allow-list.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	receiveTimeout, err := config.ParseDurationOrDefault("signal.receive_timeout", cfg.Signal.ReceiveTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	transport, err := signalcli.New(signalcli.Config{
		Path:           cfg.Signal.CLIPath,
		User:           cfg.Signal.User,
		Group:          cfg.Signal.Group,
		ReceiveTimeout: receiveTimeout,
	})
	if err != nil {
		return nil, err
	}
	notifier := signalcli.NewNotifier(transport, log.With(logx.String("comp", "notifier")))

	var hist *history.Store
	if cfg.History.Path != "" {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open probe history: %w", err)
		}
	}

	webTimeout, err := config.ParseDurationOrDefault("health.web_timeout", cfg.Health.WebTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	retryInterval, err := config.ParseDurationOrDefault("health.retry_interval", cfg.Health.RetryInterval, 5*time.Second)
	if err != nil {
		return nil, err
	}
	prober := health.NewHostProber(cfg.Health.ContainerName, cfg.Health.Port, webTimeout)

	var monOpts []health.MonitorOption
	if hist != nil {
		monOpts = append(monOpts, health.WithRecorder(hist))
	}
	monitor := health.NewMonitor(prober, notifier, cfg.Health.Retries, retryInterval,
		log.With(logx.String("comp", "health")), monOpts...)

	actionTimeout, err := config.ParseDurationOrDefault("actions.timeout", cfg.Actions.Timeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	runner := actions.NewExecRunner(actions.Config{
		FoundryScript: cfg.Actions.FoundryScript,
		BackupDir:     cfg.Backup.Dir,
		Timeout:       actionTimeout,
	})

	pollInterval, err := config.ParseDurationOrDefault("relay.poll_interval", cfg.Relay.PollInterval, 2*time.Second)
	if err != nil {
		return nil, err
	}
	confirmWindow, err := config.ParseDurationOrDefault("relay.reboot_confirm_window", cfg.Relay.RebootConfirmWindow, 60*time.Second)
	if err != nil {
		return nil, err
	}
	rel := relay.New(relay.Config{
		AllowedSenders: cfg.Signal.AllowedSenders,
		PollInterval:   pollInterval,
		RatePerMin:     cfg.Relay.RatePerMin,
		ConfirmWindow:  confirmWindow,
	}, transport, notifier, runner,
		func(ctx context.Context) bool {
			_, ok := monitor.Check(ctx)
			return ok
		},
		log.With(logx.String("comp", "relay")),
	)

	var summarizer report.Summarizer
	if hist != nil {
		summarizer = hist
	}
	reporter := report.NewBuilder(cfg.Backup.Dir, cfg.Health.ContainerName, summarizer)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		notifier: notifier,
		relay:    rel,
		monitor:  monitor,
		hist:     hist,
		reporter: reporter,
	}, nil
}

// Start launches the poller, the config watcher, the cron schedules
// and the systemd watchdog under one supervisor.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)

	a.sup.Go("relay.poll", a.relay.Run)
	a.sup.Go("config.watch", a.cfgm.Watch)

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.apply", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				// The allow-list and log level follow a reload;
				// everything else was bound at construction and
				// needs a restart.
				a.relay.SetAllowedSenders(cfg.Signal.AllowedSenders)
				a.log.SetLevel(cfg.Logging.Level)
				a.log.Info("reload applied",
					logx.Int("senders", len(cfg.Signal.AllowedSenders)),
					logx.String("level", cfg.Logging.Level))
			}
		}
	})

	if err := a.startCron(); err != nil {
		return err
	}
	a.startWatchdog()

	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	a.log.Info("daemon started")
	return nil
}

func (a *App) startCron() error {
	cfg := a.cfgm.Get()
	if cfg.Health.Schedule == "" && cfg.Report.Schedule == "" {
		return nil
	}

	// SkipIfStillRunning keeps a slow cycle from stacking up behind
	// itself; the relay's on-demand checks are unaffected.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if cfg.Health.Schedule != "" {
		if _, err := c.AddFunc(cfg.Health.Schedule, func() {
			a.monitor.Check(a.sup.Context())
		}); err != nil {
			return fmt.Errorf("health.schedule: %w", err)
		}
	}
	if cfg.Report.Schedule != "" {
		if _, err := c.AddFunc(cfg.Report.Schedule, func() {
			ctx := a.sup.Context()
			_ = a.notifier.Notify(ctx, a.reporter.Build(ctx))
		}); err != nil {
			return fmt.Errorf("report.schedule: %w", err)
		}
	}

	c.Start()
	a.cron = c
	a.log.Info("schedules started",
		logx.String("health", cfg.Health.Schedule),
		logx.String("report", cfg.Report.Schedule),
	)
	return nil
}

// startWatchdog pings systemd at half the configured WatchdogSec. A
// no-op outside a systemd unit with a watchdog.
func (a *App) startWatchdog() {
	interval, err := sddaemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyWatchdog)
			}
		}
	})
}

// Stop winds the daemon down: cancel loops, stop cron, wait bounded,
// release the history store and the log file.
func (a *App) Stop(ctx context.Context) error {
	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	a.log.Info("stopping")

	if a.sup != nil {
		a.sup.Cancel()
	}
	if a.cron != nil {
		stopped := a.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			a.log.Warn("cron jobs still running at shutdown deadline")
		}
	}

	var err error
	if a.sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = a.sup.Wait(wctx)
		cancel()
	}
	if a.hist != nil {
		_ = a.hist.Close()
	}
	a.log.Info("stopped")
	_ = a.log.Close()
	return err
}
