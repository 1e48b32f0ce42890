// foundryctl exposes the relay's one-shot operations for cron jobs and
// manual use: send a message, run a health check, build the weekly
// report, create a backup, check for container updates.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Arch-Node/foundry-relay/internal/backup"
	"github.com/Arch-Node/foundry-relay/internal/config"
	"github.com/Arch-Node/foundry-relay/internal/health"
	"github.com/Arch-Node/foundry-relay/internal/history"
	"github.com/Arch-Node/foundry-relay/internal/report"
	"github.com/Arch-Node/foundry-relay/internal/signalcli"
	"github.com/Arch-Node/foundry-relay/internal/update"
	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

const usage = `usage: foundryctl [-config path] <command> [args]

commands:
  notify <message>   send a message to the Signal group
  health             run one health check cycle (alerts on failure)
  report             build the weekly report and send it
  backup             create a backup archive (and upload if configured)
  update             check for a new container release and update
`

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./foundry-relay.yaml", "path to config yaml")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logx.NewConsole(cfg.Logging.Level)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, log, args[0], args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, args[0]+":", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logx.Logger, cmd string, args []string) error {
	receiveTimeout, err := config.ParseDurationOrDefault("signal.receive_timeout", cfg.Signal.ReceiveTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	transport, err := signalcli.New(signalcli.Config{
		Path:           cfg.Signal.CLIPath,
		User:           cfg.Signal.User,
		Group:          cfg.Signal.Group,
		ReceiveTimeout: receiveTimeout,
	})
	if err != nil {
		return err
	}
	notifier := signalcli.NewNotifier(transport, log.With(logx.String("comp", "notifier")))

	switch cmd {
	case "notify":
		if len(args) == 0 {
			return fmt.Errorf("usage: foundryctl notify <message>")
		}
		return notifier.Notify(ctx, strings.Join(args, " "))

	case "health":
		return runHealth(ctx, cfg, notifier, log)

	case "report":
		var summarizer report.Summarizer
		if cfg.History.Path != "" {
			hist, err := history.Open(cfg.History.Path)
			if err != nil {
				log.Warn("probe history unavailable", logx.Err(err))
			} else {
				defer hist.Close()
				summarizer = hist
			}
		}
		b := report.NewBuilder(cfg.Backup.Dir, cfg.Health.ContainerName, summarizer)
		return notifier.Notify(ctx, b.Build(ctx))

	case "backup":
		svc, err := backup.New(backup.Config{
			Dir:           cfg.Backup.Dir,
			DataDir:       cfg.Backup.DataDir,
			Keep:          cfg.Backup.Keep,
			UploadCommand: cfg.Backup.UploadCommand,
		}, log.With(logx.String("comp", "backup")))
		if err != nil {
			return err
		}
		path, err := svc.Create(ctx)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	case "update":
		svc, err := backup.New(backup.Config{
			Dir:           cfg.Backup.Dir,
			DataDir:       cfg.Backup.DataDir,
			Keep:          cfg.Backup.Keep,
			UploadCommand: cfg.Backup.UploadCommand,
		}, log.With(logx.String("comp", "backup")))
		if err != nil {
			return err
		}
		u := update.New(update.Config{
			ContainerName: cfg.Health.ContainerName,
			HostPort:      cfg.Health.Port,
		}, notifier, svc, log.With(logx.String("comp", "update")))
		return u.Check(ctx)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runHealth(ctx context.Context, cfg *config.Config, notifier *signalcli.Notifier, log logx.Logger) error {
	webTimeout, err := config.ParseDurationOrDefault("health.web_timeout", cfg.Health.WebTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	retryInterval, err := config.ParseDurationOrDefault("health.retry_interval", cfg.Health.RetryInterval, 5*time.Second)
	if err != nil {
		return err
	}

	var opts []health.MonitorOption
	if cfg.History.Path != "" {
		hist, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Warn("probe history unavailable", logx.Err(err))
		} else {
			defer hist.Close()
			opts = append(opts, health.WithRecorder(hist))
		}
	}

	prober := health.NewHostProber(cfg.Health.ContainerName, cfg.Health.Port, webTimeout)
	monitor := health.NewMonitor(prober, notifier, cfg.Health.Retries, retryInterval,
		log.With(logx.String("comp", "health")), opts...)

	if _, ok := monitor.Check(ctx); !ok {
		return fmt.Errorf("health check failed")
	}
	return nil
}
