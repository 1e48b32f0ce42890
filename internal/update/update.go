// Package update checks the FoundryVTT container image against the
// available release and performs a backup-first update.
package update

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Arch-Node/foundry-relay/internal/signalcli"
	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

// The container serves FoundryVTT on this port; the published host
// side comes from config.
const containerPort = 30000

// Config for the update flow. Zero values fall back to the standard
// deployment.
type Config struct {
	// ContainerName of the running FoundryVTT container.
	ContainerName string
	// Image is the release image pulled on update.
	Image string
	// HostPort is published for the container's web endpoint.
	HostPort int
}

// Backuper takes the pre-update backup. The update aborts when it
// fails.
type Backuper interface {
	Create(ctx context.Context) (string, error)
}

type Updater struct {
	cfg      Config
	notifier *signalcli.Notifier
	backup   Backuper
	log      logx.Logger

	// run and available are swappable for tests; production execs
	// podman and asks the release channel.
	run       func(ctx context.Context, argv ...string) (string, error)
	available func(ctx context.Context) (string, error)
}

func New(cfg Config, notifier *signalcli.Notifier, backup Backuper, log logx.Logger) *Updater {
	if cfg.ContainerName == "" {
		cfg.ContainerName = "foundryvtt"
	}
	if cfg.Image == "" {
		cfg.Image = "felddy/foundryvtt:release"
	}
	if cfg.HostPort <= 0 {
		cfg.HostPort = 29000
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	u := &Updater{cfg: cfg, notifier: notifier, backup: backup, log: log}
	u.run = execRun
	u.available = noRelease
	return u
}

func execRun(ctx context.Context, argv ...string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// noRelease reports no newer version, making Check a no-op.
// TODO: query the FoundryVTT release API.
func noRelease(ctx context.Context) (string, error) {
	return "", nil
}

// CurrentVersion returns the image the running container was created
// from.
func (u *Updater) CurrentVersion(ctx context.Context) (string, error) {
	return u.run(ctx, "podman", "inspect", u.cfg.ContainerName, "--format", "{{ .Config.Image }}")
}

// AvailableVersion asks for the newest published release image.
func (u *Updater) AvailableVersion(ctx context.Context) (string, error) {
	return u.available(ctx)
}

// Check runs the full flow: compare versions, and when a newer release
// exists, announce, back up, update, announce again. A backup failure
// aborts before anything is touched.
func (u *Updater) Check(ctx context.Context) error {
	current, err := u.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("current version: %w", err)
	}
	u.log.Info("current container image", logx.String("image", current))

	available, err := u.AvailableVersion(ctx)
	if err != nil {
		return fmt.Errorf("available version: %w", err)
	}
	if available == "" || available == current {
		u.log.Info("no new FoundryVTT version detected")
		return nil
	}

	_ = u.notifier.Notify(ctx, fmt.Sprintf(
		"🔔 New FoundryVTT version available: %s. Backing up and updating...", available))

	if _, err := u.backup.Create(ctx); err != nil {
		u.log.Error("pre-update backup failed", logx.Err(err))
		_ = u.notifier.Notify(ctx, "⚠️ Backup failed! Aborting update.")
		return fmt.Errorf("pre-update backup: %w", err)
	}
	_ = u.notifier.Notify(ctx, "✅ Backup successful. Updating container...")

	if err := u.replaceContainer(ctx); err != nil {
		return err
	}
	_ = u.notifier.Notify(ctx, "🚀 FoundryVTT container updated and restarted.")
	return nil
}

func (u *Updater) replaceContainer(ctx context.Context) error {
	steps := [][]string{
		{"podman", "pull", u.cfg.Image},
		{"podman", "stop", u.cfg.ContainerName},
		{"podman", "rm", u.cfg.ContainerName},
		{"podman", "run", "-d", "--name", u.cfg.ContainerName,
			"-p", fmt.Sprintf("%d:%d", u.cfg.HostPort, containerPort), u.cfg.Image},
	}
	for _, argv := range steps {
		if _, err := u.run(ctx, argv...); err != nil {
			return fmt.Errorf("update step %q: %w", strings.Join(argv, " "), err)
		}
	}
	return nil
}
