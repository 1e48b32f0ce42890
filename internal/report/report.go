// Package report builds the weekly server health report sent to the
// Signal group.
package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Arch-Node/foundry-relay/internal/history"
)

const timestampFormat = "[2006-01-02 15:04:05]"

// archive naming shared with the backup package.
const (
	ArchivePrefix = "foundry_backup_"
	ArchiveSuffix = ".tar.gz"
)

// Summarizer is the probe-history view the report needs. Nil disables
// the reliability line.
type Summarizer interface {
	Summarize(ctx context.Context, since time.Time) (history.Summary, error)
}

// Builder assembles the report. The probe functions are fields so
// tests can pin every line without a real host.
type Builder struct {
	BackupDir     string
	ContainerName string
	History       Summarizer

	now            func() time.Time
	uptime         func(ctx context.Context) string
	containerImage func(ctx context.Context) string
	diskUsage      func(path string) (free, total uint64, err error)
}

func NewBuilder(backupDir, containerName string, hist Summarizer) *Builder {
	b := &Builder{
		BackupDir:     backupDir,
		ContainerName: containerName,
		History:       hist,
		now:           time.Now,
	}
	b.uptime = b.hostUptime
	b.containerImage = b.inspectImage
	b.diskUsage = statfsUsage
	return b
}

// Build renders the full report. Every line degrades to an error note
// rather than failing the whole report; a partially broken host is
// exactly when the report matters.
func (b *Builder) Build(ctx context.Context) string {
	parts := []string{
		"📋 **Weekly Server Health Report**",
		"Uptime: " + b.uptime(ctx),
		b.diskLine(),
		b.latestBackupLine(),
		b.containerImage(ctx),
	}
	if line := b.healthLine(ctx); line != "" {
		parts = append(parts, line)
	}
	parts = append(parts, "Report Time: "+b.now().Format(timestampFormat))
	return strings.Join(parts, "\n")
}

func (b *Builder) hostUptime(ctx context.Context) string {
	cmd := exec.CommandContext(ctx, "uptime", "-p")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "unavailable"
	}
	return strings.TrimSpace(stdout.String())
}

func (b *Builder) inspectImage(ctx context.Context) string {
	cmd := exec.CommandContext(ctx, "podman", "inspect", b.ContainerName,
		"--format", "{{ .Config.Image }}")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "Unable to get FoundryVTT container info."
	}
	return "Foundry Container Image: " + strings.TrimSpace(stdout.String())
}

func statfsUsage(path string) (free, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Bavail * bsize, st.Blocks * bsize, nil
}

func (b *Builder) diskLine() string {
	free, total, err := b.diskUsage(b.BackupDir)
	if err != nil {
		return fmt.Sprintf("Backup Drive: error checking space: %v", err)
	}
	const gib = 1 << 30
	return fmt.Sprintf("Backup Drive Free Space: %d GiB / %d GiB", free/gib, total/gib)
}

// LatestArchive returns the newest backup archive in dir by name order
// (names embed a sortable timestamp). ok=false when none exist.
func LatestArchive(dir string) (name string, mtime time.Time, ok bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, false
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, ArchivePrefix) && strings.HasSuffix(n, ArchiveSuffix) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "", time.Time{}, false
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	name = names[0]
	if info, err := os.Stat(filepath.Join(dir, name)); err == nil {
		mtime = info.ModTime()
	}
	return name, mtime, true
}

func (b *Builder) latestBackupLine() string {
	name, mtime, ok := LatestArchive(b.BackupDir)
	if !ok {
		return "No backups found!"
	}
	age := b.now().Sub(mtime)
	return fmt.Sprintf("Latest Backup: %s (%.1f days old)", name, age.Hours()/24)
}

func (b *Builder) healthLine(ctx context.Context) string {
	if b.History == nil {
		return ""
	}
	since := b.now().Add(-7 * 24 * time.Hour)
	sm, err := b.History.Summarize(ctx, since)
	if err != nil || sm.Rounds == 0 {
		return ""
	}
	line := fmt.Sprintf("Health Checks (7d): %d/%d healthy", sm.Healthy, sm.Rounds)
	if !sm.LastFailure.IsZero() {
		line += fmt.Sprintf(", last failure %s", sm.LastFailure.Format("2006-01-02 15:04"))
	}
	return line
}
