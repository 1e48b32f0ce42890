// Package backup creates and rotates FoundryVTT data archives and
// hands finished archives to an optional external uploader.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Arch-Node/foundry-relay/internal/report"
	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

type Config struct {
	// Dir receives the archives.
	Dir string
	// DataDir is the FoundryVTT data directory being archived.
	DataDir string
	// Keep bounds retained archives; 0 keeps all.
	Keep int
	// UploadCommand, when non-empty, runs after a successful archive
	// with the archive path appended (e.g. "rclone copy"). The
	// uploader is an opaque external program.
	UploadCommand string
}

type Service struct {
	cfg Config
	log logx.Logger
	now func() time.Time
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("backup dir is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, errors.New("backup data dir is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, now: time.Now}, nil
}

// ArchiveName renders the timestamped archive file name.
func ArchiveName(at time.Time) string {
	return report.ArchivePrefix + at.Format("20060102_150405") + report.ArchiveSuffix
}

// Create archives the data directory into the backup dir and returns
// the archive path. Upload (if configured) happens after a successful
// archive; an upload failure is logged but does not fail the backup,
// the local copy being the one that matters.
func (s *Service) Create(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("backup dir: %w", err)
	}
	path := filepath.Join(s.cfg.Dir, ArchiveName(s.now()))

	cmd := exec.CommandContext(ctx, "tar", "czf", path, s.cfg.DataDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		// Remove the partial archive so it never looks like a backup.
		_ = os.Remove(path)
		return "", fmt.Errorf("tar: %w: %s", err, strings.TrimSpace(string(out)))
	}
	s.log.Info("backup archive created", logx.String("path", path))

	if s.cfg.UploadCommand != "" {
		s.upload(ctx, path)
	}
	if s.cfg.Keep > 0 {
		if removed, err := s.Prune(); err != nil {
			s.log.Warn("backup prune failed", logx.Err(err))
		} else if removed > 0 {
			s.log.Info("old backups pruned", logx.Int("removed", removed))
		}
	}
	return path, nil
}

func (s *Service) upload(ctx context.Context, path string) {
	argv := strings.Fields(s.cfg.UploadCommand)
	if len(argv) == 0 {
		return
	}
	argv = append(argv, path)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		s.log.Warn("backup upload failed",
			logx.String("path", path),
			logx.Err(err),
			logx.String("output", strings.TrimSpace(string(out))),
		)
		return
	}
	s.log.Info("backup uploaded", logx.String("path", path))
}

// Prune removes the oldest archives beyond the configured Keep count
// and returns how many were removed.
func (s *Service) Prune() (int, error) {
	if s.cfg.Keep <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, report.ArchivePrefix) && strings.HasSuffix(n, report.ArchiveSuffix) {
			names = append(names, n)
		}
	}
	if len(names) <= s.cfg.Keep {
		return 0, nil
	}
	// Names embed the timestamp, so lexical order is age order.
	sort.Strings(names)
	doomed := names[:len(names)-s.cfg.Keep]
	removed := 0
	for _, n := range doomed {
		if err := os.Remove(filepath.Join(s.cfg.Dir, n)); err == nil {
			removed++
		}
	}
	return removed, nil
}
