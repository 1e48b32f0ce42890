// Package history keeps a small SQLite log of health probe outcomes.
// The weekly report reads it to summarize reliability; nothing else in
// the relay depends on it, and the daemon runs fine without it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Arch-Node/foundry-relay/internal/health"
)

const schema = `
CREATE TABLE IF NOT EXISTS probe_rounds (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	at           TEXT    NOT NULL,
	container_ok INTEGER NOT NULL,
	web_ok       INTEGER NOT NULL,
	healthy      INTEGER NOT NULL,
	attempt      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_probe_rounds_at ON probe_rounds(at);
`

// retention bounds how far back the table is kept. Pruning happens
// opportunistically every pruneEvery writes.
const retention = 90 * 24 * time.Hour

var ErrClosed = errors.New("history store closed")

type Store struct {
	db *sql.DB

	opCount    atomic.Uint64
	pruneEvery uint64
}

var _ health.Recorder = (*Store)(nil)

// Open creates (or opens) the probe history database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &Store{db: db, pruneEvery: 500}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends one probe round.
func (s *Store) Record(ctx context.Context, at time.Time, st health.State) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO probe_rounds(at, container_ok, web_ok, healthy, attempt)
		 VALUES(?,?,?,?,?)`,
		at.UTC().Format(time.RFC3339Nano), st.ContainerOK, st.WebOK, st.Healthy(), st.Attempt,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *Store) pruneExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `DELETE FROM probe_rounds WHERE at < ?`, cutoff)
	return err
}

// Summary aggregates probe rounds since the given time.
type Summary struct {
	Rounds      int
	Healthy     int
	LastFailure time.Time
}

func (sm Summary) FailureRounds() int { return sm.Rounds - sm.Healthy }

func (s *Store) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	if s == nil || s.db == nil {
		return Summary{}, ErrClosed
	}
	lower := since.UTC().Format(time.RFC3339Nano)

	var sm Summary
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(healthy), 0) FROM probe_rounds WHERE at >= ?`, lower)
	if err := row.Scan(&sm.Rounds, &sm.Healthy); err != nil {
		return Summary{}, err
	}

	var lastFail sql.NullString
	row = s.db.QueryRowContext(ctx,
		`SELECT MAX(at) FROM probe_rounds WHERE at >= ? AND healthy = 0`, lower)
	if err := row.Scan(&lastFail); err != nil {
		return Summary{}, err
	}
	if lastFail.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastFail.String); err == nil {
			sm.LastFailure = t
		}
	}
	return sm, nil
}
