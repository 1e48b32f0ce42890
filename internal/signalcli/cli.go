package signalcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const maxOutputBytes = 64 * 1024

// SendError wraps a failed outbound send. Callers treat it as
// non-fatal: log and continue, never crash the host loop over a failed
// notification.
type SendError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SendError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("signal-cli send: exit %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("signal-cli send: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Config for the CLI transport.
type Config struct {
	// Path of the signal-cli binary.
	Path string
	// User is the account identity (-u).
	User string
	// Group is the destination group for Send.
	Group string
	// ReceiveTimeout bounds one receive call; signal-cli takes it in
	// whole seconds.
	ReceiveTimeout time.Duration
}

// CLI shells out to signal-cli. One receive call per Receive(), one
// send call per Send(); no session state is held between calls.
type CLI struct {
	cfg Config
	now func() time.Time
}

var _ Transport = (*CLI)(nil)

func New(cfg Config) (*CLI, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("signal-cli path is empty")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return nil, errors.New("signal-cli user is empty")
	}
	if strings.TrimSpace(cfg.Group) == "" {
		return nil, errors.New("signal-cli receiver group is empty")
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = 5 * time.Second
	}
	return &CLI{cfg: cfg, now: time.Now}, nil
}

func (c *CLI) Receive(ctx context.Context) (ReceiveResult, error) {
	secs := int(c.cfg.ReceiveTimeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	// Give the process a grace margin over its own -t timeout before
	// the context kills it.
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiveTimeout+10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, c.cfg.Path,
		"-u", c.cfg.User,
		"receive",
		"-t", strconv.Itoa(secs),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cctx.Err() != nil {
			return ReceiveResult{}, fmt.Errorf("signal-cli receive: %w", cctx.Err())
		}
		return ReceiveResult{}, fmt.Errorf("signal-cli receive: %w: %s", err, truncate(stderr.String()))
	}
	return DecodeStream(&stdout, c.now), nil
}

func (c *CLI) Send(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, c.cfg.Path,
		"-u", c.cfg.User,
		"send",
		"--message", text,
		"--receiver-group", c.cfg.Group,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &SendError{ExitCode: exitErr.ExitCode(), Stderr: truncate(stderr.String()), Err: err}
	}
	return &SendError{ExitCode: -1, Err: err}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes] + "... (truncated)"
	}
	return s
}
