package actions

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxOutputBytes = 64 * 1024

// ExecError reports a dispatched action whose process exited non-zero.
// The dispatcher logs it without replying to the sender.
type ExecError struct {
	Command  Command
	ExitCode int
	Output   string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("action %q: exit %d", e.Command, e.ExitCode)
}

// ErrNoBinding marks commands that are not external actions (help and
// health are composed inside the relay).
var ErrNoBinding = errors.New("command has no external action binding")

// Result carries the outcome of one action process.
type Result struct {
	ExitCode int
	Output   string
	Took     time.Duration
}

// Runner is the injected action capability: one bounded, synchronous
// process per accepted command. The relay core never execs directly.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Config for the exec-backed runner.
type Config struct {
	// FoundryScript handles status/restart/backup.
	FoundryScript string
	// BackupDir is what "foundry space" reports on.
	BackupDir string
	// Timeout bounds every action process. 0 means 2 minutes.
	Timeout time.Duration
}

// ExecRunner runs the real host commands. Every binding is a fixed
// argv; nothing from the message body ever reaches the command line.
type ExecRunner struct {
	cfg Config
}

var _ Runner = (*ExecRunner)(nil)

func NewExecRunner(cfg Config) *ExecRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &ExecRunner{cfg: cfg}
}

func (r *ExecRunner) argv(cmd Command) ([]string, error) {
	switch cmd {
	case CmdStatus:
		return []string{r.cfg.FoundryScript, "status"}, nil
	case CmdRestart:
		return []string{r.cfg.FoundryScript, "restart"}, nil
	case CmdBackup:
		return []string{r.cfg.FoundryScript, "backup"}, nil
	case CmdUptime:
		return []string{"uptime"}, nil
	case CmdSpace:
		return []string{"df", "-h", r.cfg.BackupDir}, nil
	case CmdReboot:
		return []string{"sudo", "reboot"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoBinding, cmd)
	}
}

// Run executes the bound process and blocks until it returns. A
// non-zero exit comes back as *ExecError with the (truncated) combined
// output attached.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	argv, err := r.argv(cmd)
	if err != nil {
		return Result{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	proc := exec.CommandContext(cctx, argv[0], argv[1:]...)
	out, err := proc.CombinedOutput()
	took := time.Since(start)

	output := string(out)
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n... (output truncated at 64KB)"
	}

	res := Result{ExitCode: 0, Output: output, Took: took}
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			res.ExitCode = -1
			return res, fmt.Errorf("action %q: timed out after %s", cmd, r.cfg.Timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExecError{Command: cmd, ExitCode: exitErr.ExitCode(), Output: strings.TrimSpace(output)}
		}
		res.ExitCode = -1
		return res, fmt.Errorf("action %q: %w", cmd, err)
	}
	return res, nil
}
