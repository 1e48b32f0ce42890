package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Arch-Node/foundry-relay/internal/actions"
	"github.com/Arch-Node/foundry-relay/internal/signalcli"
	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

const deniedText = "Unauthorized sender. Access denied."

// ParseCommand extracts the command candidate from a message body:
// the body must start with the prefix, and the remainder is trimmed of
// surrounding whitespace. ok=false means ordinary chat.
func ParseCommand(body string) (string, bool) {
	if !strings.HasPrefix(body, Prefix) {
		return "", false
	}
	return strings.TrimSpace(body[len(Prefix):]), true
}

// HelpText lists the full vocabulary. Built from the same table the
// dispatcher matches against, so help can never drift from reality.
func HelpText() string {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, c := range actions.Vocabulary() {
		b.WriteString("\n")
		b.WriteString(Prefix)
		b.WriteString(string(c))
	}
	return b.String()
}

// handle takes one envelope through guard, parser and dispatcher.
// Authorization is decided on identity alone, before any parsing: an
// unknown sender gets exactly one denial no matter what the body says.
func (r *Relay) handle(ctx context.Context, env signalcli.Envelope) {
	if !r.isAllowed(env.Sender) {
		r.log.Warn("unauthorized sender rejected", logx.String("sender", env.Sender))
		_ = r.notifier.Notify(ctx, deniedText)
		return
	}

	candidate, ok := ParseCommand(env.Body)
	if !ok {
		// Ordinary chat in a shared group. Stay quiet.
		return
	}

	cmd, ok := actions.Lookup(candidate)
	if !ok {
		r.log.Info("invalid command", logx.String("sender", env.Sender), logx.String("command", candidate))
		_ = r.notifier.Notify(ctx, fmt.Sprintf("Invalid command '%s'. Send '%sfoundry help' for options.", candidate, Prefix))
		return
	}

	// Throttling applies to recognized commands only; the one
	// invalid-command reply above always goes out.
	if lim := r.limiter(env.Sender); lim != nil && !lim.Allow() {
		r.log.Warn("command throttled", logx.String("sender", env.Sender), logx.String("command", candidate))
		return
	}

	r.log.Info("command received",
		logx.String("sender", env.Sender),
		logx.String("command", string(cmd)),
		logx.Time("received_at", env.ReceivedAt),
	)
	r.dispatch(ctx, cmd)
}

// dispatch executes the bound action synchronously. Commands are never
// fanned out: the caller is the single poller goroutine, so at most
// one administrative action is in flight at any time.
func (r *Relay) dispatch(ctx context.Context, cmd actions.Command) {
	switch cmd {
	case actions.CmdHelp:
		_ = r.notifier.Notify(ctx, HelpText())
	case actions.CmdHealth:
		if r.health != nil {
			// The monitor does its own alerting on failure.
			r.health(ctx)
		}
	case actions.CmdReboot:
		r.dispatchReboot(ctx)
	default:
		r.runAction(ctx, cmd)
	}
}

// dispatchReboot is the two-step confirmation around the one
// irreversible command. The first request arms a window; only an
// identical request inside the window executes.
func (r *Relay) dispatchReboot(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	armed := !r.rebootArmedAt.IsZero() && now.Sub(r.rebootArmedAt) <= r.confirmWindow
	if armed {
		r.rebootArmedAt = time.Time{}
	} else {
		r.rebootArmedAt = now
	}
	r.mu.Unlock()

	if !armed {
		r.log.Warn("reboot requested, awaiting confirmation", logx.Duration("window", r.confirmWindow))
		_ = r.notifier.Notify(ctx, fmt.Sprintf(
			"Reboot requested. Send '%s%s' again within %s to confirm.",
			Prefix, actions.CmdReboot, r.confirmWindow))
		return
	}

	r.log.Warn("reboot confirmed, executing")
	r.runAction(ctx, actions.CmdReboot)
}

// runAction invokes the runner and logs the outcome. Execution
// failures are logged, not reported back to the sender.
func (r *Relay) runAction(ctx context.Context, cmd actions.Command) {
	res, err := r.runner.Run(ctx, cmd)
	if err != nil {
		var execErr *actions.ExecError
		if errors.As(err, &execErr) {
			r.log.Error("action failed",
				logx.String("command", string(cmd)),
				logx.Int("exit_code", execErr.ExitCode),
				logx.String("output", execErr.Output),
			)
			return
		}
		r.log.Error("action error", logx.String("command", string(cmd)), logx.Err(err))
		return
	}
	r.log.Info("action completed",
		logx.String("command", string(cmd)),
		logx.Duration("took", res.Took),
	)
}
