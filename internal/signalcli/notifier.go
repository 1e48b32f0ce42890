package signalcli

import (
	"context"

	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

// Notifier is the outbound side of the relay: one "send text to the
// group" operation, fire-and-forget. Failures are logged and returned;
// they are never retried here. A failed alert about a failure must not
// cascade into a retry storm.
type Notifier struct {
	t   Transport
	log logx.Logger
}

func NewNotifier(t Transport, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{t: t, log: log}
}

// Notify sends text to the configured group. The returned error is
// informational; every caller in the relay treats it as non-fatal.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if err := n.t.Send(ctx, text); err != nil {
		n.log.Warn("notification send failed", logx.Err(err))
		return err
	}
	n.log.Debug("notification sent", logx.Int("bytes", len(text)))
	return nil
}
