// Package relay is the command & alert core: it polls the transport
// for inbound envelopes, authorizes senders, dispatches the fixed
// command vocabulary and reports back through the outbound notifier.
package relay

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Arch-Node/foundry-relay/internal/actions"
	"github.com/Arch-Node/foundry-relay/internal/signalcli"
	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

// Prefix marks a message body as a command candidate. Bodies without
// it are ordinary chat and never get a reply.
const Prefix = "!"

// Notifier is the outbound channel. Send failures are logged by the
// implementation and treated as non-fatal here.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// HealthCheckFunc runs one full monitor cycle on demand. The monitor
// owns its own alerting; the dispatcher only cares that it ran.
type HealthCheckFunc func(ctx context.Context) bool

// Config carries the relay's tunables, resolved from the daemon config.
type Config struct {
	// AllowedSenders is the initial allow-list; see SetAllowedSenders
	// for hot reload.
	AllowedSenders []string
	// PollInterval is the fixed sleep between receive cycles,
	// regardless of how many envelopes a cycle produced.
	PollInterval time.Duration
	// RatePerMin caps accepted command candidates per sender per
	// minute. 0 disables throttling.
	RatePerMin int
	// ConfirmWindow is how long an armed reboot waits for its
	// confirming second command.
	ConfirmWindow time.Duration
}

// Relay wires poller, guard and dispatcher. One instance, one logical
// thread: envelopes are handled strictly in receipt order and actions
// never overlap.
type Relay struct {
	transport signalcli.Transport
	notifier  Notifier
	runner    actions.Runner
	health    HealthCheckFunc
	log       logx.Logger

	pollInterval  time.Duration
	ratePerMin    int
	confirmWindow time.Duration

	mu       sync.RWMutex
	allowed  map[string]struct{}
	limiters map[string]*rate.Limiter

	// rebootArmedAt is the zero time when no reboot is pending.
	rebootArmedAt time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, transport signalcli.Transport, notifier Notifier, runner actions.Runner, health HealthCheckFunc, log logx.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Relay{
		transport:     transport,
		notifier:      notifier,
		runner:        runner,
		health:        health,
		log:           log,
		pollInterval:  cfg.PollInterval,
		ratePerMin:    cfg.RatePerMin,
		confirmWindow: cfg.ConfirmWindow,
		allowed:       map[string]struct{}{},
		limiters:      map[string]*rate.Limiter{},
		now:           time.Now,
		sleep:         ctxSleep,
	}
	r.SetAllowedSenders(cfg.AllowedSenders)
	return r
}

// SetAllowedSenders replaces the allow-list. Called from config hot
// reload; takes effect for the next envelope. Limiter state for
// de-listed senders is dropped with them.
func (r *Relay) SetAllowedSenders(senders []string) {
	next := make(map[string]struct{}, len(senders))
	for _, s := range senders {
		if s != "" {
			next[s] = struct{}{}
		}
	}
	r.mu.Lock()
	r.allowed = next
	for s := range r.limiters {
		if _, ok := next[s]; !ok {
			delete(r.limiters, s)
		}
	}
	r.mu.Unlock()
}

func (r *Relay) isAllowed(sender string) bool {
	r.mu.RLock()
	_, ok := r.allowed[sender]
	r.mu.RUnlock()
	return ok
}

// limiter returns the per-sender rate limiter, or nil when throttling
// is disabled. Only allow-listed senders reach this point, so the map
// stays small.
func (r *Relay) limiter(sender string) *rate.Limiter {
	if r.ratePerMin <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[sender]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(r.ratePerMin)/60.0), r.ratePerMin)
		r.limiters[sender] = lim
	}
	return lim
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run is the inbound poller loop. Each cycle: one bounded receive
// call, every decoded envelope handled in order, then the fixed poll
// sleep. Nothing in a cycle is allowed to crash the loop; it exits
// only when ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("relay started",
		logx.Duration("poll_interval", r.pollInterval),
		logx.Int("rate_per_min", r.ratePerMin),
	)
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := r.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("receive cycle failed", logx.Err(err))
		} else {
			for _, raw := range res.Malformed {
				r.log.Warn("discarding malformed inbound line", logx.String("raw", raw))
			}
			for _, env := range res.Envelopes {
				r.handle(ctx, env)
			}
		}

		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return nil
		}
	}
}

// RunOnce processes a single receive cycle without the poll sleep.
func (r *Relay) RunOnce(ctx context.Context) error {
	res, err := r.transport.Receive(ctx)
	if err != nil {
		return err
	}
	for _, raw := range res.Malformed {
		r.log.Warn("discarding malformed inbound line", logx.String("raw", raw))
	}
	for _, env := range res.Envelopes {
		r.handle(ctx, env)
	}
	return nil
}
