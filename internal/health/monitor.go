package health

import (
	"context"
	"time"

	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

// AlertText is the fixed high-urgency escalation message. On-call
// operators grep for it; do not reword casually.
const AlertText = "🚨 FoundryVTT Health Check FAILED after retries! Immediate attention needed!"

// State is the outcome of one probe round. It lives for the duration
// of a single check cycle and is never persisted by the monitor.
type State struct {
	ContainerOK bool
	WebOK       bool
	Attempt     int
	MaxAttempts int
}

func (s State) Healthy() bool { return s.ContainerOK && s.WebOK }

// Alerter is the outbound escalation channel (signalcli.Notifier in
// production). Send failure is non-fatal.
type Alerter interface {
	Notify(ctx context.Context, text string) error
}

// Recorder persists probe outcomes for the weekly report. Optional.
type Recorder interface {
	Record(ctx context.Context, at time.Time, s State) error
}

// SleepFunc waits between attempts. The default honors ctx; tests
// inject a recording fake so a full retry cycle runs in microseconds.
type SleepFunc func(ctx context.Context, d time.Duration) error

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

// Monitor retries the prober with a fixed interval and escalates after
// exhausting the bounded attempts. No exponential backoff: attempts
// are minutes apart at most and the alerting threshold must stay
// predictable for whoever is on call.
type Monitor struct {
	prober   Prober
	alerter  Alerter
	recorder Recorder
	log      logx.Logger

	maxAttempts int
	interval    time.Duration
	sleep       SleepFunc
	now         func() time.Time
}

type MonitorOption func(*Monitor)

func WithSleep(fn SleepFunc) MonitorOption {
	return func(m *Monitor) { m.sleep = fn }
}

func WithClock(fn func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = fn }
}

func WithRecorder(r Recorder) MonitorOption {
	return func(m *Monitor) { m.recorder = r }
}

func NewMonitor(prober Prober, alerter Alerter, maxAttempts int, interval time.Duration, log logx.Logger, opts ...MonitorOption) *Monitor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Monitor{
		prober:      prober,
		alerter:     alerter,
		log:         log,
		maxAttempts: maxAttempts,
		interval:    interval,
		sleep:       ctxSleep,
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Check runs one full cycle: at most maxAttempts probe rounds with the
// fixed interval between them. Both checks passing ends the cycle
// immediately with ok=true; exhausting the attempts emits exactly one
// alert and returns ok=false. The returned state is the last round's.
func (m *Monitor) Check(ctx context.Context) (State, bool) {
	var st State
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		m.log.Info("health check attempt", logx.Int("attempt", attempt), logx.Int("max", m.maxAttempts))

		st = State{
			ContainerOK: m.prober.CheckContainer(ctx),
			WebOK:       m.prober.CheckWeb(ctx),
			Attempt:     attempt,
			MaxAttempts: m.maxAttempts,
		}
		m.record(ctx, st)

		if st.Healthy() {
			m.log.Info("container and web server are healthy")
			return st, true
		}

		m.log.Warn("health check partial result",
			logx.Int("attempt", attempt),
			logx.Bool("container_ok", st.ContainerOK),
			logx.Bool("web_ok", st.WebOK),
		)

		if attempt < m.maxAttempts {
			if err := m.sleep(ctx, m.interval); err != nil {
				// Shutdown mid-cycle: report failure without alerting.
				return st, false
			}
		}
	}

	m.log.Error("health check failed after retries",
		logx.Int("attempts", m.maxAttempts),
		logx.Bool("container_ok", st.ContainerOK),
		logx.Bool("web_ok", st.WebOK),
	)
	if m.alerter != nil {
		_ = m.alerter.Notify(ctx, AlertText)
	}
	return st, false
}

func (m *Monitor) record(ctx context.Context, st State) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(ctx, m.now(), st); err != nil {
		m.log.Warn("probe history write failed", logx.Err(err))
	}
}
