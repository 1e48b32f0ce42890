package health

import (
	"context"
	"testing"
	"time"

	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

// scriptedProber returns canned results per attempt; past the script it
// repeats the last entry.
type scriptedProber struct {
	rounds [][2]bool
	calls  int
}

func (p *scriptedProber) next() [2]bool {
	i := p.calls
	if i >= len(p.rounds) {
		i = len(p.rounds) - 1
	}
	return p.rounds[i]
}

func (p *scriptedProber) CheckContainer(ctx context.Context) bool {
	return p.next()[0]
}

func (p *scriptedProber) CheckWeb(ctx context.Context) bool {
	ok := p.next()[1]
	p.calls++ // web is checked second; advance after the pair
	return ok
}

type recordingAlerter struct {
	alerts []string
}

func (a *recordingAlerter) Notify(ctx context.Context, text string) error {
	a.alerts = append(a.alerts, text)
	return nil
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func TestMonitorExhaustsRetriesThenAlertsOnce(t *testing.T) {
	t.Parallel()

	prober := &scriptedProber{rounds: [][2]bool{{false, false}}}
	alerter := &recordingAlerter{}
	sleeper := &recordingSleeper{}

	m := NewMonitor(prober, alerter, 3, 5*time.Second, logx.Nop(), WithSleep(sleeper.sleep))
	st, ok := m.Check(context.Background())

	if ok {
		t.Fatal("Check reported success for an always-failing prober")
	}
	if prober.calls != 3 {
		t.Fatalf("probe rounds = %d, want exactly 3", prober.calls)
	}
	if len(sleeper.slept) != 2 {
		t.Fatalf("sleeps = %d, want 2 (between rounds only)", len(sleeper.slept))
	}
	for _, d := range sleeper.slept {
		if d != 5*time.Second {
			t.Fatalf("sleep = %v, want fixed 5s", d)
		}
	}
	if len(alerter.alerts) != 1 || alerter.alerts[0] != AlertText {
		t.Fatalf("alerts = %q, want exactly one fixed alert", alerter.alerts)
	}
	if st.Attempt != 3 || st.MaxAttempts != 3 {
		t.Fatalf("final state = %+v", st)
	}
}

func TestMonitorStopsOnRecovery(t *testing.T) {
	t.Parallel()

	prober := &scriptedProber{rounds: [][2]bool{{false, true}, {true, true}}}
	alerter := &recordingAlerter{}
	sleeper := &recordingSleeper{}

	m := NewMonitor(prober, alerter, 3, 5*time.Second, logx.Nop(), WithSleep(sleeper.sleep))
	st, ok := m.Check(context.Background())

	if !ok {
		t.Fatal("Check reported failure despite recovery on attempt 2")
	}
	if prober.calls != 2 {
		t.Fatalf("probe rounds = %d, want 2", prober.calls)
	}
	if len(sleeper.slept) != 1 {
		t.Fatalf("sleeps = %d, want 1", len(sleeper.slept))
	}
	if len(alerter.alerts) != 0 {
		t.Fatalf("alerts = %q, want none", alerter.alerts)
	}
	if !st.Healthy() || st.Attempt != 2 {
		t.Fatalf("final state = %+v", st)
	}
}

func TestMonitorImmediateSuccess(t *testing.T) {
	t.Parallel()

	prober := &scriptedProber{rounds: [][2]bool{{true, true}}}
	alerter := &recordingAlerter{}
	sleeper := &recordingSleeper{}

	m := NewMonitor(prober, alerter, 3, 5*time.Second, logx.Nop(), WithSleep(sleeper.sleep))
	_, ok := m.Check(context.Background())

	if !ok || prober.calls != 1 || len(sleeper.slept) != 0 || len(alerter.alerts) != 0 {
		t.Fatalf("ok=%v rounds=%d sleeps=%d alerts=%d, want immediate clean success",
			ok, prober.calls, len(sleeper.slept), len(alerter.alerts))
	}
}

func TestMonitorAbortsOnCanceledSleep(t *testing.T) {
	t.Parallel()

	prober := &scriptedProber{rounds: [][2]bool{{false, false}}}
	alerter := &recordingAlerter{}

	m := NewMonitor(prober, alerter, 3, 5*time.Second, logx.Nop(),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			return context.Canceled
		}))
	_, ok := m.Check(context.Background())

	if ok {
		t.Fatal("Check reported success after canceled cycle")
	}
	// Shutdown mid-cycle must not page anyone.
	if len(alerter.alerts) != 0 {
		t.Fatalf("alerts = %q, want none on cancellation", alerter.alerts)
	}
	if prober.calls != 1 {
		t.Fatalf("probe rounds = %d, want 1", prober.calls)
	}
}

type memRecorder struct {
	states []State
}

func (r *memRecorder) Record(ctx context.Context, at time.Time, s State) error {
	r.states = append(r.states, s)
	return nil
}

func TestMonitorRecordsEveryRound(t *testing.T) {
	t.Parallel()

	prober := &scriptedProber{rounds: [][2]bool{{false, false}, {true, true}}}
	rec := &memRecorder{}
	m := NewMonitor(prober, &recordingAlerter{}, 3, time.Second, logx.Nop(),
		WithSleep((&recordingSleeper{}).sleep), WithRecorder(rec))

	m.Check(context.Background())

	if len(rec.states) != 2 {
		t.Fatalf("recorded rounds = %d, want 2", len(rec.states))
	}
	if rec.states[0].Healthy() || !rec.states[1].Healthy() {
		t.Fatalf("recorded states = %+v", rec.states)
	}
}
