package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Arch-Node/foundry-relay/internal/actions"
	"github.com/Arch-Node/foundry-relay/internal/signalcli"
	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

type fakeTransport struct {
	batches []signalcli.ReceiveResult
	i       int
}

func (f *fakeTransport) Receive(ctx context.Context) (signalcli.ReceiveResult, error) {
	if f.i >= len(f.batches) {
		return signalcli.ReceiveResult{}, nil
	}
	b := f.batches[f.i]
	f.i++
	return b, nil
}

func (f *fakeTransport) Send(ctx context.Context, text string) error { return nil }

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

type fakeRunner struct {
	ran      []actions.Command
	inFlight int
	overlap  bool
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, cmd actions.Command) (actions.Result, error) {
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.ran = append(f.ran, cmd)
	f.inFlight--
	return actions.Result{}, f.err
}

func newTestRelay(t *testing.T, batches []signalcli.ReceiveResult) (*Relay, *fakeNotifier, *fakeRunner) {
	t.Helper()
	notifier := &fakeNotifier{}
	runner := &fakeRunner{}
	r := New(Config{
		AllowedSenders: []string{"+15551230001", "+15551230002"},
		PollInterval:   time.Millisecond,
		ConfirmWindow:  time.Minute,
	}, &fakeTransport{batches: batches}, notifier, runner, nil, logx.Nop())
	return r, notifier, runner
}

func envelope(sender, body string) signalcli.Envelope {
	return signalcli.Envelope{Sender: sender, Body: body, ReceivedAt: time.Now()}
}

func TestNonPrefixedBodiesAreIgnored(t *testing.T) {
	t.Parallel()

	bodies := []string{
		"hello everyone",
		"foundry status",   // missing prefix
		" !foundry status", // prefix not at start
		"",
	}
	var envs []signalcli.Envelope
	for _, b := range bodies {
		envs = append(envs, envelope("+15551230001", b))
	}
	r, notifier, runner := newTestRelay(t, []signalcli.ReceiveResult{{Envelopes: envs}})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("replies = %q, want none", notifier.sent)
	}
	if len(runner.ran) != 0 {
		t.Fatalf("actions = %v, want none", runner.ran)
	}
}

func TestUnauthorizedSenderGetsExactlyOneDenial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "valid command", body: "!foundry status"},
		{name: "invalid command", body: "!do something"},
		{name: "plain chat", body: "hello"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, notifier, runner := newTestRelay(t, []signalcli.ReceiveResult{
				{Envelopes: []signalcli.Envelope{envelope("+19998887777", tt.body)}},
			})
			if err := r.RunOnce(context.Background()); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if len(notifier.sent) != 1 || notifier.sent[0] != deniedText {
				t.Fatalf("replies = %q, want exactly one denial", notifier.sent)
			}
			if len(runner.ran) != 0 {
				t.Fatalf("actions = %v, want none", runner.ran)
			}
		})
	}
}

func TestInvalidCommandNamesOffendingText(t *testing.T) {
	t.Parallel()

	r, notifier, runner := newTestRelay(t, []signalcli.ReceiveResult{
		{Envelopes: []signalcli.Envelope{envelope("+15551230001", "!foundry dance")}},
	})
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("replies = %q, want exactly one", notifier.sent)
	}
	want := "Invalid command 'foundry dance'. Send '!foundry help' for options."
	if notifier.sent[0] != want {
		t.Fatalf("reply = %q, want %q", notifier.sent[0], want)
	}
	if len(runner.ran) != 0 {
		t.Fatalf("actions = %v, want none", runner.ran)
	}
}

func TestVocabularyMatchIsExact(t *testing.T) {
	t.Parallel()

	// Case and internal spacing must match verbatim.
	for _, body := range []string{"!Foundry status", "!FOUNDRY STATUS", "!foundry  status", "!foundry statu"} {
		body := body
		t.Run(body, func(t *testing.T) {
			t.Parallel()
			r, notifier, runner := newTestRelay(t, []signalcli.ReceiveResult{
				{Envelopes: []signalcli.Envelope{envelope("+15551230001", body)}},
			})
			if err := r.RunOnce(context.Background()); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if len(runner.ran) != 0 {
				t.Fatalf("actions = %v, want none", runner.ran)
			}
			if len(notifier.sent) != 1 || !strings.HasPrefix(notifier.sent[0], "Invalid command") {
				t.Fatalf("replies = %q, want one invalid-command reply", notifier.sent)
			}
		})
	}
}

func TestHelpListsFullVocabulary(t *testing.T) {
	t.Parallel()

	want := "Available commands:\n" +
		"!foundry status\n" +
		"!foundry restart\n" +
		"!foundry health\n" +
		"!foundry backup\n" +
		"!foundry uptime\n" +
		"!foundry space\n" +
		"!foundry reboot\n" +
		"!foundry help"

	for _, sender := range []string{"+15551230001", "+15551230002"} {
		sender := sender
		t.Run(sender, func(t *testing.T) {
			t.Parallel()
			r, notifier, _ := newTestRelay(t, []signalcli.ReceiveResult{
				{Envelopes: []signalcli.Envelope{envelope(sender, "!foundry help")}},
			})
			if err := r.RunOnce(context.Background()); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if len(notifier.sent) != 1 || notifier.sent[0] != want {
				t.Fatalf("help reply = %q, want fixed list", notifier.sent)
			}
		})
	}
}

func TestDispatchIsSerializedInReceiptOrder(t *testing.T) {
	t.Parallel()

	r, _, runner := newTestRelay(t, []signalcli.ReceiveResult{
		{Envelopes: []signalcli.Envelope{
			envelope("+15551230001", "!foundry status"),
			envelope("+15551230002", "!foundry uptime"),
			envelope("+15551230001", "!foundry space"),
		}},
	})
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	want := []actions.Command{actions.CmdStatus, actions.CmdUptime, actions.CmdSpace}
	if len(runner.ran) != len(want) {
		t.Fatalf("actions = %v, want %v", runner.ran, want)
	}
	for i := range want {
		if runner.ran[i] != want[i] {
			t.Fatalf("actions = %v, want %v", runner.ran, want)
		}
	}
	if runner.overlap {
		t.Fatal("actions overlapped; dispatch must be serialized")
	}
}

func TestMalformedLinesAreSkippedNotFatal(t *testing.T) {
	t.Parallel()

	r, _, runner := newTestRelay(t, []signalcli.ReceiveResult{
		{
			Malformed: []string{"{{{", "garbage"},
			Envelopes: []signalcli.Envelope{envelope("+15551230001", "!foundry status")},
		},
	})
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(runner.ran) != 1 || runner.ran[0] != actions.CmdStatus {
		t.Fatalf("actions = %v, want [foundry status]", runner.ran)
	}
}

func TestRebootRequiresConfirmation(t *testing.T) {
	t.Parallel()

	r, notifier, runner := newTestRelay(t, nil)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	// First request arms the window and asks for confirmation.
	r.handle(context.Background(), envelope("+15551230001", "!foundry reboot"))
	if len(runner.ran) != 0 {
		t.Fatalf("reboot ran on first request: %v", runner.ran)
	}
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "confirm") {
		t.Fatalf("replies = %q, want confirmation prompt", notifier.sent)
	}

	// Second request inside the window executes.
	now = now.Add(30 * time.Second)
	r.handle(context.Background(), envelope("+15551230001", "!foundry reboot"))
	if len(runner.ran) != 1 || runner.ran[0] != actions.CmdReboot {
		t.Fatalf("actions = %v, want [foundry reboot]", runner.ran)
	}
}

func TestRebootConfirmationWindowExpires(t *testing.T) {
	t.Parallel()

	r, notifier, runner := newTestRelay(t, nil)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.handle(context.Background(), envelope("+15551230001", "!foundry reboot"))
	now = now.Add(2 * time.Minute)
	r.handle(context.Background(), envelope("+15551230001", "!foundry reboot"))

	if len(runner.ran) != 0 {
		t.Fatalf("reboot ran after window expired: %v", runner.ran)
	}
	// Both requests were arming requests.
	if len(notifier.sent) != 2 {
		t.Fatalf("replies = %q, want two confirmation prompts", notifier.sent)
	}
}

func TestPerSenderRateLimit(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	runner := &fakeRunner{}
	r := New(Config{
		AllowedSenders: []string{"+15551230001"},
		PollInterval:   time.Millisecond,
		RatePerMin:     2,
	}, &fakeTransport{}, notifier, runner, nil, logx.Nop())

	for i := 0; i < 5; i++ {
		r.handle(context.Background(), envelope("+15551230001", "!foundry status"))
	}
	// Burst equals the per-minute cap; the rest drop silently.
	if len(runner.ran) != 2 {
		t.Fatalf("actions = %d, want 2 (burst cap)", len(runner.ran))
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("replies = %q, want none for throttled commands", notifier.sent)
	}
}

func TestInvalidCommandStillRepliesWhenThrottled(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	runner := &fakeRunner{}
	r := New(Config{
		AllowedSenders: []string{"+15551230001"},
		RatePerMin:     1,
	}, &fakeTransport{}, notifier, runner, nil, logx.Nop())

	// Exhaust the limiter with valid commands, then send garbage.
	r.handle(context.Background(), envelope("+15551230001", "!foundry status"))
	r.handle(context.Background(), envelope("+15551230001", "!foundry status"))
	r.handle(context.Background(), envelope("+15551230001", "!foundry dance"))

	if len(runner.ran) != 1 {
		t.Fatalf("actions = %v, want one (second throttled)", runner.ran)
	}
	if len(notifier.sent) != 1 || !strings.HasPrefix(notifier.sent[0], "Invalid command") {
		t.Fatalf("replies = %q, want exactly one invalid-command reply", notifier.sent)
	}
}

func TestAllowListSwapDropsLimiterState(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	runner := &fakeRunner{}
	r := New(Config{
		AllowedSenders: []string{"+15551230001"},
		RatePerMin:     1,
	}, &fakeTransport{}, notifier, runner, nil, logx.Nop())

	r.handle(context.Background(), envelope("+15551230001", "!foundry status"))
	r.handle(context.Background(), envelope("+15551230001", "!foundry status"))
	if len(runner.ran) != 1 {
		t.Fatalf("actions = %v, want one before swap", runner.ran)
	}

	// De-listing the sender discards its limiter; re-listing starts a
	// fresh burst.
	r.SetAllowedSenders(nil)
	r.SetAllowedSenders([]string{"+15551230001"})
	r.handle(context.Background(), envelope("+15551230001", "!foundry status"))
	if len(runner.ran) != 2 {
		t.Fatalf("actions = %v, want a fresh burst after re-listing", runner.ran)
	}
}

func TestAllowListHotSwap(t *testing.T) {
	t.Parallel()

	r, notifier, runner := newTestRelay(t, nil)
	r.SetAllowedSenders([]string{"+15550009999"})

	r.handle(context.Background(), envelope("+15551230001", "!foundry status"))
	if len(notifier.sent) != 1 || notifier.sent[0] != deniedText {
		t.Fatalf("replies = %q, want denial after allow-list swap", notifier.sent)
	}

	r.handle(context.Background(), envelope("+15550009999", "!foundry status"))
	if len(runner.ran) != 1 {
		t.Fatalf("actions = %v, want one", runner.ran)
	}
}

func TestHealthCommandRunsMonitorCycle(t *testing.T) {
	t.Parallel()

	calls := 0
	notifier := &fakeNotifier{}
	runner := &fakeRunner{}
	r := New(Config{
		AllowedSenders: []string{"+15551230001"},
	}, &fakeTransport{}, notifier, runner, func(ctx context.Context) bool {
		calls++
		return true
	}, logx.Nop())

	r.handle(context.Background(), envelope("+15551230001", "!foundry health"))
	if calls != 1 {
		t.Fatalf("health cycles = %d, want 1", calls)
	}
	if len(runner.ran) != 0 {
		t.Fatalf("actions = %v, want none (health is not an exec action)", runner.ran)
	}
}

func TestActionFailureDoesNotReply(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	runner := &fakeRunner{err: &actions.ExecError{Command: actions.CmdRestart, ExitCode: 1}}
	r := New(Config{
		AllowedSenders: []string{"+15551230001"},
	}, &fakeTransport{}, notifier, runner, nil, logx.Nop())

	r.handle(context.Background(), envelope("+15551230001", "!foundry restart"))
	if len(notifier.sent) != 0 {
		t.Fatalf("replies = %q, want none for execution failure", notifier.sent)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		body string
		want string
		ok   bool
	}{
		{body: "!foundry status", want: "foundry status", ok: true},
		{body: "!  foundry help  ", want: "foundry help", ok: true},
		{body: "!", want: "", ok: true},
		{body: "foundry status", ok: false},
		{body: "", ok: false},
		{body: "? foundry status", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseCommand(tt.body)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseCommand(%q) = (%q, %v), want (%q, %v)", tt.body, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRelay(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
