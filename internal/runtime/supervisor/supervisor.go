// Package supervisor manages the daemon's long-lived goroutines:
// named starts, panic recovery, cancel-on-first-error and a bounded
// graceful wait.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	logx "github.com/Arch-Node/foundry-relay/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool
	wg          sync.WaitGroup

	errMu    sync.Mutex
	firstErr error
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first non-nil goroutine error cancel the
// supervisor context, taking the whole daemon down cleanly.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error observed from a supervised goroutine.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

func (s *Supervisor) noteErr(name string, err error) {
	if err == nil || err == context.Canceled {
		return
	}
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
	s.log.Error("supervised goroutine failed", logx.String("name", name), logx.Err(err))
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go starts fn under the supervisor context. Panics are recovered and
// recorded as errors; they never take the process down.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("supervised goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				s.noteErr(name, fmt.Errorf("panic in %s: %v", name, r))
			}
		}()
		s.log.Debug("goroutine started", logx.String("name", name))
		err := fn(s.ctx)
		s.log.Debug("goroutine stopped", logx.String("name", name), logx.Err(err))
		s.noteErr(name, err)
	}()
}

// Wait blocks until all supervised goroutines exit or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return s.Err()
	case <-ctx.Done():
		return fmt.Errorf("supervisor wait: %w", ctx.Err())
	}
}
