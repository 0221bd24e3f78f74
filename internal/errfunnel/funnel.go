// Package errfunnel is the single place where recovered auth failures are
// logged and, when asked, followed by a session reset.
package errfunnel

import (
	"context"
	"fmt"
	"sync"

	slogctx "github.com/veqryn/slog-context"
)

// ResetFunc puts a session back into a safe state, typically by logging the
// user out.
type ResetFunc func(ctx context.Context) error

type Funnel struct {
	mu      sync.RWMutex
	onReset []func(ctx context.Context, err error)
}

type Option func(*Funnel)

// WithResetHook registers a callback run after every reset attempt with the
// reset error, if any.
func WithResetHook(hook func(ctx context.Context, err error)) Option {
	return func(f *Funnel) { f.AddResetHook(hook) }
}

// AddResetHook registers an additional reset hook. Hooks run in the order
// they were added.
func (f *Funnel) AddResetHook(hook func(ctx context.Context, err error)) {
	if f == nil || hook == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReset = append(f.onReset, hook)
}

func New(opts ...Option) *Funnel {
	f := &Funnel{}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Handle logs err and runs reset if given. Nothing escapes: panics raised
// while logging or resetting are recovered and logged on their own.
func (f *Funnel) Handle(ctx context.Context, err error, reset ResetFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	f.log(ctx, err)

	if reset == nil {
		return
	}

	resetErr := f.reset(ctx, reset)
	if resetErr != nil {
		f.logSafely(ctx, "Failed to reset session after auth error", resetErr)
	}

	if f == nil {
		return
	}

	f.mu.RLock()
	hooks := f.onReset
	f.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer func() { _ = recover() }()
			hook(ctx, resetErr)
		}()
	}
}

func (f *Funnel) log(ctx context.Context, err error) {
	if err == nil {
		return
	}
	f.logSafely(ctx, "Auth error", err)
}

func (f *Funnel) reset(ctx context.Context, reset ResetFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reset panicked: %v", r)
		}
	}()

	return reset(ctx)
}

func (f *Funnel) logSafely(ctx context.Context, msg string, err error) {
	defer func() { _ = recover() }()

	slogctx.Error(ctx, msg, "error", err)
}
