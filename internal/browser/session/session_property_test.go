// internal/browser/session/session_property_test.go
package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// scriptedExecutor resolves every primitive through a single behaviour hook.
type scriptedExecutor struct {
	behave func(ctx context.Context) error
	done   chan struct{}
	once   sync.Once
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{done: make(chan struct{})}
}

func (e *scriptedExecutor) disconnect() { e.once.Do(func() { close(e.done) }) }

func (e *scriptedExecutor) Done() <-chan struct{} { return e.done }

func (e *scriptedExecutor) Close() error { e.disconnect(); return nil }

func (e *scriptedExecutor) run(ctx context.Context) error {
	if e.behave == nil {
		return nil
	}
	return e.behave(ctx)
}

func (e *scriptedExecutor) Navigate(ctx context.Context, url string) (PageSource, error) {
	return PageSource{URL: url, HTML: "<html></html>"}, e.run(ctx)
}

func (e *scriptedExecutor) Click(ctx context.Context, _ string) error { return e.run(ctx) }

func (e *scriptedExecutor) Type(ctx context.Context, _, _ string) error { return e.run(ctx) }

func (e *scriptedExecutor) Text(ctx context.Context, _ string) (string, error) { return "", e.run(ctx) }

func (e *scriptedExecutor) WaitVisible(ctx context.Context, _ string) error { return e.run(ctx) }

func (e *scriptedExecutor) Sleep(ctx context.Context, _ time.Duration) error { return e.run(ctx) }

func (e *scriptedExecutor) Screenshot(ctx context.Context) ([]byte, error) { return nil, e.run(ctx) }

type launcherFunc func(ctx context.Context) (Executor, error)

func (f launcherFunc) Launch(ctx context.Context) (Executor, error) { return f(ctx) }

// No sequence of lifecycle calls and primitive outcomes may leave the session
// executing once the call has returned.
func TestSessionNeverExecutingOnReturn(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var current *scriptedExecutor
		launcher := launcherFunc(func(context.Context) (Executor, error) {
			current = newScriptedExecutor()
			return current, nil
		})
		cfg := testBrowserConfig()
		cfg.ActionTimeout = 5 * time.Millisecond
		s := New(cfg, launcher, nil, zap.NewNop())
		defer func() { _ = s.Stop() }()

		ctx := context.Background()
		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.SampledFrom([]string{"start", "stop", "ok", "fail", "panic", "timeout", "disconnect"}).Draw(rt, "op")
			switch op {
			case "start":
				_ = s.Start(ctx)
			case "stop":
				_ = s.Stop()
			default:
				if current != nil {
					exec := current
					current.behave = func(ctx context.Context) error {
						switch op {
						case "fail":
							return ErrElementNotFound
						case "panic":
							panic("boom")
						case "timeout":
							<-ctx.Done()
							return ctx.Err()
						case "disconnect":
							exec.disconnect()
							return errors.New("connection reset")
						}
						return nil
					}
				}
				_ = s.Click(ctx, "#x")
			}

			if got := s.State(); got == StateExecuting || got == StateConnecting {
				rt.Fatalf("session left in %s after %q", got, op)
			}
		}
	})
}
