// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context carrying the values of primary (the CDP tab
// context) that is canceled as soon as either primary or op is done. chromedp
// looks up its target through context values, so the tab context has to stay
// the parent while the caller's deadline still applies.
func CombineContext(primary, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-op.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext keeps its parent's values but none of its deadline or
// cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but outlives it.
// In-flight browser actions run on a detached context so that a canceled task
// lets the current action settle instead of tearing the tab down mid-command.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
