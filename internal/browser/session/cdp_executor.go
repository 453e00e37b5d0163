// internal/browser/session/cdp_executor.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// cdpExecutor drives one chromedp tab. ctx is the tab context returned by
// chromedp.NewContext; every action is run on a combination of it and the
// caller's operational context.
type cdpExecutor struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *zap.Logger

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

var _ Executor = (*cdpExecutor)(nil)

func newCDPExecutor(tabCtx context.Context, cancelTab, cancelAlloc context.CancelFunc, logger *zap.Logger) *cdpExecutor {
	e := &cdpExecutor{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
		done:        make(chan struct{}),
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *inspector.EventDetached:
			e.logger.Warn("Browser target detached.", zap.String("reason", ev.Reason.String()))
			e.markDone()
		case *inspector.EventTargetCrashed:
			e.logger.Error("Browser target crashed.")
			e.markDone()
		}
	})

	// The tab context is canceled when the browser process exits or the
	// websocket drops, which covers every disconnect the events above miss.
	go func() {
		<-tabCtx.Done()
		e.markDone()
	}()

	return e
}

func (e *cdpExecutor) markDone() {
	e.doneOnce.Do(func() { close(e.done) })
}

func (e *cdpExecutor) Done() <-chan struct{} { return e.done }

// run executes actions on the tab, bounded by the operational context.
func (e *cdpExecutor) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(e.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		select {
		case <-e.done:
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		default:
		}
		return err
	}
	return nil
}

func (e *cdpExecutor) Navigate(ctx context.Context, url string) (PageSource, error) {
	var src PageSource
	err := e.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&src.URL),
		chromedp.OuterHTML("html", &src.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return PageSource{}, fmt.Errorf("navigate to %s: %w", url, err)
	}
	return src, nil
}

// requireElement fails with ErrElementNotFound instead of letting a query
// action poll until the deadline for a node that does not exist.
func requireElement(selector string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var found bool
		script := fmt.Sprintf(`document.querySelector(%s) !== null`, jsonEncode(selector))
		if err := chromedp.Evaluate(script, &found).Do(ctx); err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
		}
		return nil
	})
}

func (e *cdpExecutor) Click(ctx context.Context, selector string) error {
	return e.run(ctx,
		requireElement(selector),
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (e *cdpExecutor) Type(ctx context.Context, selector, text string) error {
	return e.run(ctx,
		requireElement(selector),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (e *cdpExecutor) Text(ctx context.Context, selector string) (string, error) {
	script := `(function () {
		const root = document.body;
		return root ? (root.innerText || root.textContent || "") : "";
	})()`
	if selector != "" {
		script = fmt.Sprintf(`(function (sel) {
			const el = document.querySelector(sel);
			if (!el) return null;
			return el.innerText || el.textContent || "";
		})(%s)`, jsonEncode(selector))
	}

	var res json.RawMessage
	err := e.run(ctx, chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithSilent(true)
	}))
	if err != nil {
		return "", err
	}
	if len(res) == 0 || string(res) == "null" {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	var text string
	if err := json.Unmarshal(res, &text); err != nil {
		return "", fmt.Errorf("failed to decode element text: %w", err)
	}
	return text, nil
}

func (e *cdpExecutor) WaitVisible(ctx context.Context, selector string) error {
	return e.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (e *cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
	return e.run(ctx, chromedp.Sleep(d))
}

func (e *cdpExecutor) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := e.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close shuts the browser down gracefully, falling back to killing the
// allocator when the browser does not exit in time.
func (e *cdpExecutor) Close() error {
	var err error
	e.closeOnce.Do(func() {
		errCh := make(chan error, 1)
		go func() { errCh <- chromedp.Cancel(e.ctx) }()

		select {
		case err = <-errCh:
			if err == context.Canceled {
				err = nil
			}
		case <-time.After(5 * time.Second):
			e.logger.Warn("Browser did not shut down in time, killing the process.")
		}
		e.cancelTab()
		e.cancelAlloc()
		e.markDone()
	})
	return err
}

// jsonEncode quotes a value for safe inclusion in a script.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
