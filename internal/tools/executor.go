// internal/tools/executor.go
package tools

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/browser/session"
	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/llmutil"
	"github.com/xkilldash9x/palmtree/internal/metrics"
)

// Browser is the slice of a browser session the tool layer drives.
type Browser interface {
	Navigate(ctx context.Context, url string) (session.PageInfo, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Extract(ctx context.Context, selector string) (string, error)
	Wait(ctx context.Context, cond session.WaitCondition) error
}

var _ Browser = (*session.Session)(nil)

// Executor validates actions and runs each as exactly one browser primitive.
// It keeps no task state.
type Executor struct {
	browser    Browser
	maxExtract int
	logger     *zap.Logger
	metrics    *metrics.Collector

	// gate serializes Execute for the session.
	gate sync.Mutex
}

// NewExecutor binds an executor to one browser session. collector may be nil.
func NewExecutor(browser Browser, cfg config.BrowserConfig, logger *zap.Logger, collector *metrics.Collector) *Executor {
	maxExtract := cfg.MaxExtractChars
	if maxExtract <= 0 {
		maxExtract = 2000
	}
	return &Executor{
		browser:    browser,
		maxExtract: maxExtract,
		logger:     logger.Named("tools"),
		metrics:    collector,
	}
}

// Execute validates and dispatches a single action. Browser calls run on a
// context detached from ctx's cancellation so an in-flight primitive finishes
// or hits its own timeout.
func (e *Executor) Execute(ctx context.Context, action Action) Observation {
	start := time.Now()
	kind := Kind("unknown")
	if action != nil {
		kind = action.Kind()
	}

	obs := e.execute(ctx, action)
	obs.Action = kind

	outcome := "success"
	if !obs.Success {
		outcome = string(obs.Failure)
	}
	e.metrics.RecordAction(string(kind), outcome, time.Since(start))
	e.logger.Debug("Action executed.",
		zap.String("action", string(kind)),
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(start)))
	return obs
}

func (e *Executor) execute(ctx context.Context, action Action) Observation {
	valid, err := Validate(action)
	if err != nil {
		kind := Kind("unknown")
		if action != nil {
			kind = action.Kind()
		}
		return failed(kind, FailureInvalidAction, err.Error())
	}

	if fin, ok := valid.(Finish); ok {
		return Observation{Success: true, Text: fin.Result}
	}

	e.gate.Lock()
	defer e.gate.Unlock()

	browserCtx := session.Detach(ctx)

	switch a := valid.(type) {
	case Navigate:
		info, err := e.browser.Navigate(browserCtx, a.URL)
		if err != nil {
			return e.failure(KindNavigate, err)
		}
		return Observation{
			Success:        true,
			URL:            info.URL,
			Title:          info.Title,
			LoginRequired:  info.LoginRequired,
			ScreenshotPath: info.ScreenshotPath,
		}
	case Click:
		if err := e.browser.Click(browserCtx, a.Selector); err != nil {
			return e.failure(KindClick, err)
		}
		return Observation{Success: true, Message: "clicked " + a.Selector}
	case Type:
		if err := e.browser.Type(browserCtx, a.Selector, a.Text); err != nil {
			return e.failure(KindType, err)
		}
		return Observation{Success: true, Message: "typed into " + a.Selector}
	case Extract:
		text, err := e.browser.Extract(browserCtx, a.Selector)
		if err != nil {
			return e.failure(KindExtract, err)
		}
		return Observation{Success: true, Text: llmutil.Truncate(normalizeWhitespace(text), e.maxExtract)}
	case Wait:
		// Already validated.
		cond, _ := ParseWaitCondition(a.Condition)
		if err := e.browser.Wait(browserCtx, cond); err != nil {
			return e.failure(KindWait, err)
		}
		return Observation{Success: true, Message: "waited for " + a.Condition}
	default:
		return failed(valid.Kind(), FailureInvalidAction, "unsupported action")
	}
}

func (e *Executor) failure(kind Kind, err error) Observation {
	f := Classify(kind, err)
	if f == FailureProtocolDisconnected {
		e.logger.Warn("Browser connection lost during action.", zap.String("action", string(kind)), zap.Error(err))
	}
	return failed(kind, f, err.Error())
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
