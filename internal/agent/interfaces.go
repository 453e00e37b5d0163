// internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/xkilldash9x/palmtree/internal/browser/session"
	"github.com/xkilldash9x/palmtree/internal/llmclient"
	"github.com/xkilldash9x/palmtree/internal/tools"
)

// LLM produces one completion per call.
type LLM interface {
	Chat(ctx context.Context, req llmclient.ChatRequest) (*llmclient.ChatResponse, error)
}

// BrowserSession is the lifecycle view of the session the agent drives.
type BrowserSession interface {
	State() session.State
	Start(ctx context.Context) error
}

// ActionExecutor runs one validated action against the browser.
type ActionExecutor interface {
	Execute(ctx context.Context, action tools.Action) tools.Observation
}

var (
	_ LLM            = (*llmclient.OllamaClient)(nil)
	_ BrowserSession = (*session.Session)(nil)
	_ ActionExecutor = (*tools.Executor)(nil)
)
