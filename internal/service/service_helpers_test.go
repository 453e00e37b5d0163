package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/browser/session"
	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/llmclient"
	"github.com/xkilldash9x/palmtree/internal/progress"
)

// fakeExecutor is an in-memory browser tab serving one fixed page.
type fakeExecutor struct {
	done      chan struct{}
	closeOnce sync.Once
	navigated atomic.Int32
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{done: make(chan struct{})}
}

func (f *fakeExecutor) Navigate(_ context.Context, url string) (session.PageSource, error) {
	f.navigated.Add(1)
	return session.PageSource{
		URL:  url,
		HTML: `<html><head><title>Example Domain</title></head><body><h1>Example Domain</h1></body></html>`,
	}, nil
}

func (f *fakeExecutor) Click(context.Context, string) error       { return nil }
func (f *fakeExecutor) Type(context.Context, string, string) error { return nil }

func (f *fakeExecutor) Text(context.Context, string) (string, error) {
	return "Example Domain", nil
}

func (f *fakeExecutor) WaitVisible(context.Context, string) error { return nil }

func (f *fakeExecutor) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeExecutor) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }
func (f *fakeExecutor) Done() <-chan struct{}                      { return f.done }

func (f *fakeExecutor) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// fakeLauncher hands out fake executors, or fails when err is set.
type fakeLauncher struct {
	err       error
	mu        sync.Mutex
	executors []*fakeExecutor
	modes     []bool
}

func (l *fakeLauncher) SetHeadless(headless bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modes = append(l.modes, headless)
}

func (l *fakeLauncher) switched() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.modes...)
}

func (l *fakeLauncher) Launch(context.Context) (session.Executor, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	exec := newFakeExecutor()
	l.executors = append(l.executors, exec)
	return exec, nil
}

func (l *fakeLauncher) launched() []*fakeExecutor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeExecutor(nil), l.executors...)
}

// scriptedLLM replies in order and then repeats its last reply.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (s *scriptedLLM) Chat(context.Context, llmclient.ChatRequest) (*llmclient.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	s.calls++
	return &llmclient.ChatResponse{Content: s.replies[idx], Model: "test-model"}, nil
}

var _ agent.LLM = (*scriptedLLM)(nil)

const (
	navigateReply = `{"thought": "open it", "action": {"type": "navigate", "url": "https://example.com"}}`
	finishReply   = `{"thought": "done", "action": {"type": "finish", "result": "Example Domain"}}`
)

func testFactory(launcher *fakeLauncher, llm agent.LLM, llmErr error) ComponentFactory {
	return NewComponentFactoryWith(
		func(config.BrowserConfig, *zap.Logger) session.Launcher { return launcher },
		func(context.Context, config.InferenceConfig, *zap.Logger, progress.Writer) (agent.LLM, error) {
			if llmErr != nil {
				return nil, llmErr
			}
			return llm, nil
		},
	)
}

func testConfig(dir string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.DataDirCfg = dir
	cfg.DatabaseCfg.Driver = "sqlite"
	cfg.BrowserCfg.Sessions = 2
	cfg.EngineCfg.WorkerConcurrency = 2
	return cfg
}

var errNoChrome = errors.New("chrome not found")

// recordingWriter keeps every phase message it receives.
type recordingWriter struct {
	mu       sync.Mutex
	messages []string
	percents []int
}

func (w *recordingWriter) SetPhase(_ progress.Phase, message string, percent int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, message)
	w.percents = append(w.percents, percent)
}
