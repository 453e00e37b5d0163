// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/observability"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	code := m.Run()
	observability.Sync()
	os.Exit(code)
}

// resetForTest clears package state shared between command instances.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	t.Setenv("PALMTREE_DATA_DIR", t.TempDir())
	t.Setenv("PALMTREE_DATABASE_DRIVER", "none")
}

// executeCommand runs a fresh command tree with args and returns its output.
func executeCommand(t *testing.T, factory RuntimeFactory, args ...string) (string, error) {
	t.Helper()
	return executeCommandContext(t, context.Background(), factory, "", args...)
}

func executeCommandContext(t *testing.T, ctx context.Context, factory RuntimeFactory, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(factory)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(bytes.NewBufferString(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// fakeRuntime records what the commands ask of it.
type fakeRuntime struct {
	mu           sync.Mutex
	startErr     error
	runErr       error
	result       func(instruction string) *agent.TaskResult
	serve        func(ctx context.Context) error
	modeErr      error
	instructions []string
	modes        []bool
	started      bool
	shutdowns    int
}

func (f *fakeRuntime) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.startErr
}

func (f *fakeRuntime) Run(_ context.Context, instruction string) (*agent.TaskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instructions = append(f.instructions, instruction)
	if f.runErr != nil {
		return nil, f.runErr
	}
	if f.result != nil {
		return f.result(instruction), nil
	}
	return &agent.TaskResult{TaskID: "task-1", Instruction: instruction, Status: agent.StatusSucceeded, Result: "done: " + instruction, Steps: 1}, nil
}

func (f *fakeRuntime) Serve(ctx context.Context) error {
	if f.serve != nil {
		return f.serve(ctx)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeRuntime) SetHeadless(_ context.Context, headless bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, headless)
	return f.modeErr
}

func (f *fakeRuntime) Modes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.modes...)
}

func (f *fakeRuntime) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
}

func (f *fakeRuntime) Instructions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.instructions...)
}

func (f *fakeRuntime) Shutdowns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

// factoryFor returns a RuntimeFactory handing out rt and capturing the config it saw.
func factoryFor(rt *fakeRuntime, seen **config.Config) RuntimeFactory {
	return func(_ context.Context, cfg *config.Config, _ *zap.Logger) (Runtime, error) {
		if seen != nil {
			*seen = cfg
		}
		return rt, nil
	}
}
