// internal/browser/session/mocks_test.go
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/palmtree/internal/progress"
)

// mockExecutor mocks the page primitives. Done and Close are real so that the
// crash watcher always has a channel to wait on.
type mockExecutor struct {
	mock.Mock
	done   chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{done: make(chan struct{})}
}

func (m *mockExecutor) disconnect() { m.once.Do(func() { close(m.done) }) }

func (m *mockExecutor) Done() <-chan struct{} { return m.done }

func (m *mockExecutor) Close() error {
	m.closes.Add(1)
	m.disconnect()
	return nil
}

func (m *mockExecutor) Navigate(ctx context.Context, url string) (PageSource, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(PageSource), args.Error(1)
}

func (m *mockExecutor) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *mockExecutor) Type(ctx context.Context, selector, text string) error {
	return m.Called(ctx, selector, text).Error(0)
}

func (m *mockExecutor) Text(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *mockExecutor) WaitVisible(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockExecutor) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	buf, _ := args.Get(0).([]byte)
	return buf, args.Error(1)
}

type mockLauncher struct {
	mock.Mock
}

func (m *mockLauncher) Launch(ctx context.Context) (Executor, error) {
	args := m.Called(ctx)
	exec, _ := args.Get(0).(Executor)
	return exec, args.Error(1)
}

// mockHeadlessLauncher also records display mode switches.
type mockHeadlessLauncher struct {
	mockLauncher
}

func (m *mockHeadlessLauncher) SetHeadless(headless bool) {
	m.Called(headless)
}

// recordingWriter keeps every phase written to it.
type recordingWriter struct {
	mu     sync.Mutex
	phases []progress.Phase
}

func (w *recordingWriter) SetPhase(phase progress.Phase, _ string, _ int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.phases = append(w.phases, phase)
}

func (w *recordingWriter) Phases() []progress.Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]progress.Phase(nil), w.phases...)
}
