// internal/agent/mocks_test.go
package agent

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/palmtree/internal/browser/session"
	"github.com/xkilldash9x/palmtree/internal/llmclient"
	"github.com/xkilldash9x/palmtree/internal/progress"
	"github.com/xkilldash9x/palmtree/internal/tools"
)

// scriptedLLM answers from a fixed script. Once the script runs out the last
// entry repeats.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []reply
	calls    int
	requests []llmclient.ChatRequest
}

type reply struct {
	content string
	err     error
	// hook runs before the reply is returned.
	hook func()
}

func newScriptedLLM(replies ...reply) *scriptedLLM {
	return &scriptedLLM{replies: replies}
}

func (s *scriptedLLM) Chat(ctx context.Context, req llmclient.ChatRequest) (*llmclient.ChatResponse, error) {
	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	r := s.replies[idx]
	s.calls++
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if r.hook != nil {
		r.hook()
	}
	if r.err != nil {
		return nil, r.err
	}
	return &llmclient.ChatResponse{Content: r.content, Model: "test-model"}, nil
}

func (s *scriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedLLM) LastRequest() llmclient.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

// mockSession mocks the browser lifecycle.
type mockSession struct {
	mock.Mock
}

func (m *mockSession) State() session.State {
	args := m.Called()
	return args.Get(0).(session.State)
}

func (m *mockSession) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func readySession() *mockSession {
	m := new(mockSession)
	m.On("State").Return(session.StateReady)
	return m
}

// mockTools mocks the action executor.
type mockTools struct {
	mock.Mock
}

func (m *mockTools) Execute(ctx context.Context, action tools.Action) tools.Observation {
	args := m.Called(ctx, action)
	return args.Get(0).(tools.Observation)
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
