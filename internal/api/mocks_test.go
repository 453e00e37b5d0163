// File: internal/api/mocks_test.go
package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/palmtree/internal/agent"
)

type mockTaskService struct {
	mock.Mock
}

func (m *mockTaskService) Run(ctx context.Context, instruction string) (*agent.TaskResult, error) {
	args := m.Called(ctx, instruction)
	res, _ := args.Get(0).(*agent.TaskResult)
	return res, args.Error(1)
}

func (m *mockTaskService) Submit(instruction string) (*agent.Task, error) {
	args := m.Called(instruction)
	task, _ := args.Get(0).(*agent.Task)
	return task, args.Error(1)
}

func (m *mockTaskService) Get(ctx context.Context, id string) (*agent.TaskResult, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*agent.TaskResult)
	return res, args.Error(1)
}

func (m *mockTaskService) Cancel(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListTasks(ctx context.Context, limit int) ([]agent.TaskResult, error) {
	args := m.Called(ctx, limit)
	tasks, _ := args.Get(0).([]agent.TaskResult)
	return tasks, args.Error(1)
}
