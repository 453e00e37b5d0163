// File: cmd/run_test.go
package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/config"
)

func TestRunCmd(t *testing.T) {
	t.Run("prints the result", func(t *testing.T) {
		resetForTest(t)
		rt := &fakeRuntime{}
		var seen *config.Config

		out, err := executeCommand(t, factoryFor(rt, &seen), "run", "--max-steps", "4", "find", "the", "title")
		require.NoError(t, err)
		assert.Contains(t, out, "done: find the title")
		assert.Contains(t, out, "task task-1: succeeded in 1 step(s)")
		assert.Equal(t, []string{"find the title"}, rt.Instructions())
		assert.Equal(t, 1, rt.Shutdowns())
		require.NotNil(t, seen)
		assert.Equal(t, 4, seen.Agent().MaxSteps)
	})

	t.Run("json output", func(t *testing.T) {
		resetForTest(t)
		out, err := executeCommand(t, factoryFor(&fakeRuntime{}, nil), "run", "--json", "hello")
		require.NoError(t, err)

		var res agent.TaskResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, agent.StatusSucceeded, res.Status)
		assert.Equal(t, "done: hello", res.Result)
	})

	t.Run("failed task exits with an error", func(t *testing.T) {
		resetForTest(t)
		rt := &fakeRuntime{result: func(instruction string) *agent.TaskResult {
			return &agent.TaskResult{TaskID: "t", Status: agent.StatusFailed, Reason: agent.ReasonStepLimitExceeded, Steps: 25}
		}}
		out, err := executeCommand(t, factoryFor(rt, nil), "run", "loop forever")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTaskFailed)
		assert.Contains(t, err.Error(), "step_limit_exceeded")
		assert.Contains(t, out, "Task failed: step_limit_exceeded")
	})

	t.Run("cancelled task", func(t *testing.T) {
		resetForTest(t)
		rt := &fakeRuntime{result: func(string) *agent.TaskResult {
			return &agent.TaskResult{TaskID: "t", Status: agent.StatusCancelled}
		}}
		_, err := executeCommand(t, factoryFor(rt, nil), "run", "stop me")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("start failure shuts down", func(t *testing.T) {
		resetForTest(t)
		rt := &fakeRuntime{startErr: errors.New("no chrome")}
		_, err := executeCommand(t, factoryFor(rt, nil), "run", "anything")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start agent: no chrome")
		assert.Equal(t, 1, rt.Shutdowns())
		assert.Empty(t, rt.Instructions())
	})

	t.Run("factory failure", func(t *testing.T) {
		resetForTest(t)
		factory := func(context.Context, *config.Config, *zap.Logger) (Runtime, error) {
			return nil, errors.New("ollama down")
		}
		_, err := executeCommand(t, factory, "run", "anything")
		assert.ErrorContains(t, err, "failed to initialize components: ollama down")
	})

	t.Run("requires an instruction", func(t *testing.T) {
		resetForTest(t)
		_, err := executeCommand(t, factoryFor(&fakeRuntime{}, nil), "run")
		assert.Error(t, err)

		_, err = executeCommand(t, factoryFor(&fakeRuntime{}, nil), "run", "  ")
		assert.ErrorIs(t, err, agent.ErrEmptyInstruction)
	})
}
