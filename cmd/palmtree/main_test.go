// File: cmd/palmtree/main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandArgs(t *testing.T) {
	assert.Equal(t, []string{"shell"}, commandArgs(nil))
	assert.Equal(t, []string{"run", "x"}, commandArgs([]string{"run", "x"}))
}

func TestRun(t *testing.T) {
	var called *cobra.Command
	execute = func(_ context.Context, root *cobra.Command) error {
		called = root
		return errors.New("boom")
	}
	t.Cleanup(func() { execute = defaultExecute })

	err := run(context.Background(), []string{"version"})
	assert.EqualError(t, err, "boom")
	require.NotNil(t, called)
	assert.Equal(t, "palmtree", called.Name())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(context.Canceled))
	assert.Equal(t, 0, exitCode(fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("failed")))
}

func TestHandlePanic(t *testing.T) {
	var (
		exitCodeSeen = -1
		written      []byte
		path         string
	)
	osExit = func(code int) { exitCodeSeen = code }
	osWriteFile = func(name string, data []byte, _ os.FileMode) error {
		path = name
		written = data
		return nil
	}
	t.Cleanup(func() {
		osExit = os.Exit
		osWriteFile = os.WriteFile
	})

	func() {
		defer handlePanic()
		panic("something broke")
	}()

	assert.Equal(t, 2, exitCodeSeen)
	assert.Equal(t, panicLogFile, path)
	assert.Contains(t, string(written), "panic: something broke")
	assert.Contains(t, string(written), "goroutine")
}

func TestHandlePanicWithoutPanic(t *testing.T) {
	exited := false
	osExit = func(int) { exited = true }
	t.Cleanup(func() { osExit = os.Exit })

	func() {
		defer handlePanic()
	}()
	assert.False(t, exited)
}
