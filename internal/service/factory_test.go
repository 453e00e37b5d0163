package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/browser/session"
	"github.com/xkilldash9x/palmtree/internal/progress"
)

func TestCreate(t *testing.T) {
	launcher := &fakeLauncher{}
	llm := &scriptedLLM{replies: []string{navigateReply, finishReply}}
	cfg := testConfig(t.TempDir())

	components, err := testFactory(launcher, llm, nil).Create(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(components.Shutdown)

	assert.Len(t, components.Sessions, 2)
	assert.Len(t, components.Agents, 2)
	assert.NotNil(t, components.Store, "sqlite is the default driver")
	assert.NotNil(t, components.Engine)
	assert.NotNil(t, components.Server)
	assert.Equal(t, progress.PhaseInitializing, components.Reporter.Get().Phase)
	for _, s := range components.Sessions {
		assert.Equal(t, session.StateUninitialized, s.State(), "Create must not launch browsers")
	}
}

func TestCreateRunsTasksEndToEnd(t *testing.T) {
	launcher := &fakeLauncher{}
	llm := &scriptedLLM{replies: []string{navigateReply, finishReply}}
	cfg := testConfig(t.TempDir())
	cfg.BrowserCfg.Sessions = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	components, err := testFactory(launcher, llm, nil).Create(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(components.Shutdown)

	require.NoError(t, components.Start(ctx))
	assert.Equal(t, session.StateReady, components.Sessions[0].State())
	assert.True(t, components.Reporter.Get().Ready)

	res, err := components.Run(ctx, "what is the title of example.com?")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSucceeded, res.Status)
	assert.Equal(t, "Example Domain", res.Result)
	assert.Equal(t, 2, res.Steps)

	execs := launcher.launched()
	require.Len(t, execs, 1)
	assert.EqualValues(t, 1, execs[0].navigated.Load())

	stored, err := components.Store.GetTask(ctx, res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, agent.StatusSucceeded, stored.Status)
	assert.NotEmpty(t, stored.History)
}

func TestCreateWithoutPersistence(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.DatabaseCfg.Driver = "none"

	components, err := testFactory(&fakeLauncher{}, &scriptedLLM{replies: []string{finishReply}}, nil).
		Create(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(components.Shutdown)

	assert.Nil(t, components.Store)
}

func TestCreateFailures(t *testing.T) {
	t.Run("inference unavailable", func(t *testing.T) {
		cfg := testConfig(t.TempDir())
		_, err := testFactory(&fakeLauncher{}, nil, assert.AnError).Create(context.Background(), cfg, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "failed to initialize inference client")
	})

	t.Run("bad database driver", func(t *testing.T) {
		cfg := testConfig(t.TempDir())
		cfg.DatabaseCfg.Driver = "mysql"
		_, err := testFactory(&fakeLauncher{}, &scriptedLLM{replies: []string{finishReply}}, nil).
			Create(context.Background(), cfg, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "unknown database driver")
	})

	t.Run("no sessions", func(t *testing.T) {
		cfg := testConfig(t.TempDir())
		cfg.BrowserCfg.Sessions = 0
		_, err := testFactory(&fakeLauncher{}, &scriptedLLM{replies: []string{finishReply}}, nil).
			Create(context.Background(), cfg, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "failed to create runner pool")
	})
}
