// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/api"
	"github.com/xkilldash9x/palmtree/internal/browser/session"
	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/engine"
	"github.com/xkilldash9x/palmtree/internal/metrics"
	"github.com/xkilldash9x/palmtree/internal/progress"
	"github.com/xkilldash9x/palmtree/internal/tools"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "palmtree"

// ComponentFactory builds the full set of components for a run or a server.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// LauncherFunc builds the browser launcher for one session.
type LauncherFunc func(cfg config.BrowserConfig, logger *zap.Logger) session.Launcher

// LLMFunc connects to the inference backend.
type LLMFunc func(ctx context.Context, cfg config.InferenceConfig, logger *zap.Logger, reporter progress.Writer) (agent.LLM, error)

// concreteFactory is the production implementation of ComponentFactory. Its
// constructors are swappable so tests can run without Chrome or Ollama.
type concreteFactory struct {
	newLauncher LauncherFunc
	newLLM      LLMFunc
}

// NewComponentFactory creates a factory that launches local Chrome and
// connects to Ollama.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{
		newLauncher: func(cfg config.BrowserConfig, logger *zap.Logger) session.Launcher {
			return session.NewChromeLauncher(cfg, logger)
		},
		newLLM: func(ctx context.Context, cfg config.InferenceConfig, logger *zap.Logger, reporter progress.Writer) (agent.LLM, error) {
			client, err := InitializeLLMClient(ctx, cfg, logger, reporter)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// NewComponentFactoryWith creates a factory with custom constructors.
func NewComponentFactoryWith(newLauncher LauncherFunc, newLLM LLMFunc) ComponentFactory {
	return &concreteFactory{newLauncher: newLauncher, newLLM: newLLM}
}

// Create wires the components. Nothing is started; call Components.Start.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{
		Reporter: progress.NewReporter(),
		Metrics:  metrics.NewCollector(MetricsNamespace),
	}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Persistence
	repo, err := InitializeStore(ctx, cfg, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Store = repo

	// 2. Inference
	llm, err := f.newLLM(ctx, cfg.Inference(), logger, components.Reporter)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize inference client: %w", err)
		return nil, initializationErr
	}
	components.LLM = llm
	logger.Debug("Inference client initialized.")

	// 3. One session, executor and agent per pooled runner.
	browserCfg := cfg.Browser()
	var sessionOpts []session.Option
	sessionOpts = append(sessionOpts, session.WithMetrics(components.Metrics))
	if browserCfg.CaptureScreenshots {
		sessionOpts = append(sessionOpts, session.WithScreenshotDir(filepath.Join(cfg.DataDir(), "screenshots")))
	}

	runners := make([]engine.Runner, 0, browserCfg.Sessions)
	for i := 0; i < browserCfg.Sessions; i++ {
		s := session.New(browserCfg, f.newLauncher(browserCfg, logger), components.Reporter, logger, sessionOpts...)
		components.Sessions = append(components.Sessions, s)

		a, err := agent.New(cfg.Agent(), cfg.Inference(), agent.Dependencies{
			LLM:      llm,
			Session:  s,
			Tools:    tools.NewExecutor(s, browserCfg, logger, components.Metrics),
			Progress: components.Reporter,
			Metrics:  components.Metrics,
		}, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create agent: %w", err)
			return nil, initializationErr
		}
		components.Agents = append(components.Agents, a)
		runners = append(runners, a)
	}
	logger.Debug("Agents created.", zap.Int("sessions", len(runners)))

	// 4. Task engine
	pool, err := engine.NewPool(runners...)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create runner pool: %w", err)
		return nil, initializationErr
	}
	var taskStore engine.Store
	if repo != nil {
		taskStore = repo
	}
	taskEngine, err := engine.New(cfg.Engine(), logger, taskStore, pool, components.Reporter)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize task engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = taskEngine
	logger.Debug("Task engine initialized.")

	// 5. API
	deps := api.Dependencies{
		Tasks:   taskEngine,
		Status:  components.Reporter,
		Metrics: components.Metrics,
	}
	if repo != nil {
		deps.History = repo
	}
	server, err := api.NewServer(cfg.Server(), deps, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create api server: %w", err)
		return nil, initializationErr
	}
	components.Server = server

	logger.Info("All components initialized.")
	return components, nil
}
