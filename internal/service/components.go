// File: internal/service/components.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/api"
	"github.com/xkilldash9x/palmtree/internal/browser/session"
	"github.com/xkilldash9x/palmtree/internal/engine"
	"github.com/xkilldash9x/palmtree/internal/metrics"
	"github.com/xkilldash9x/palmtree/internal/observability"
	"github.com/xkilldash9x/palmtree/internal/progress"
	"github.com/xkilldash9x/palmtree/internal/store"
)

// Components holds everything a running agent needs and centralizes its
// lifecycle.
type Components struct {
	Reporter *progress.Reporter
	Metrics  *metrics.Collector
	Store    store.Repository
	LLM      agent.LLM
	Sessions []*session.Session
	Agents   []*agent.Agent
	Engine   *engine.TaskEngine
	Server   *api.Server

	shutdownOnce sync.Once
}

// Start warms every browser session and starts the task engine. A session
// that fails to start is retried lazily by the first task that leases it, so
// Start only fails when no session came up.
func (c *Components) Start(ctx context.Context) error {
	logger := observability.GetLogger()

	var (
		mu      sync.Mutex
		started int
		lastErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range c.Sessions {
		g.Go(func() error {
			err := s.Start(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Browser session failed to start.", zap.String("session_id", s.ID()), zap.Error(err))
				lastErr = err
				return nil
			}
			started++
			return nil
		})
	}
	_ = g.Wait()

	if len(c.Sessions) > 0 && started == 0 {
		return fmt.Errorf("no browser session could be started: %w", lastErr)
	}

	if c.Engine != nil {
		c.Engine.Start(ctx)
	}
	logger.Info("Agent ready.", zap.Int("sessions", started))
	return nil
}

// Run executes one instruction on the engine and waits for its result.
func (c *Components) Run(ctx context.Context, instruction string) (*agent.TaskResult, error) {
	if c.Engine == nil {
		return nil, engine.ErrNotRunning
	}
	return c.Engine.Run(ctx, instruction)
}

// SetHeadless switches every browser session between visible and headless.
// A session busy with a task reports session.ErrNotReady and keeps its mode.
func (c *Components) SetHeadless(ctx context.Context, headless bool) error {
	var errs []error
	for _, s := range c.Sessions {
		if err := s.SetHeadless(ctx, headless); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	observability.GetLogger().Info("Browser display mode changed.", zap.Bool("headless", headless))
	return nil
}

// Serve runs the API until ctx is cancelled. The engine is stopped as soon as
// serving ends so chat requests blocked on a task return before the server's
// shutdown deadline.
func (c *Components) Serve(ctx context.Context) error {
	if c.Server == nil {
		return fmt.Errorf("api server is not configured")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if c.Engine != nil {
			c.Engine.Stop()
		}
		return nil
	})
	return g.Wait()
}

// Shutdown releases all components in reverse dependency order. It is safe
// to call more than once and on partially built Components.
func (c *Components) Shutdown() {
	c.shutdownOnce.Do(c.shutdown)
}

func (c *Components) shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the engine first so no new work reaches the sessions.
	if c.Engine != nil {
		c.Engine.Stop()
		logger.Debug("Task engine stopped.")
	}

	// 2. Close the browsers.
	for _, s := range c.Sessions {
		if err := s.Stop(); err != nil {
			logger.Warn("Error stopping browser session.", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
	if len(c.Sessions) > 0 {
		logger.Debug("Browser sessions stopped.", zap.Int("count", len(c.Sessions)))
	}

	// 3. Close persistence last; the engine writes terminal records while stopping.
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Error closing task store.", zap.Error(err))
		} else {
			logger.Debug("Task store closed.")
		}
	}

	logger.Info("All components shut down.")
}
