// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/metrics"
	"github.com/xkilldash9x/palmtree/internal/progress"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateExecuting
	StateClosed
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateClosed:
		return "closed"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session owns one browser connection and serializes its lifecycle. Every
// primitive leaves the session either ready or crashed when it returns.
type Session struct {
	id       string
	cfg      config.BrowserConfig
	launcher Launcher
	logger   *zap.Logger
	progress progress.Writer
	metrics  *metrics.Collector

	screenshotDir string

	mu    sync.Mutex
	state State
	exec  Executor
}

// Option configures optional Session collaborators.
type Option func(*Session)

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Session) { s.metrics = c }
}

// WithScreenshotDir enables writing navigation screenshots to dir.
func WithScreenshotDir(dir string) Option {
	return func(s *Session) { s.screenshotDir = dir }
}

// New returns an uninitialized session. reporter may be nil.
func New(cfg config.BrowserConfig, launcher Launcher, reporter progress.Writer, logger *zap.Logger, opts ...Option) *Session {
	id := uuid.NewString()
	s := &Session{
		id:       id,
		cfg:      cfg,
		launcher: launcher,
		progress: reporter,
		logger:   logger.Named("session").With(zap.String("session_id", id)),
		state:    StateUninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setStateLocked must be called with s.mu held.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("Session state change.", zap.Stringer("from", s.state), zap.Stringer("to", next))
	s.state = next
	s.metrics.RecordSessionState(next.String())
}

func (s *Session) report(phase progress.Phase, message string, percent int) {
	if s.progress != nil {
		s.progress.SetPhase(phase, message, percent)
	}
}

// Start launches the browser and connects to it. A ready session is left
// alone; uninitialized, closed and crashed sessions are (re)started.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateConnecting, StateExecuting:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrNotReady, state)
	}
	stale := s.exec
	s.exec = nil
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	if stale != nil {
		if err := stale.Close(); err != nil {
			s.logger.Debug("Error releasing previous browser.", zap.Error(err))
		}
	}

	s.report(progress.PhaseBrowserStarting, "Starting browser", 10)
	s.logger.Info("Starting browser session.")

	connectCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}
	exec, err := s.launcher.Launch(connectCtx)

	s.mu.Lock()
	if s.state != StateConnecting {
		// Stop ran while we were connecting.
		s.mu.Unlock()
		if exec != nil {
			_ = exec.Close()
		}
		return ErrClosed
	}
	if err != nil {
		s.setStateLocked(StateCrashed)
		s.mu.Unlock()
		err = classifyLaunchError(connectCtx, err)
		s.logger.Error("Failed to start browser session.", zap.Error(err))
		s.report(progress.PhaseError, "Browser failed to start", 0)
		return err
	}
	s.exec = exec
	s.setStateLocked(StateReady)
	s.mu.Unlock()

	go s.watch(exec)

	s.logger.Info("Browser session ready.")
	s.report(progress.PhaseIdle, "Browser ready", 100)
	return nil
}

func classifyLaunchError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrLaunch), errors.Is(err, ErrConnectTimeout):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}
}

// watch marks the session crashed when exec loses its connection, unless the
// session moved on to another executor or was stopped.
func (s *Session) watch(exec Executor) {
	<-exec.Done()

	s.mu.Lock()
	if s.exec != exec || (s.state != StateReady && s.state != StateExecuting) {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateCrashed)
	s.mu.Unlock()

	s.logger.Error("Browser connection lost.")
	s.report(progress.PhaseError, "Browser disconnected", 0)
}

// Stop releases the browser. It is idempotent and always ends closed.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	exec := s.exec
	s.exec = nil
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if exec != nil {
		if err := exec.Close(); err != nil {
			s.logger.Warn("Error while closing browser.", zap.Error(err))
		}
	}
	s.logger.Info("Browser session stopped.")
	return nil
}

// Headless reports the display mode used for the next (or current) browser.
func (s *Session) Headless() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Headless
}

// SetHeadless switches the browser between visible and headless. A running
// or crashed browser is restarted in the new mode; an idle or stopped
// session only records it for its next Start.
func (s *Session) SetHeadless(ctx context.Context, headless bool) error {
	hl, ok := s.launcher.(HeadlessLauncher)
	if !ok {
		return ErrModeUnsupported
	}

	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateExecuting:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrNotReady, state)
	}
	if s.cfg.Headless == headless {
		s.mu.Unlock()
		return nil
	}
	s.cfg.Headless = headless
	hl.SetHeadless(headless)

	restart := s.state == StateReady || s.state == StateCrashed
	var stale Executor
	if s.state == StateReady {
		stale = s.exec
		s.exec = nil
		s.setStateLocked(StateClosed)
	}
	s.mu.Unlock()

	s.logger.Info("Switching browser display mode.", zap.Bool("headless", headless), zap.Bool("restart", restart))
	if stale != nil {
		if err := stale.Close(); err != nil {
			s.logger.Debug("Error releasing previous browser.", zap.Error(err))
		}
	}
	if !restart {
		return nil
	}
	return s.Start(ctx)
}

func (s *Session) checkReadyLocked() error {
	switch s.state {
	case StateReady:
		return nil
	case StateCrashed:
		return ErrDisconnected
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("%w: session is %s", ErrNotReady, s.state)
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// do runs one primitive against the executor with its own timeout. The
// deferred block restores ready, or crashed if the connection died, on every
// exit path including panics.
func (s *Session) do(ctx context.Context, op string, timeout time.Duration, fn func(context.Context, Executor) error) (err error) {
	s.mu.Lock()
	if err := s.checkReadyLocked(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	exec := s.exec
	s.setStateLocked(StateExecuting)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic during browser operation.", zap.String("op", op), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%s: panic: %v", op, r)
		}

		disconnected := isDone(exec.Done())
		s.mu.Lock()
		if s.state == StateExecuting && s.exec == exec {
			if disconnected {
				s.setStateLocked(StateCrashed)
			} else {
				s.setStateLocked(StateReady)
			}
		}
		s.mu.Unlock()

		if disconnected && err != nil && !errors.Is(err, ErrDisconnected) {
			err = fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
	}()

	opCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = fn(opCtx, exec)
	if err == nil {
		return nil
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, ErrDisconnected) {
		return fmt.Errorf("%s timed out after %s: %w", op, timeout, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Navigate loads url and inspects the resulting page.
func (s *Session) Navigate(ctx context.Context, url string) (PageInfo, error) {
	var info PageInfo
	err := s.do(ctx, "navigate", s.cfg.NavigationTimeout, func(ctx context.Context, exec Executor) error {
		src, err := exec.Navigate(ctx, url)
		if err != nil {
			return err
		}
		info.URL = src.URL
		title, login, err := inspectPage(src.HTML)
		if err != nil {
			s.logger.Debug("Page inspection failed.", zap.Error(err))
		}
		info.Title = title
		info.LoginRequired = login

		if s.cfg.CaptureScreenshots && s.screenshotDir != "" {
			path, err := s.captureScreenshot(ctx, exec)
			if err != nil {
				// Screenshots are a side product of navigation.
				s.logger.Warn("Failed to capture navigation screenshot.", zap.Error(err))
			} else {
				info.ScreenshotPath = path
			}
		}
		return nil
	})
	if err != nil {
		return PageInfo{}, err
	}
	return info, nil
}

func (s *Session) captureScreenshot(ctx context.Context, exec Executor) (string, error) {
	buf, err := exec.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.screenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	path := filepath.Join(s.screenshotDir, fmt.Sprintf("%s-%d.png", s.id[:8], time.Now().UnixNano()))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.do(ctx, "click", s.cfg.ActionTimeout, func(ctx context.Context, exec Executor) error {
		return exec.Click(ctx, selector)
	})
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	return s.do(ctx, "type", s.cfg.ActionTimeout, func(ctx context.Context, exec Executor) error {
		return exec.Type(ctx, selector, text)
	})
}

// Extract returns the text of the first element matching selector, or of the
// page body for an empty selector.
func (s *Session) Extract(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.do(ctx, "extract", s.cfg.ActionTimeout, func(ctx context.Context, exec Executor) error {
		var err error
		text, err = exec.Text(ctx, selector)
		return err
	})
	return text, err
}

// Wait blocks until the selector is visible or the fixed pause has elapsed.
func (s *Session) Wait(ctx context.Context, cond WaitCondition) error {
	if cond.Selector != "" {
		return s.do(ctx, "wait", s.cfg.ActionTimeout, func(ctx context.Context, exec Executor) error {
			return exec.WaitVisible(ctx, cond.Selector)
		})
	}
	return s.do(ctx, "wait", cond.Duration+s.cfg.ActionTimeout, func(ctx context.Context, exec Executor) error {
		return exec.Sleep(ctx, cond.Duration)
	})
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.do(ctx, "screenshot", s.cfg.ActionTimeout, func(ctx context.Context, exec Executor) error {
		var err error
		buf, err = exec.Screenshot(ctx)
		return err
	})
	return buf, err
}
