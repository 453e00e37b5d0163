// internal/browser/session/launcher.go
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/config"
)

// Names looked up on PATH before the fixed install locations are tried.
var chromeBinaryNames = []string{
	"chromium-browser",
	"chromium",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
}

var chromeInstallPaths = map[string][]string{
	"linux": {
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/chrome",
		"/snap/bin/chromium",
	},
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

// Seams for tests.
var (
	lookPath = exec.LookPath
	statFile = os.Stat
	goos     = runtime.GOOS
)

// FindChrome returns the configured executable when it exists, otherwise the
// first Chrome or Chromium found on PATH or in a well-known install location.
func FindChrome(configured string) (string, error) {
	if configured != "" {
		if _, err := statFile(configured); err != nil {
			return "", fmt.Errorf("%w: configured browser executable %q: %v", ErrLaunch, configured, err)
		}
		return configured, nil
	}

	for _, name := range chromeBinaryNames {
		if path, err := lookPath(name); err == nil {
			return path, nil
		}
	}
	for _, path := range chromeInstallPaths[goos] {
		if _, err := statFile(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no Chrome or Chromium executable found; set browser.exec_path", ErrLaunch)
}

// ExecAllocatorOptions translates the browser configuration into chromedp
// allocator options.
func ExecAllocatorOptions(cfg config.BrowserConfig, execPath string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	// The defaults already run headless.
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.DebugPort > 0 {
		opts = append(opts, chromedp.Flag("remote-debugging-port", strconv.Itoa(cfg.DebugPort)))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(arg, "--")
		if arg == "" {
			continue
		}
		key, value, hasValue := strings.Cut(arg, "=")
		if !hasValue {
			opts = append(opts, chromedp.Flag(key, true))
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// ChromeLauncher starts a local Chrome through chromedp's exec allocator.
type ChromeLauncher struct {
	mu     sync.Mutex
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var _ HeadlessLauncher = (*ChromeLauncher)(nil)

func NewChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger.Named("launcher")}
}

// Launch starts the browser and opens a tab. The browser lives until the
// returned Executor is closed; ctx only bounds the connection attempt.
// SetHeadless changes the display mode used by the next Launch.
func (l *ChromeLauncher) SetHeadless(headless bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Headless = headless
}

func (l *ChromeLauncher) Launch(ctx context.Context) (Executor, error) {
	l.mu.Lock()
	cfg := l.cfg
	l.mu.Unlock()

	execPath, err := FindChrome(cfg.ExecPath)
	if err != nil {
		return nil, err
	}
	l.logger.Info("Launching browser.", zap.String("exec_path", execPath), zap.Bool("headless", cfg.Headless))

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), ExecAllocatorOptions(cfg, execPath)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)

	// The first Run on the tab context starts the process. It must not run on
	// ctx itself or the browser would die with the connection deadline.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancelTab()
			cancelAlloc()
			return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
		}
	case <-ctx.Done():
		cancelTab()
		cancelAlloc()
		<-started
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no protocol endpoint after %s", ErrConnectTimeout, cfg.ConnectTimeout)
		}
		return nil, ctx.Err()
	}

	l.logger.Info("Browser connected.")
	return newCDPExecutor(tabCtx, cancelTab, cancelAlloc, l.logger), nil
}
