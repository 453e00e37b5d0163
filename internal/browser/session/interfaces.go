// internal/browser/session/interfaces.go
package session

import (
	"context"
	"time"
)

// Executor is a single connected browser tab. Each method is one protocol
// round-trip batch; the Session owns timeouts and state around it.
type Executor interface {
	// Navigate loads url, waits for the document to be ready and returns the
	// final URL together with the serialized DOM.
	Navigate(ctx context.Context, url string) (PageSource, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	// Text returns the rendered text of the first element matching selector,
	// or of the whole body when selector is empty.
	Text(ctx context.Context, selector string) (string, error)
	WaitVisible(ctx context.Context, selector string) error
	Sleep(ctx context.Context, d time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)

	// Done is closed once the protocol connection is lost.
	Done() <-chan struct{}
	// Close releases the tab and the browser process. It is safe to call more than once.
	Close() error
}

// Launcher starts a browser and connects an Executor to it.
type Launcher interface {
	Launch(ctx context.Context) (Executor, error)
}

// HeadlessLauncher is a Launcher that can switch between a visible and a
// headless browser for its next launch.
type HeadlessLauncher interface {
	Launcher
	SetHeadless(headless bool)
}

// PageSource is what an Executor reports after a navigation.
type PageSource struct {
	URL  string
	HTML string
}

// PageInfo summarizes a loaded page for the caller.
type PageInfo struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	LoginRequired  bool   `json:"login_required"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

// WaitCondition is either a selector to wait for or a fixed pause.
type WaitCondition struct {
	Selector string
	Duration time.Duration
}
