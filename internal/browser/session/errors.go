// internal/browser/session/errors.go
package session

import "errors"

var (
	// ErrLaunch means the browser executable was missing or failed to start.
	ErrLaunch = errors.New("browser launch failed")
	// ErrConnectTimeout means the protocol endpoint did not answer within browser.connect_timeout.
	ErrConnectTimeout = errors.New("browser connect timed out")
	// ErrDisconnected means the protocol connection is gone. The session is crashed
	// and must be restarted.
	ErrDisconnected = errors.New("protocol disconnected")
	ErrNotReady     = errors.New("session not ready")
	ErrClosed       = errors.New("session closed")
	ErrTimeout      = errors.New("browser operation timed out")
	// ErrElementNotFound is returned when no element matches a selector.
	ErrElementNotFound = errors.New("element not found")
	// ErrModeUnsupported means the launcher cannot switch between headed and headless.
	ErrModeUnsupported = errors.New("display mode switch not supported")
)
