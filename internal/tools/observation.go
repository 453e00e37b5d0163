// internal/tools/observation.go
package tools

import (
	"errors"
	"strings"

	"github.com/xkilldash9x/palmtree/internal/browser/session"
)

// Failure is the fixed taxonomy of action outcomes the planner sees.
type Failure string

const (
	FailureSelectorNotFound     Failure = "selector_not_found"
	FailureNavigationTimeout    Failure = "navigation_timeout"
	FailureProtocolDisconnected Failure = "protocol_disconnected"
	FailureInvalidAction        Failure = "invalid_action"
)

// Observation is the result of one action, success or typed failure.
type Observation struct {
	Action  Kind    `json:"action"`
	Success bool    `json:"success"`
	Failure Failure `json:"failure,omitempty"`
	Message string  `json:"message,omitempty"`

	URL            string `json:"url,omitempty"`
	Title          string `json:"title,omitempty"`
	LoginRequired  bool   `json:"login_required,omitempty"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
	Text           string `json:"text,omitempty"`
}

func failed(kind Kind, failure Failure, msg string) Observation {
	return Observation{Action: kind, Failure: failure, Message: msg}
}

// Render serializes the observation for the conversation history.
func (o Observation) Render() string {
	b, err := json.Marshal(o)
	if err != nil {
		return `{"success":false,"message":"unrenderable observation"}`
	}
	return string(b)
}

// Classify maps a browser error onto the failure taxonomy. Disconnects win
// over everything; otherwise navigation failures are navigation_timeout and
// element failures are selector_not_found.
func Classify(kind Kind, err error) Failure {
	switch {
	case errors.Is(err, session.ErrDisconnected),
		errors.Is(err, session.ErrClosed),
		errors.Is(err, session.ErrNotReady),
		isConnectionError(err):
		return FailureProtocolDisconnected
	case errors.Is(err, ErrInvalidAction):
		return FailureInvalidAction
	case kind == KindNavigate:
		return FailureNavigationTimeout
	default:
		return FailureSelectorNotFound
	}
}

var connectionErrorMarkers = []string{
	"broken pipe",
	"connection reset",
	"connection refused",
	"use of closed network connection",
	"websocket: close",
	"unexpected EOF",
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range connectionErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
