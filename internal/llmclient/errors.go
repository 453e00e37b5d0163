// internal/llmclient/errors.go
package llmclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTimeout means a request exceeded inference.request_timeout.
	ErrTimeout = errors.New("inference request timed out")
	// ErrUnreachable means the backend could not be contacted at all.
	ErrUnreachable = errors.New("inference backend unreachable")
	// ErrBackend wraps 5xx and 429 answers.
	ErrBackend = errors.New("inference backend error")
	// ErrRequest wraps 4xx answers other than 429. Retrying will not help.
	ErrRequest = errors.New("inference request rejected")
	// ErrEmptyResponse is returned when the backend answers without content.
	ErrEmptyResponse = errors.New("inference backend returned an empty response")
)

// IsRetryable reports whether err is a transient inference failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrBackend) ||
		errors.Is(err, ErrEmptyResponse)
}

// statusError maps a non-200 answer onto the error taxonomy.
func statusError(status int, body []byte) error {
	msg := apiErrorMessage(body)
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrBackend, status, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRequest, status, msg)
	}
}

// apiErrorMessage pulls {"error": "..."} out of an Ollama error body.
func apiErrorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
