// internal/tools/validate.go
package tools

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"

	"github.com/xkilldash9x/palmtree/internal/browser/session"
)

// MaxWait bounds the fixed pause a model may request.
const MaxWait = 30 * time.Second

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"file":  true,
	"about": true,
}

// Validate checks an action's shape and returns it normalised. It never
// touches a browser.
func Validate(a Action) (Action, error) {
	switch a := a.(type) {
	case Navigate:
		u, err := NormalizeURL(a.URL)
		if err != nil {
			return nil, err
		}
		return Navigate{URL: u}, nil
	case Click:
		sel, err := validateSelector(a.Selector, true)
		if err != nil {
			return nil, err
		}
		return Click{Selector: sel}, nil
	case Type:
		sel, err := validateSelector(a.Selector, true)
		if err != nil {
			return nil, err
		}
		if a.Text == "" {
			return nil, fmt.Errorf("%w: type requires non-empty text", ErrInvalidAction)
		}
		return Type{Selector: sel, Text: a.Text}, nil
	case Extract:
		sel, err := validateSelector(a.Selector, false)
		if err != nil {
			return nil, err
		}
		return Extract{Selector: sel}, nil
	case Wait:
		if _, err := ParseWaitCondition(a.Condition); err != nil {
			return nil, err
		}
		return Wait{Condition: strings.TrimSpace(a.Condition)}, nil
	case Finish:
		return Finish{Result: strings.TrimSpace(a.Result)}, nil
	case nil:
		return nil, fmt.Errorf("%w: no action", ErrInvalidAction)
	default:
		return nil, fmt.Errorf("%w: unsupported action %T", ErrInvalidAction, a)
	}
}

// NormalizeURL accepts absolute http(s), file and about URLs. A bare host such
// as "example.com/path" is taken to mean https.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: navigate requires a url", ErrInvalidAction)
	}
	if !strings.Contains(raw, "://") && !strings.HasPrefix(strings.ToLower(raw), "about:") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed url %q: %v", ErrInvalidAction, raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !allowedSchemes[scheme] {
		return "", fmt.Errorf("%w: unsupported url scheme %q", ErrInvalidAction, u.Scheme)
	}

	switch scheme {
	case "http", "https":
		if u.Hostname() == "" {
			return "", fmt.Errorf("%w: url %q has no host", ErrInvalidAction, raw)
		}
	case "file":
		if u.Path == "" {
			return "", fmt.Errorf("%w: file url %q has no path", ErrInvalidAction, raw)
		}
	case "about":
		if u.Opaque == "" {
			return "", fmt.Errorf("%w: about url %q has no page", ErrInvalidAction, raw)
		}
	}
	return u.String(), nil
}

func validateSelector(sel string, required bool) (string, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		if required {
			return "", fmt.Errorf("%w: selector is required", ErrInvalidAction)
		}
		return "", nil
	}
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return "", fmt.Errorf("%w: invalid CSS selector %q: %v", ErrInvalidAction, sel, err)
	}
	return sel, nil
}

// ParseWaitCondition reads a Go duration ("1500ms") or a number of seconds
// ("2", "0.5") as a pause of at most MaxWait. Anything else must be a CSS
// selector to wait for.
func ParseWaitCondition(cond string) (session.WaitCondition, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return session.WaitCondition{}, fmt.Errorf("%w: wait requires a condition", ErrInvalidAction)
	}

	d, isDuration := parsePause(cond)
	if isDuration {
		if d <= 0 || d > MaxWait {
			return session.WaitCondition{}, fmt.Errorf("%w: wait duration must be between 0 and %s, got %s", ErrInvalidAction, MaxWait, d)
		}
		return session.WaitCondition{Duration: d}, nil
	}

	sel, err := validateSelector(cond, true)
	if err != nil {
		return session.WaitCondition{}, err
	}
	return session.WaitCondition{Selector: sel}, nil
}

func parsePause(cond string) (time.Duration, bool) {
	if secs, err := strconv.ParseFloat(cond, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if d, err := time.ParseDuration(cond); err == nil {
		return d, true
	}
	return 0, false
}
