// internal/agent/history.go
package agent

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xkilldash9x/palmtree/internal/llmutil"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem      Role = "system"
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleObservation Role = "observation"
)

// Turn is one entry of the conversation.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Step    int       `json:"step"`
	At      time.Time `json:"at"`
	// Summary marks the synthetic turn that stands in for bounded-out turns.
	Summary bool `json:"summary,omitempty"`
}

// History is the append-only record of a task's conversation. The visible
// window sent to the model can be bounded; every appended turn stays in the
// full log.
type History struct {
	mu      sync.Mutex
	all     []Turn
	visible []Turn
	now     func() time.Time

	// Totals behind the summary turn; it never grows with the run.
	omitted omittedSpan
}

type omittedSpan struct {
	turns     int
	firstStep int
	lastStep  int
	lastObs   string
}

// summaryObservationChars caps the quoted observation in a summary turn.
const summaryObservationChars = 300

func NewHistory() *History {
	return &History{now: time.Now}
}

// Append adds a turn to both the log and the visible window.
func (h *History) Append(role Role, content string, step int) Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := Turn{Role: role, Content: content, Step: step, At: h.now().UTC()}
	h.all = append(h.all, t)
	h.visible = append(h.visible, t)
	return t
}

// Turns returns a copy of the visible window.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Turn(nil), h.visible...)
}

// All returns a copy of every appended turn in order.
func (h *History) All() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Turn(nil), h.all...)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.visible)
}

// Chars counts the runes in the visible window.
func (h *History) Chars() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return countChars(h.visible)
}

func countChars(turns []Turn) int {
	n := 0
	for _, t := range turns {
		n += utf8.RuneCountInString(t.Content)
	}
	return n
}

// Bound shrinks the visible window once it holds more than maxTurns turns or
// maxChars characters (zero disables either limit). Leading system turns and
// the instruction stay pinned, the last keepRecent turns stay verbatim, and
// everything in between is replaced by one summary turn. It reports whether
// anything was dropped.
func (h *History) Bound(maxTurns, maxChars, keepRecent int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	over := (maxTurns > 0 && len(h.visible) > maxTurns) ||
		(maxChars > 0 && countChars(h.visible) > maxChars)
	if !over {
		return false
	}
	if keepRecent < 0 {
		keepRecent = 0
	}

	pinned := h.pinnedLocked()
	end := len(h.visible) - keepRecent
	if end <= pinned {
		return false
	}

	dropped := h.visible[pinned:end]
	h.omitted.add(dropped)
	summary := Turn{
		Role:    RoleUser,
		Content: h.omitted.summary(),
		Step:    dropped[len(dropped)-1].Step,
		At:      h.now().UTC(),
		Summary: true,
	}

	next := make([]Turn, 0, pinned+1+keepRecent)
	next = append(next, h.visible[:pinned]...)
	next = append(next, summary)
	next = append(next, h.visible[end:]...)
	h.visible = next
	return true
}

// pinnedLocked counts the leading system turns plus the first user turn.
func (h *History) pinnedLocked() int {
	i := 0
	for i < len(h.visible) && h.visible[i].Role == RoleSystem && !h.visible[i].Summary {
		i++
	}
	if i < len(h.visible) && h.visible[i].Role == RoleUser && !h.visible[i].Summary {
		i++
	}
	return i
}

// add folds newly dropped turns into the totals. An earlier summary turn is
// already counted and is skipped.
func (o *omittedSpan) add(dropped []Turn) {
	for _, t := range dropped {
		if t.Summary {
			continue
		}
		if o.turns == 0 {
			o.firstStep = t.Step
		}
		o.turns++
		o.lastStep = t.Step
		if t.Role == RoleObservation {
			o.lastObs = llmutil.Truncate(t.Content, summaryObservationChars)
		}
	}
}

func (o *omittedSpan) summary() string {
	s := fmt.Sprintf("[%d earlier turns from steps %d-%d omitted]", o.turns, o.firstStep, o.lastStep)
	if o.lastObs != "" {
		s += " Last omitted observation: " + o.lastObs
	}
	return s
}
