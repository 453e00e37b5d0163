// internal/tools/action.go
package tools

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/palmtree/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidAction wraps every decode and validation failure.
var ErrInvalidAction = errors.New("invalid action")

// Kind names an action variant on the wire.
type Kind string

const (
	KindNavigate Kind = "navigate"
	KindClick    Kind = "click"
	KindType     Kind = "type"
	KindExtract  Kind = "extract"
	KindWait     Kind = "wait"
	KindFinish   Kind = "finish"
)

// Kinds lists every action the agent may request, in prompt order.
var Kinds = []Kind{KindNavigate, KindClick, KindType, KindExtract, KindWait, KindFinish}

// Action is the closed set of requests a model can make. Only the types in
// this file implement it.
type Action interface {
	Kind() Kind
	isAction()
}

type Navigate struct {
	URL string `json:"url"`
}

type Click struct {
	Selector string `json:"selector"`
}

type Type struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// Extract reads the text of Selector, or of the whole page when it is empty.
type Extract struct {
	Selector string `json:"selector,omitempty"`
}

// Wait pauses for a duration ("2s", "1.5") or until a selector is visible.
type Wait struct {
	Condition string `json:"condition"`
}

// Finish ends the task with Result as the answer.
type Finish struct {
	Result string `json:"result"`
}

func (Navigate) Kind() Kind { return KindNavigate }
func (Click) Kind() Kind    { return KindClick }
func (Type) Kind() Kind     { return KindType }
func (Extract) Kind() Kind  { return KindExtract }
func (Wait) Kind() Kind     { return KindWait }
func (Finish) Kind() Kind   { return KindFinish }

func (Navigate) isAction() {}
func (Click) isAction()    {}
func (Type) isAction()     {}
func (Extract) isAction()  {}
func (Wait) isAction()     {}
func (Finish) isAction()   {}

// Describe renders an action for logs.
func Describe(a Action) string {
	switch a := a.(type) {
	case Navigate:
		return fmt.Sprintf("navigate %s", a.URL)
	case Click:
		return fmt.Sprintf("click %s", a.Selector)
	case Type:
		return fmt.Sprintf("type into %s (%d chars)", a.Selector, len(a.Text))
	case Extract:
		if a.Selector == "" {
			return "extract page text"
		}
		return fmt.Sprintf("extract %s", a.Selector)
	case Wait:
		return fmt.Sprintf("wait %s", a.Condition)
	case Finish:
		return "finish"
	default:
		return "unknown action"
	}
}

// wireAction is the JSON shape of one action.
type wireAction struct {
	Type      string      `json:"type"`
	URL       string      `json:"url"`
	Selector  string      `json:"selector"`
	Text      string      `json:"text"`
	Condition interface{} `json:"condition"`
	Seconds   *float64    `json:"seconds"`
	Result    string      `json:"result"`
}

// wireCompletion accepts {"thought": .., "action": {..}} as well as a flat
// action object, with "action" optionally carrying the type name.
type wireCompletion struct {
	Thought string              `json:"thought"`
	Action  jsoniter.RawMessage `json:"action"`
	wireAction
}

// Decoded is a parsed model completion.
type Decoded struct {
	Thought string
	Action  Action
}

// ParseCompletion extracts and decodes the action in a model completion. The
// result is not validated; Executor.Execute does that before dispatch.
func ParseCompletion(completion string) (Decoded, error) {
	if strings.TrimSpace(completion) == "" {
		return Decoded{}, fmt.Errorf("%w: empty response", ErrInvalidAction)
	}

	parsed, err := llmutil.ParseJSONResponse[wireCompletion](completion)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: response is not a JSON object: %v", ErrInvalidAction, err)
	}
	env := *parsed

	w := env.wireAction
	if trimmed := strings.TrimSpace(string(env.Action)); trimmed != "" && trimmed != "null" {
		switch trimmed[0] {
		case '{':
			w = wireAction{}
			if err := json.Unmarshal(env.Action, &w); err != nil {
				return Decoded{}, fmt.Errorf("%w: malformed action object: %v", ErrInvalidAction, err)
			}
		case '"':
			var name string
			if err := json.Unmarshal(env.Action, &name); err != nil {
				return Decoded{}, fmt.Errorf("%w: malformed action name: %v", ErrInvalidAction, err)
			}
			if w.Type == "" {
				w.Type = name
			}
		default:
			return Decoded{}, fmt.Errorf("%w: \"action\" must be an object", ErrInvalidAction)
		}
	}

	action, err := w.toAction()
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Thought: env.Thought, Action: action}, nil
}

func (w wireAction) toAction() (Action, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(w.Type))) {
	case KindNavigate:
		return Navigate{URL: w.URL}, nil
	case KindClick:
		return Click{Selector: w.Selector}, nil
	case KindType:
		return Type{Selector: w.Selector, Text: w.Text}, nil
	case KindExtract:
		return Extract{Selector: w.Selector}, nil
	case KindWait:
		return Wait{Condition: w.condition()}, nil
	case KindFinish:
		return Finish{Result: w.Result}, nil
	case "":
		return nil, fmt.Errorf("%w: missing action type", ErrInvalidAction)
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, w.Type)
	}
}

// condition flattens the accepted wait spellings into a single string.
func (w wireAction) condition() string {
	switch c := w.Condition.(type) {
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	}
	if w.Seconds != nil {
		return strconv.FormatFloat(*w.Seconds, 'f', -1, 64)
	}
	if w.Selector != "" {
		return w.Selector
	}
	return ""
}
