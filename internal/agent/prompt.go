// internal/agent/prompt.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/palmtree/internal/llmclient"
	"github.com/xkilldash9x/palmtree/internal/tools"
)

const observationPrefix = "OBSERVATION: "

// actionDocs describes each action in the order of tools.Kinds.
var actionDocs = map[tools.Kind]string{
	tools.KindNavigate: `{"type": "navigate", "url": "https://example.com"}  Load a page. Returns the final URL, title and whether a login form is shown.`,
	tools.KindClick:    `{"type": "click", "selector": "button#submit"}  Click the first element matching a CSS selector.`,
	tools.KindType:     `{"type": "type", "selector": "input[name=q]", "text": "hello"}  Replace the value of an input and type the text.`,
	tools.KindExtract:  `{"type": "extract", "selector": "main"}  Read the visible text of an element. Omit the selector to read the whole page.`,
	tools.KindWait:     `{"type": "wait", "condition": "2s"}  Pause for a duration (at most 30s), or wait until a CSS selector is visible.`,
	tools.KindFinish:   `{"type": "finish", "result": "the answer"}  Stop and report the final answer to the user.`,
}

// BuildSystemPrompt assembles the instructions sent as the first turn of every task.
func BuildSystemPrompt() string {
	var sb strings.Builder

	sb.WriteString(`You are a browser automation agent running on the user's machine.
You control a real Chrome browser one action at a time. After every action you
receive an OBSERVATION describing what happened. Use it to decide the next action.

`)

	sb.WriteString("# AVAILABLE ACTIONS\n")
	for _, kind := range tools.Kinds {
		fmt.Fprintf(&sb, "- %s\n", actionDocs[kind])
	}

	sb.WriteString(`
# RESPONSE FORMAT
Respond with exactly one JSON object and nothing else:
{"thought": "short reasoning about the next step", "action": {"type": "...", ...}}

# HANDLING FAILURES
Observations report "success": false with a "failure" code when an action did not work:
- selector_not_found: the element does not exist or is not visible. Extract the page text and pick a different selector.
- navigation_timeout: the page did not load. Check the URL or try again once.
- invalid_action: your previous response could not be used. Follow the response format exactly.
If "login_required" is true, the page asks for credentials you do not have. Finish and tell the user.

# RULES
- Take one action per response.
- Never invent page content. Extract text before answering questions about a page.
- Finish as soon as you have the answer.
`)
	return sb.String()
}

// BuildMessages converts the visible history into chat messages. Observation
// turns are sent as user messages carrying the observation prefix.
func BuildMessages(turns []Turn) []llmclient.Message {
	msgs := make([]llmclient.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			msgs = append(msgs, llmclient.Message{Role: llmclient.RoleSystem, Content: t.Content})
		case RoleAssistant:
			msgs = append(msgs, llmclient.Message{Role: llmclient.RoleAssistant, Content: t.Content})
		case RoleObservation:
			msgs = append(msgs, llmclient.Message{Role: llmclient.RoleUser, Content: observationPrefix + t.Content})
		default:
			msgs = append(msgs, llmclient.Message{Role: llmclient.RoleUser, Content: t.Content})
		}
	}
	return msgs
}
