// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fencedBlockRegex matches a markdown code fence, optionally tagged json.
// \x60 stands in for a backtick, which raw strings cannot hold.
var fencedBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(.*?)\\s*\x60\x60\x60")

// ExtractJSON pulls the JSON document out of a model completion. Fenced blocks
// win; otherwise the outermost object (or array) found in surrounding prose is
// used. The input is returned trimmed when nothing better is found.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if m := fencedBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
			return inner
		}
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	if first, last := strings.Index(response, "{"), strings.LastIndex(response, "}"); first != -1 && last > first {
		return response[first : last+1]
	}
	if first, last := strings.Index(response, "["), strings.LastIndex(response, "]"); first != -1 && last > first {
		return response[first : last+1]
	}
	return response
}

// ParseJSONResponse decodes a model completion into T after stripping markdown
// fences and conversational text around the JSON.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw := ExtractJSON(response)
	if raw == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON response: %w (extracted: %s)", err, Truncate(raw, 200))
	}
	return &result, nil
}

// Truncate shortens s to at most maxRunes runes, appending "..." when it cut
// anything.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if len(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
