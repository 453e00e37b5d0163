// File: cmd/output.go
package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/palmtree/internal/agent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	mutedColor   = color.New(color.Faint)
)

// printResult writes a task result for a human. Colors follow
// fatih/color's NoColor detection.
func printResult(w io.Writer, res *agent.TaskResult) {
	switch res.Status {
	case agent.StatusSucceeded:
		successColor.Fprintln(w, res.Summary())
	case agent.StatusCancelled:
		mutedColor.Fprintln(w, res.Summary())
	default:
		failureColor.Fprintln(w, res.Summary())
	}
	mutedColor.Fprintf(w, "task %s: %s in %d step(s)\n", res.TaskID, res.Status, res.Steps)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
