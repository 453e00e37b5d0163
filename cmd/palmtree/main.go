// File: cmd/palmtree/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/fatih/color"

	"github.com/xkilldash9x/palmtree/cmd"
	"github.com/xkilldash9x/palmtree/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
   \ | /      palmtree
  -- * --     local browser agent
   / | \      type an instruction, or exit to leave
     |
  ~~~~~~~~
`

// Function variables for substitution in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	execute     = defaultExecute
)

var defaultExecute = cmd.Execute

func main() {
	defer handlePanic()

	// Set up a context that listens for interrupt signals for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(exitCode(run(ctx, os.Args[1:])))
}

// run executes the given arguments, or starts the interactive shell when
// there are none.
func run(ctx context.Context, args []string) error {
	args = commandArgs(args)
	if args[0] == "shell" {
		color.New(color.FgGreen).Print(banner)
	}
	root := cmd.NewRootCommand()
	root.SetArgs(args)
	return execute(ctx, root)
}

func commandArgs(args []string) []string {
	if len(args) == 0 {
		return []string{"shell"}
	}
	return args
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		// Ctrl+C is a normal way to stop.
		return 0
	default:
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		return 1
	}
}

// handlePanic records a crash to panic.log before exiting.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "palmtree crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
