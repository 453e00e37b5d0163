// File: cmd/shell.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/observability"
)

const shellPrompt = "palmtree > "

func newShellCmd(factory RuntimeFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session; each line is an instruction",
		Long:  "Start an interactive session. Each line is run as one task on a browser that stays open between lines. Type /visible or /headless to restart the browser in that mode, and exit, quit or q to leave.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Starting browser and inference backend...")
			rt, err := startRuntime(ctx, factory, cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			return runShell(ctx, rt, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// runShell reads instructions until EOF, an exit word, or ctx ends. A task
// interrupted by ctx ends the session; any other failure is printed and the
// shell continues.
func runShell(ctx context.Context, rt Runtime, in io.Reader, out io.Writer) error {
	logger := observability.GetLogger()
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, shellPrompt)
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit", "q":
			fmt.Fprintln(out, "Goodbye.")
			return nil
		case "/visible", "/headless":
			headless := strings.EqualFold(line, "/headless")
			if err := rt.SetHeadless(ctx, headless); err != nil {
				failureColor.Fprintf(out, "Error: %v\n", err)
				continue
			}
			if headless {
				mutedColor.Fprintln(out, "Browser is now headless.")
			} else {
				mutedColor.Fprintln(out, "Browser is now visible.")
			}
			continue
		}

		res, err := rt.Run(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("Task could not run.", zap.Error(err))
			failureColor.Fprintf(out, "Error: %v\n", err)
			continue
		}
		printResult(out, res)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error reading input: %w", err)
	}
	fmt.Fprintln(out)
	return nil
}
