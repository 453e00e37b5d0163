// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/observability"
)

// ErrTaskFailed is returned by run when the task ends without success, so
// the process exits non-zero.
var ErrTaskFailed = errors.New("task did not succeed")

func newRunCmd(factory RuntimeFactory) *cobra.Command {
	var asJSON bool
	runCmd := &cobra.Command{
		Use:   "run <instruction...>",
		Short: "Carry out one instruction in the browser and print the result",
		Example: `  palmtree run "find the title of https://example.com"
  palmtree run --json open news.ycombinator.com and list the top story`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			instruction := strings.TrimSpace(strings.Join(args, " "))
			if instruction == "" {
				return agent.ErrEmptyInstruction
			}

			rt, err := startRuntime(ctx, factory, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			res, err := rt.Run(ctx, instruction)
			if err != nil {
				return fmt.Errorf("failed to run task: %w", err)
			}

			if asJSON {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printResult(cmd.OutOrStdout(), res)
			}

			switch res.Status {
			case agent.StatusSucceeded:
				return nil
			case agent.StatusCancelled:
				return context.Canceled
			default:
				return fmt.Errorf("%w: %s", ErrTaskFailed, res.Reason)
			}
		},
	}
	runCmd.Flags().BoolVar(&asJSON, "json", false, "print the full task record, including history, as JSON")
	return runCmd
}

// startRuntime builds and starts the runtime, shutting it down again if
// startup fails.
func startRuntime(ctx context.Context, factory RuntimeFactory, cfg *config.Config, logger *zap.Logger) (Runtime, error) {
	rt, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	if err := rt.Start(ctx); err != nil {
		rt.Shutdown()
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}
	return rt, nil
}
