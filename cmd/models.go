// File: cmd/models.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/palmtree/internal/llmclient"
	"github.com/xkilldash9x/palmtree/internal/observability"
)

const gib = 1 << 30

func newModelsCmd() *cobra.Command {
	var pull bool
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Show the inference backend, the selected model and installed models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			out := cmd.OutOrStdout()

			inf := cfg.Inference()
			model, contextSize := llmclient.ResolveModel(inf, logger)
			client, err := llmclient.NewOllamaClient(inf, model, contextSize, logger)
			if err != nil {
				return err
			}

			if ram, err := llmclient.TotalMemory(); err == nil {
				tier := llmclient.SelectModelTier(ram)
				fmt.Fprintf(out, "Host memory:    %.1f GiB (tier %s, context %d)\n", float64(ram)/gib, tier.Model, tier.ContextSize)
			}
			fmt.Fprintf(out, "Selected model: %s (context %d)\n", model, contextSize)
			fmt.Fprintf(out, "Backend:        %s\n", client.Endpoint())

			installed, err := client.ListModels(ctx)
			if err != nil {
				failureColor.Fprintln(out, "Backend is not reachable.")
				return fmt.Errorf("failed to list models: %w", err)
			}

			found := false
			fmt.Fprintln(out, "Installed models:")
			if len(installed) == 0 {
				mutedColor.Fprintln(out, "  (none)")
			}
			for _, m := range installed {
				marker := " "
				if m.Name == model || m.Name == model+":latest" {
					marker = "*"
					found = true
				}
				fmt.Fprintf(out, "%s %-24s %8.2f GiB\n", marker, m.Name, float64(m.Size)/gib)
			}

			switch {
			case found:
				return nil
			case pull:
				last := ""
				err := client.Pull(ctx, model, func(p llmclient.PullProgress) {
					if p.Total > 0 {
						fmt.Fprintf(out, "\r%s: %d%%", p.Status, p.Completed*100/p.Total)
						last = p.Status
						return
					}
					if p.Status != last {
						fmt.Fprintf(out, "\n%s", p.Status)
						last = p.Status
					}
				})
				fmt.Fprintln(out)
				if err != nil {
					return fmt.Errorf("failed to pull %s: %w", model, err)
				}
				successColor.Fprintf(out, "Pulled %s.\n", model)
				return nil
			default:
				fmt.Fprintf(out, "The selected model is not installed. Run: palmtree models --pull\n")
				return nil
			}
		},
	}
	modelsCmd.Flags().BoolVar(&pull, "pull", false, "download the selected model if it is missing")
	return modelsCmd
}
