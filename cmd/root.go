// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/agent"
	"github.com/xkilldash9x/palmtree/internal/config"
	"github.com/xkilldash9x/palmtree/internal/observability"
	"github.com/xkilldash9x/palmtree/internal/service"
)

type contextKey string

const configKey contextKey = "config"

var cfgFile string

// Runtime is the slice of service.Components the commands drive.
type Runtime interface {
	Start(ctx context.Context) error
	Run(ctx context.Context, instruction string) (*agent.TaskResult, error)
	Serve(ctx context.Context) error
	// SetHeadless restarts the browsers visible or headless.
	SetHeadless(ctx context.Context, headless bool) error
	Shutdown()
}

// RuntimeFactory builds a Runtime from the loaded configuration.
type RuntimeFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Runtime, error)

var _ Runtime = (*service.Components)(nil)

func defaultRuntimeFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Runtime, error) {
	components, err := service.NewComponentFactory().Create(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return components, nil
}

// NewRootCommand builds a fresh command tree. Each call returns independent
// flag state, which the interactive shell relies on.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultRuntimeFactory)
}

func newRootCommand(factory RuntimeFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "palmtree",
		Short:         "Palmtree is a local autonomous browser agent.",
		Long:          "Palmtree drives a local Chrome with a local language model to carry out plain-language instructions.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			// 1. Initialize configuration loading
			if err := initializeConfig(cmd, v); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "palmtree"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// 2. Create the configuration object from viper.
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "palmtree"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			// 3. Initialize the logger with the loaded config.
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting palmtree", zap.String("version", Version))

			// 4. Store the validated config in the command's context for subcommands.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("model", "", "inference model name, or \"auto\" to pick from host memory")
	rootCmd.PersistentFlags().Int("max-steps", 0, "maximum plan/act/observe steps per task")
	rootCmd.PersistentFlags().Bool("headed", false, "show the browser window")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "palmtree version %s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd(factory))
	rootCmd.AddCommand(newShellCmd(factory))
	rootCmd.AddCommand(newServeCmd(factory))
	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs rootCmd under ctx and logs a failure.
func Execute(ctx context.Context, rootCmd *cobra.Command) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Command aborted.")
		} else {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
	}
	observability.Sync()
	return err
}

// flagBindings maps persistent flags onto configuration keys.
var flagBindings = map[string]string{
	"model":     "inference.model",
	"max-steps": "agent.max_steps",
	"log-level": "logger.level",
}

// initializeConfig reads the config file and environment into v and applies
// any flags the user set explicitly.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PALMTREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	flags := cmd.Flags()
	for flag, key := range flagBindings {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	if f := flags.Lookup("headed"); f != nil && f.Changed {
		headed, _ := flags.GetBool("headed")
		v.Set("browser.headless", !headed)
	}
	return nil
}

// getConfigFromContext retrieves the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	if ctx == nil {
		return nil, errors.New("command context is nil")
	}
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}
