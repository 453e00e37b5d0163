// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/palmtree/internal/observability"
)

const lockFileName = "palmtree.lock"

func newServeCmd(factory RuntimeFactory) *cobra.Command {
	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent behind the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			if addr != "" {
				cfg.ServerCfg.Addr = addr
			}

			// One server per data directory; the sqlite file and screenshots are not shared.
			lock, err := acquireInstanceLock(cfg.DataDir())
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					logger.Warn("Failed to release instance lock.", zap.Error(err))
				}
			}()

			rt, err := startRuntime(ctx, factory, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			logger.Info("Serving.", zap.String("addr", cfg.Server().Addr))
			fmt.Fprintf(cmd.OutOrStdout(), "palmtree listening on http://%s\n", cfg.Server().Addr)
			if err := rt.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return serveCmd
}

// acquireInstanceLock takes an exclusive, non-blocking lock in dataDir.
func acquireInstanceLock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	lock := flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("another palmtree server is already using %s", dataDir)
	}
	return lock, nil
}
