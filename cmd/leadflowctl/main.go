// Command leadflowctl runs one-off operator tasks against the configured store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"leadflow_backend/internal/bootstrap"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "leadflowctl",
	Short:         "Operate the leadflow engine from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStack loads configuration and wires the engine. The caller must Close it.
func openStack(ctx context.Context) (*bootstrap.Stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Env)
	return bootstrap.Open(ctx, cfg, log)
}
