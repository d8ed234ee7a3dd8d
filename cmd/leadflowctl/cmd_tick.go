package main

import (
	"fmt"

	"leadflow_backend/internal/scheduler"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tickCmd)
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one trigger check, queue drain and sequence tick",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		stack, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer stack.Close()

		recovered, err := stack.Automation.RecoverQueue(ctx)
		if err != nil {
			return err
		}
		jobs := scheduler.Jobs{
			Automation: stack.Automation,
			Sequences:  stack.Sequences,
			Events:     stack.Responses,
			Log:        stack.Log,
		}
		if err := jobs.Tick(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tick complete (recovered %d queued executions)\n", recovered)
		return nil
	},
}
