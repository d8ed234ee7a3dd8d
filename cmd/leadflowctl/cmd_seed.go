package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().String("catalog", "", "path to the YAML catalog")
	_ = seedCmd.MarkFlagRequired("catalog")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply a catalog of templates, leads, sequences and rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("catalog")

		stack, err := openStack(cmd.Context())
		if err != nil {
			return err
		}
		defer stack.Close()

		res, err := stack.ApplyCatalog(cmd.Context(), path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "templates=%d leads=%d sequences=%d rules=%d skipped=%d\n",
			res.Templates, res.Leads, res.Sequences, res.Rules, res.Skipped)
		return nil
	},
}
