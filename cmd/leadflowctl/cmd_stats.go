package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print automation, sequence, funnel and attribution summaries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		stack, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer stack.Close()

		auto, err := stack.Automation.GetAutomationStats(ctx)
		if err != nil {
			return err
		}
		seq, err := stack.Sequences.GetSequenceStats(ctx, "")
		if err != nil {
			return err
		}
		funnel, err := stack.Conversions.GetConversionFunnel(ctx)
		if err != nil {
			return err
		}
		attributions, err := stack.Conversions.ListCampaignAttributions(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

		fmt.Fprintln(w, "AUTOMATION\tVALUE")
		fmt.Fprintf(w, "rules\t%d (%d active)\n", auto.TotalRules, auto.ActiveRules)
		fmt.Fprintf(w, "executions\t%d\n", auto.TotalExecutions)
		fmt.Fprintf(w, "pending/waiting\t%d/%d\n", auto.Pending, auto.Waiting)
		fmt.Fprintf(w, "completed/failed\t%d/%d\n", auto.Completed, auto.Failed)
		fmt.Fprintf(w, "success rate\t%.1f%%\n", auto.SuccessRate)
		fmt.Fprintf(w, "queue depth\t%d\n", auto.QueueDepth)
		fmt.Fprintln(w)

		fmt.Fprintln(w, "SEQUENCES\tVALUE")
		fmt.Fprintf(w, "executions\t%d (%d active, %d paused)\n", seq.Total, seq.Active, seq.Paused)
		fmt.Fprintf(w, "completed/cancelled\t%d/%d\n", seq.Completed, seq.Cancelled)
		fmt.Fprintf(w, "steps sent/skipped/failed\t%d/%d/%d\n", seq.StepsSent, seq.StepsSkipped, seq.StepsFailed)
		fmt.Fprintln(w)

		fmt.Fprintln(w, "STAGE\tCURRENT\tREACHED\tFROM PREVIOUS")
		for _, st := range funnel.Stages {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\n", st.Status, st.Current, st.Reached, st.RateFromPrevious)
		}
		fmt.Fprintf(w, "total leads\t%d\t\tconversion %.1f%%\n", funnel.TotalLeads, funnel.ConversionRate)
		fmt.Fprintln(w)

		fmt.Fprintln(w, "CAMPAIGN\tCONVERSIONS\tREVENUE\tATTRIBUTED\tRATE")
		for _, a := range attributions {
			fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.1f%%\n",
				a.CampaignID, a.TotalConversions, a.TotalRevenue, a.AttributedRevenue, a.ConversionRate)
		}
		return w.Flush()
	},
}
