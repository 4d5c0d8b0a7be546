package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/labportal/labportal/internal/cli/client"
	"github.com/labportal/labportal/internal/cli/userconfig"
)

// NewResultsCmd creates the results command
func NewResultsCmd(open Opener) *cobra.Command {
	var filter client.ResultFilter

	cmd := &cobra.Command{
		Use:     "results",
		Aliases: []string{"ls"},
		Short:   "List lab results",
		Args:    cobra.NoArgs,
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			return runResults(cmd, p, filter)
		}),
	}

	cmd.Flags().StringVar(&filter.PatientID, "patient", "", "Only results of this patient ID")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only results with this status (pending or final)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <result-id>",
		Short: "Show a single lab result",
		Args:  cobra.ExactArgs(1),
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			return runShowResult(cmd, p, args[0])
		}),
	})

	return cmd
}

func runResults(cmd *cobra.Command, p *Portal, filter client.ResultFilter) error {
	if err := p.requireLogin(); err != nil {
		return err
	}

	results, err := p.Client.ListResults(cmd.Context(), filter)
	if err != nil {
		return userError(p, "list_results", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 && p.Format != userconfig.OutputJSON {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	return render(out, p, results, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tPATIENT\tTEST\tVALUE\tFLAG\tSTATUS\tCOLLECTED")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%s\t%s\n",
				r.ID,
				r.PatientName,
				r.TestName,
				orDash(r.Value),
				r.Unit,
				orDash(r.Flag),
				r.Status,
				formatTime(r.CollectedAt),
			)
		}
	})
}

func runShowResult(cmd *cobra.Command, p *Portal, id string) error {
	if err := p.requireLogin(); err != nil {
		return err
	}

	r, err := p.Client.GetResult(cmd.Context(), id)
	if err != nil {
		return userError(p, "get_result", err)
	}

	return render(cmd.OutOrStdout(), p, r, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Test:\t%s\n", r.TestName)
		fmt.Fprintf(tw, "Patient:\t%s (%s)\n", r.PatientName, r.PatientID)
		fmt.Fprintf(tw, "Laboratory:\t%s\n", orDash(r.LaboratoryName))
		fmt.Fprintf(tw, "Value:\t%s %s\n", orDash(r.Value), r.Unit)
		fmt.Fprintf(tw, "Reference:\t%s\n", orDash(r.ReferenceRange))
		fmt.Fprintf(tw, "Flag:\t%s\n", orDash(r.Flag))
		fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
		fmt.Fprintf(tw, "Collected:\t%s\n", formatTime(r.CollectedAt))
		if r.ReportedAt != nil {
			fmt.Fprintf(tw, "Reported:\t%s\n", formatTime(*r.ReportedAt))
		}
	})
}
