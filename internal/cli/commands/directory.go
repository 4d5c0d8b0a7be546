package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/labportal/labportal/internal/cli/userconfig"
)

// NewPatientsCmd creates the patients command
func NewPatientsCmd(open Opener) *cobra.Command {
	var search string

	cmd := &cobra.Command{
		Use:   "patients",
		Short: "List patients you can see",
		Args:  cobra.NoArgs,
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			return runPatients(cmd, p, search)
		}),
	}

	cmd.Flags().StringVarP(&search, "search", "q", "", "Filter by name or medical record number")

	return cmd
}

func runPatients(cmd *cobra.Command, p *Portal, search string) error {
	if err := p.requireLogin(); err != nil {
		return err
	}

	patients, err := p.Client.ListPatients(cmd.Context(), search)
	if err != nil {
		return userError(p, "list_patients", err)
	}

	out := cmd.OutOrStdout()
	if len(patients) == 0 && p.Format != userconfig.OutputJSON {
		fmt.Fprintln(out, "No patients found.")
		return nil
	}

	return render(out, p, patients, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tNAME\tBORN\tMRN")
		for _, pt := range patients {
			fmt.Fprintf(tw, "%s\t%s %s\t%s\t%s\n",
				pt.ID, pt.FirstName, pt.LastName, orDash(pt.DateOfBirth), pt.MedicalRecordNumber)
		}
	})
}

// NewLabsCmd creates the labs command
func NewLabsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:     "labs",
		Aliases: []string{"laboratories"},
		Short:   "List laboratories",
		Args:    cobra.NoArgs,
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			return runLabs(cmd, p)
		}),
	}
}

func runLabs(cmd *cobra.Command, p *Portal) error {
	if err := p.requireLogin(); err != nil {
		return err
	}

	labs, err := p.Client.ListLaboratories(cmd.Context())
	if err != nil {
		return userError(p, "list_laboratories", err)
	}

	return render(cmd.OutOrStdout(), p, labs, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "NAME\tADDRESS\tPHONE")
		for _, lab := range labs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", lab.Name, orDash(lab.Address), orDash(lab.Phone))
		}
	})
}

// NewNewsCmd creates the news command. News is public and needs no login.
func NewNewsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "news",
		Short: "Show portal announcements",
		Args:  cobra.NoArgs,
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			return runNews(cmd, p)
		}),
	}
}

func runNews(cmd *cobra.Command, p *Portal) error {
	items, err := p.Client.ListNews(cmd.Context())
	if err != nil {
		return userError(p, "list_news", err)
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 && p.Format != userconfig.OutputJSON {
		fmt.Fprintln(out, "No news.")
		return nil
	}

	return render(out, p, items, func(tw *tabwriter.Writer) {
		for _, item := range items {
			fmt.Fprintf(tw, "%s\t%s\n", item.PublishedAt.Local().Format("2006-01-02"), item.Title)
			if item.Summary != "" {
				fmt.Fprintf(tw, "\t%s\n", item.Summary)
			}
		}
	})
}
