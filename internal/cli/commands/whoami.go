package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			return runWhoami(cmd, p)
		}),
	}
}

func runWhoami(cmd *cobra.Command, p *Portal) error {
	if err := p.requireLogin(); err != nil {
		return err
	}

	user, err := p.Client.Me(cmd.Context())
	if err != nil {
		return userError(p, "me", err)
	}
	// The server's view of the profile is authoritative
	p.Store.SetUser(user)

	snap := p.Store.Snapshot()
	return render(cmd.OutOrStdout(), p, user, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Server:\t%s (%s)\n", p.Server.Alias, p.Server.URL)
		fmt.Fprintf(tw, "User:\t%s\n", user.DisplayName())
		fmt.Fprintf(tw, "Username:\t%s\n", user.Username)
		fmt.Fprintf(tw, "Email:\t%s\n", orDash(user.Email))
		fmt.Fprintf(tw, "Role:\t%s\n", orDash(user.Role))
		fmt.Fprintf(tw, "Permissions:\t%s\n", orDash(strings.Join(user.Permissions, ", ")))
		if snap.PasswordExpired {
			fmt.Fprintf(tw, "Password:\texpired\n")
		}
	})
}
