package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			// Always succeeds locally, even when the server is unreachable
			p.Auth.Logout(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Signed out of %s\n", p.Server.Alias)
			return nil
		}),
	}
}
