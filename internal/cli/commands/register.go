package commands

import "github.com/spf13/cobra"

// Register adds the commands that talk to a portal server to root. The
// shell registers the same set on its own root for every line it runs.
func Register(root *cobra.Command, open Opener) {
	root.AddCommand(NewLoginCmd(open))
	root.AddCommand(NewVerifyCmd(open))
	root.AddCommand(NewLogoutCmd(open))
	root.AddCommand(NewPasswdCmd(open))
	root.AddCommand(NewWhoamiCmd(open))
	root.AddCommand(NewResultsCmd(open))
	root.AddCommand(NewPatientsCmd(open))
	root.AddCommand(NewLabsCmd(open))
	root.AddCommand(NewNewsCmd(open))
}
