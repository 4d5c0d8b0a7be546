package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/labportal/labportal/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the portal command tree around open.
func NewRootCmd(open commands.Opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "portal",
		Short: "Lab portal - view your lab results from the terminal",
		Long: `Lab portal CLI - sign in to a lab results portal and browse results,
patients, laboratories and announcements.

Run 'portal shell' for an interactive session that signs out on its own
after a period of inactivity.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("server", "", "Server URL or alias from portal.json")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format: table or json")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "portal version %s\n", version)
		},
	})

	commands.Register(rootCmd, open)
	rootCmd.AddCommand(commands.NewShellCmd(open))
	rootCmd.AddCommand(commands.NewInitCmd())
	rootCmd.AddCommand(commands.NewServersCmd())
	rootCmd.AddCommand(commands.NewOutputCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCmd(commands.DefaultOpener(version))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
