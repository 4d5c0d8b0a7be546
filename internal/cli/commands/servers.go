package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/labportal/labportal/internal/cli/config"
	"github.com/labportal/labportal/internal/cli/serverselect"
	"github.com/labportal/labportal/internal/cli/userconfig"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	var alias string

	cmd := &cobra.Command{
		Use:   "init <server-url>",
		Short: "Add a portal server to ./portal.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args[0], alias)
		},
	}

	cmd.Flags().StringVar(&alias, "alias", "", "Alias for the server (defaults to production, server-2, ...)")

	return cmd
}

func runInit(cmd *cobra.Command, serverURL, alias string) error {
	out := cmd.OutOrStdout()

	currentDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	configPath := filepath.Join(currentDir, config.ConfigFileName)

	var cfg *config.Config
	isNewConfig := false

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load existing config: %w", err)
		}
		fmt.Fprintf(out, "Found existing %s\n", config.ConfigFileName)
	} else {
		cfg = &config.Config{Servers: []config.Server{}}
		isNewConfig = true
	}

	server, added, err := cfg.AddServer(serverURL, alias)
	if err != nil {
		return err
	}
	if !added {
		fmt.Fprintf(out, "Server %s already exists in %s as '%s'\n", server.URL, config.ConfigFileName, server.Alias)
		return nil
	}

	if err := config.Save(configPath, cfg); err != nil {
		return err
	}

	if isNewConfig {
		fmt.Fprintf(out, "✓ Created ./%s with server %s (%s)\n", config.ConfigFileName, server.URL, server.Alias)
	} else {
		fmt.Fprintf(out, "✓ Added server %s (%s) to ./%s\n", server.URL, server.Alias, config.ConfigFileName)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  Run 'portal login' to sign in")

	return nil
}

// NewServersCmd creates the servers command and its select subcommand
func NewServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List the servers in portal.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServers(cmd)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "select [url-or-alias]",
		Short: "Select the server to use for commands",
		Long: `Select the server to use for commands.

If no argument is provided, an interactive prompt will be shown.

Examples:
  $ portal servers select                        # Interactive selection
  $ portal servers select https://lab.example.com # Select by URL
  $ portal servers select production             # Select by alias`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var urlOrAlias string
			if len(args) > 0 {
				urlOrAlias = args[0]
			}
			return runSelectServer(cmd, urlOrAlias)
		},
	})

	return cmd
}

func runServers(cmd *cobra.Command) error {
	cfg, err := config.LoadFromCurrentDir()
	if err != nil {
		return fmt.Errorf("failed to load config: %w\nRun 'portal init <url>' to create a configuration file", err)
	}

	selected, err := userconfig.GetSelectedServer()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tALIAS\tURL")
	for _, server := range cfg.Servers {
		marker := ""
		if server.URL == selected {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", marker, server.Alias, server.URL)
	}
	return tw.Flush()
}

func runSelectServer(cmd *cobra.Command, urlOrAlias string) error {
	cfg, err := config.LoadFromCurrentDir()
	if err != nil {
		return fmt.Errorf("failed to load config: %w\nRun 'portal init <url>' to create a configuration file", err)
	}

	var server *config.Server
	if urlOrAlias != "" {
		server, err = cfg.GetServerByURLOrAlias(urlOrAlias)
	} else {
		server, err = serverselect.PromptServerSelection(cfg)
	}
	if err != nil {
		return err
	}

	if err := userconfig.SetSelectedServer(server.URL); err != nil {
		return fmt.Errorf("failed to save selected server: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Selected server: %s (%s)\n", server.Alias, server.URL)
	return nil
}

// NewOutputCmd creates the output command, which stores the default
// output format of listing commands
func NewOutputCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "output <table|json>",
		Short:     "Set the default output format",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{userconfig.OutputTable, userconfig.OutputJSON},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := userconfig.SetOutputFormat(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Output format: %s\n", args[0])
			return nil
		},
	}
}
