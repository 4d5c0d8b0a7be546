package serverselect

import (
	"fmt"
	"io"
	"os"

	"github.com/manifoldco/promptui"

	"github.com/labportal/labportal/internal/cli/config"
	"github.com/labportal/labportal/internal/cli/userconfig"
)

// prompt is swapped out in tests
var prompt = PromptServerSelection

// warnings receives non-fatal messages
var warnings io.Writer = os.Stderr

// ResolveServer determines which server to use based on the following priority:
// 1. If serverAlias is provided, use that server
// 2. If user has a selected server in their local config, use that
// 3. If only one server in project config, use that
// 4. Otherwise, prompt user to select a server interactively
func ResolveServer(projectConfig *config.Config, serverAlias string) (*config.Server, error) {
	// Priority 1: Use server alias if provided
	if serverAlias != "" {
		return projectConfig.GetServerByURLOrAlias(serverAlias)
	}

	// Priority 2: Use selected server from user config
	selectedURL, err := userconfig.GetSelectedServer()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	if selectedURL != "" {
		server, err := getServerByURL(projectConfig, selectedURL)
		if err != nil {
			// Selected server no longer exists in project config, clear it and continue
			_ = userconfig.SetSelectedServer("")
		} else {
			return server, nil
		}
	}

	// Priority 3: If only one server, use it automatically
	if len(projectConfig.Servers) == 1 {
		server := &projectConfig.Servers[0]
		remember(server)
		return server, nil
	}

	// Priority 4: Prompt user to select a server
	server, err := prompt(projectConfig)
	if err != nil {
		return nil, err
	}

	remember(server)
	return server, nil
}

// remember saves the selection; failing to save is not fatal
func remember(server *config.Server) {
	if err := userconfig.SetSelectedServer(server.URL); err != nil {
		fmt.Fprintf(warnings, "Warning: failed to save selected server: %v\n", err)
	}
}

// PromptServerSelection shows an interactive prompt for the user to select a server
func PromptServerSelection(projectConfig *config.Config) (*config.Server, error) {
	if len(projectConfig.Servers) == 0 {
		return nil, fmt.Errorf("no servers configured in %s", config.ConfigFileName)
	}

	type serverOption struct {
		Label  string
		Server *config.Server
	}

	options := make([]serverOption, len(projectConfig.Servers))
	for i := range projectConfig.Servers {
		server := &projectConfig.Servers[i]
		options[i] = serverOption{
			Label:  fmt.Sprintf("%s (%s)", server.Alias, server.URL),
			Server: server,
		}
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}

	sel := promptui.Select{
		Label:     "Select a server",
		Items:     options,
		Templates: templates,
		Size:      10,
	}

	index, _, err := sel.Run()
	if err != nil {
		return nil, fmt.Errorf("server selection cancelled: %w", err)
	}

	return options[index].Server, nil
}

// getServerByURL finds a server in the config by its URL
func getServerByURL(cfg *config.Config, serverURL string) (*config.Server, error) {
	for i := range cfg.Servers {
		if cfg.Servers[i].URL == serverURL {
			return &cfg.Servers[i], nil
		}
	}
	return nil, fmt.Errorf("server with URL '%s' not found in project config", serverURL)
}
