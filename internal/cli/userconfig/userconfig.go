package userconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	configDirName  = "labportal"
	configFileName = "config.json"
)

// Output formats understood by the listing commands.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// UserConfig represents the user's local preferences stored in
// ~/.config/labportal/config.json. Nothing in it is cleared on logout.
type UserConfig struct {
	SelectedServerURL string `json:"selected_server_url"`
	DeviceID          string `json:"device_id"`
	OutputFormat      string `json:"output_format,omitempty"`
}

// GetConfigPath returns the path to the user config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", configDirName)
	return filepath.Join(configDir, configFileName), nil
}

// Load reads the user configuration file
func Load() (*UserConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	// If config doesn't exist, return empty config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return &UserConfig{}, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read user config file: %w", err)
	}

	var cfg UserConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the user configuration to a file
func Save(cfg *UserConfig) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	// Create config directory if it doesn't exist
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	tmp, err := os.CreateTemp(configDir, configFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), configPath); err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}

	return nil
}

// SetSelectedServer updates the selected server URL and saves the config
func SetSelectedServer(serverURL string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	cfg.SelectedServerURL = serverURL
	return Save(cfg)
}

// GetSelectedServer returns the selected server URL, or empty string if not set
func GetSelectedServer() (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}

	return cfg.SelectedServerURL, nil
}

// DeviceID returns the stable identifier of this installation, creating
// and saving one on first use.
func DeviceID() (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}

	cfg.DeviceID = uuid.NewString()
	if err := Save(cfg); err != nil {
		return "", err
	}
	return cfg.DeviceID, nil
}

// SetOutputFormat stores the default output format of listing commands
func SetOutputFormat(format string) error {
	if err := ValidateOutputFormat(format); err != nil {
		return err
	}

	cfg, err := Load()
	if err != nil {
		return err
	}

	cfg.OutputFormat = format
	return Save(cfg)
}

// GetOutputFormat returns the stored output format, table when unset
func GetOutputFormat() (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	if cfg.OutputFormat == "" {
		return OutputTable, nil
	}
	return cfg.OutputFormat, nil
}

// ValidateOutputFormat rejects unknown output formats
func ValidateOutputFormat(format string) error {
	switch format {
	case OutputTable, OutputJSON:
		return nil
	}
	return fmt.Errorf("unknown output format '%s' (use %s or %s)", format, OutputTable, OutputJSON)
}
