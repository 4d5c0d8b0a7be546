package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const ConfigFileName = "portal.json"

// Server represents a portal API server
type Server struct {
	URL   string `json:"url"`
	Alias string `json:"alias"`
}

// Config represents the project configuration file
type Config struct {
	Servers []Server `json:"servers"`
}

// DefaultConfig returns a default configuration with an example server
func DefaultConfig() *Config {
	return &Config{
		Servers: []Server{
			{
				URL:   "http://localhost:8080",
				Alias: "local",
			},
		},
	}
}

// NormalizeURL validates a server URL and strips any trailing slash.
// A bare host gets the https scheme.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("server URL is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid server URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Validate checks every server entry.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, server := range c.Servers {
		if _, err := NormalizeURL(server.URL); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
		if server.Alias == "" {
			continue
		}
		if seen[server.Alias] {
			return fmt.Errorf("servers[%d]: duplicate alias %q", i, server.Alias)
		}
		seen[server.Alias] = true
	}
	return nil
}

// FindConfigFile searches for portal.json in the current directory and its
// parents
func FindConfigFile() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return findConfigFileFrom(currentDir)
}

func findConfigFileFrom(start string) (string, error) {
	dir := start
	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("%s not found in %s or any parent directory", ConfigFileName, start)
}

// Load reads the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ConfigFileName, err)
	}
	for i := range cfg.Servers {
		cfg.Servers[i].URL, _ = NormalizeURL(cfg.Servers[i].URL)
	}

	return &cfg, nil
}

// LoadFromCurrentDir loads config from current directory or parent directories
func LoadFromCurrentDir() (*Config, error) {
	configPath, err := FindConfigFile()
	if err != nil {
		return nil, err
	}

	return Load(configPath)
}

// Save writes the configuration to a file
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// AddServer appends a server unless one with the same URL exists. It
// reports whether the server was added.
func (c *Config) AddServer(rawURL, alias string) (Server, bool, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return Server{}, false, err
	}
	for _, server := range c.Servers {
		if server.URL == u {
			return server, false, nil
		}
	}

	if alias == "" {
		if len(c.Servers) == 0 {
			alias = "production"
		} else {
			alias = fmt.Sprintf("server-%d", len(c.Servers)+1)
		}
	}
	if _, err := c.GetServerByAlias(alias); err == nil {
		return Server{}, false, fmt.Errorf("alias '%s' is already in use", alias)
	}

	server := Server{URL: u, Alias: alias}
	c.Servers = append(c.Servers, server)
	return server, true, nil
}

// GetServerByAlias returns a server by its alias
func (c *Config) GetServerByAlias(alias string) (*Server, error) {
	for i := range c.Servers {
		if c.Servers[i].Alias == alias {
			return &c.Servers[i], nil
		}
	}
	return nil, fmt.Errorf("server with alias '%s' not found", alias)
}

// GetServerByURLOrAlias finds a server by URL first, then by alias
func (c *Config) GetServerByURLOrAlias(urlOrAlias string) (*Server, error) {
	if u, err := NormalizeURL(urlOrAlias); err == nil {
		for i := range c.Servers {
			if c.Servers[i].URL == u {
				return &c.Servers[i], nil
			}
		}
	}
	if server, err := c.GetServerByAlias(urlOrAlias); err == nil {
		return server, nil
	}
	return nil, fmt.Errorf("server with URL or alias '%s' not found", urlOrAlias)
}

// GetDefaultServer returns the first server in the list
func (c *Config) GetDefaultServer() (*Server, error) {
	if len(c.Servers) == 0 {
		return nil, fmt.Errorf("no servers configured in %s", ConfigFileName)
	}
	return &c.Servers[0], nil
}
