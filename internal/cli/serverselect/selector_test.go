package serverselect

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labportal/labportal/internal/cli/config"
	"github.com/labportal/labportal/internal/cli/userconfig"
)

func setup(t *testing.T, pick func(*config.Config) (*config.Server, error)) *int {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	calls := 0
	prev, prevWarnings := prompt, warnings
	prompt = func(cfg *config.Config) (*config.Server, error) {
		calls++
		return pick(cfg)
	}
	warnings = io.Discard
	t.Cleanup(func() { prompt, warnings = prev, prevWarnings })
	return &calls
}

func twoServers() *config.Config {
	return &config.Config{Servers: []config.Server{
		{URL: "http://localhost:8080", Alias: "local"},
		{URL: "https://portal.example.com", Alias: "production"},
	}}
}

func TestResolveServer_AliasWins(t *testing.T) {
	calls := setup(t, func(cfg *config.Config) (*config.Server, error) {
		return nil, errors.New("should not prompt")
	})
	require.NoError(t, userconfig.SetSelectedServer("http://localhost:8080"))

	server, err := ResolveServer(twoServers(), "production")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example.com", server.URL)
	assert.Zero(t, *calls)

	_, err = ResolveServer(twoServers(), "staging")
	assert.Error(t, err)
}

func TestResolveServer_UsesSavedSelection(t *testing.T) {
	calls := setup(t, func(cfg *config.Config) (*config.Server, error) {
		return nil, errors.New("should not prompt")
	})
	require.NoError(t, userconfig.SetSelectedServer("https://portal.example.com"))

	server, err := ResolveServer(twoServers(), "")
	require.NoError(t, err)
	assert.Equal(t, "production", server.Alias)
	assert.Zero(t, *calls)
}

func TestResolveServer_StaleSelectionFallsBackToPrompt(t *testing.T) {
	calls := setup(t, func(cfg *config.Config) (*config.Server, error) {
		return &cfg.Servers[0], nil
	})
	require.NoError(t, userconfig.SetSelectedServer("https://gone.example.com"))

	server, err := ResolveServer(twoServers(), "")
	require.NoError(t, err)
	assert.Equal(t, "local", server.Alias)
	assert.Equal(t, 1, *calls)

	selected, err := userconfig.GetSelectedServer()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", selected)
}

func TestResolveServer_SingleServerIsAutomatic(t *testing.T) {
	calls := setup(t, func(cfg *config.Config) (*config.Server, error) {
		return nil, errors.New("should not prompt")
	})

	cfg := &config.Config{Servers: []config.Server{{URL: "http://localhost:8080", Alias: "local"}}}
	server, err := ResolveServer(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "local", server.Alias)
	assert.Zero(t, *calls)

	selected, err := userconfig.GetSelectedServer()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", selected)
}

func TestResolveServer_PromptCancelled(t *testing.T) {
	setup(t, func(cfg *config.Config) (*config.Server, error) {
		return nil, errors.New("server selection cancelled")
	})

	_, err := ResolveServer(twoServers(), "")
	assert.ErrorContains(t, err, "cancelled")
}
