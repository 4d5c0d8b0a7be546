package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/labportal/labportal/internal/apierr"
	cliauth "github.com/labportal/labportal/internal/cli/auth"
	"github.com/labportal/labportal/internal/cli/client"
	"github.com/labportal/labportal/internal/cli/config"
	"github.com/labportal/labportal/internal/cli/serverselect"
	"github.com/labportal/labportal/internal/cli/userconfig"
	appconfig "github.com/labportal/labportal/internal/config"
	"github.com/labportal/labportal/internal/logger"
	"github.com/labportal/labportal/internal/session"
)

// cacheTTL bounds how long listing responses are reused
const cacheTTL = time.Minute

// Prompter reads interactive input.
type Prompter interface {
	Password(label string) (string, error)
	Line(label string) (string, error)
}

// Portal bundles everything a command needs to talk to one server.
type Portal struct {
	Server      config.Server
	Store       *session.Store
	Client      *client.Client
	Cache       *client.Cache
	Auth        *cliauth.Orchestrator
	Prompt      Prompter
	Format      string
	IdleTimeout time.Duration
	Logger      zerolog.Logger

	mu    sync.Mutex
	route string

	// shared portals belong to the shell and outlive a single command
	shared    bool
	closeRepo func() error
}

// Opener builds the Portal for a command invocation.
type Opener func(cmd *cobra.Command) (*Portal, error)

// PortalConfig carries what NewPortal needs besides the server.
type PortalConfig struct {
	Client   *appconfig.ClientConfig
	DeviceID string
	Version  string
	Format   string
	Prompt   Prompter
	Logger   zerolog.Logger
}

// NewPortal opens the session repository for server, rehydrates the store
// and wires the client and orchestrator around it.
func NewPortal(ctx context.Context, server config.Server, pc PortalConfig) (*Portal, error) {
	repo, closeRepo, err := session.OpenRepository(pc.Client.Repository(server.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	store, err := session.Open(ctx, repo, pc.Logger)
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	cache := client.NewCache(cacheTTL)
	apiClient := client.NewAuthenticated(server.URL, store,
		client.WithTimeout(pc.Client.HTTPTimeout),
		client.WithCache(cache),
		client.WithLogger(pc.Logger),
	)

	p := &Portal{
		Server:      server,
		Store:       store,
		Client:      apiClient,
		Cache:       cache,
		Prompt:      pc.Prompt,
		Format:      pc.Format,
		IdleTimeout: pc.Client.IdleTimeout,
		Logger:      pc.Logger,
		route:       cliauth.RouteLogin,
		closeRepo:   closeRepo,
	}
	if p.Format == "" {
		p.Format = userconfig.OutputTable
	}
	if store.IsAuthenticated() {
		p.route = cliauth.RouteLanding
	}

	p.Auth = cliauth.New(apiClient, store,
		cliauth.WithNavigator(cliauth.NavigatorFunc(p.navigate)),
		cliauth.WithQueryCache(cache),
		cliauth.WithReporter(apierr.LogReporter{Logger: pc.Logger}),
		cliauth.WithLogger(pc.Logger),
		cliauth.WithDevice(client.CurrentDevice(pc.DeviceID, pc.Version)),
	)
	return p, nil
}

func (p *Portal) navigate(route string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.route = route
}

// Route returns the screen the orchestrator last navigated to.
func (p *Portal) Route() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.route
}

// Release closes the portal unless the shell owns it.
func (p *Portal) Release() error {
	if p.shared {
		return nil
	}
	return p.Close()
}

// Close releases the session repository.
func (p *Portal) Close() error {
	if p.closeRepo == nil {
		return nil
	}
	return p.closeRepo()
}

// requireLogin fails unless the session is authenticated
func (p *Portal) requireLogin() error {
	switch p.Auth.State() {
	case cliauth.Authenticated:
		return nil
	case cliauth.AwaitingTwoFactor:
		return fmt.Errorf("sign-in is waiting for a verification code; run 'verify <code>'")
	}
	return fmt.Errorf("not signed in to %s; run 'login' first", p.Server.Alias)
}

// DefaultOpener loads configuration from the environment and portal.json
// and opens a fresh Portal.
func DefaultOpener(version string) Opener {
	return func(cmd *cobra.Command) (*Portal, error) {
		cfg, err := appconfig.LoadClient()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		logger.InitWriter(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
		log := logger.GetLogger()

		server, err := resolveServer(cfg, flagString(cmd, "server"))
		if err != nil {
			return nil, err
		}

		deviceID, err := userconfig.DeviceID()
		if err != nil {
			return nil, err
		}

		format := flagString(cmd, "output")
		if format == "" {
			if format, err = userconfig.GetOutputFormat(); err != nil {
				return nil, err
			}
		}
		if err := userconfig.ValidateOutputFormat(format); err != nil {
			return nil, err
		}

		return NewPortal(cmd.Context(), *server, PortalConfig{
			Client:   cfg,
			DeviceID: deviceID,
			Version:  version,
			Format:   format,
			Prompt:   NewTermPrompter(cmd.InOrStdin(), cmd.ErrOrStderr()),
			Logger:   log,
		})
	}
}

// resolveServer picks the API server: LABPORTAL_API_URL wins over portal.json
func resolveServer(cfg *appconfig.ClientConfig, serverFlag string) (*config.Server, error) {
	if cfg.APIURL != "" && serverFlag == "" {
		u, err := config.NormalizeURL(cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("LABPORTAL_API_URL: %w", err)
		}
		return &config.Server{URL: u, Alias: "env"}, nil
	}

	projectConfig, err := config.LoadFromCurrentDir()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w\nRun 'portal init <url>' to create a configuration file", err)
	}

	return serverselect.ResolveServer(projectConfig, serverFlag)
}

func flagString(cmd *cobra.Command, name string) string {
	f := cmd.Flag(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

// withPortal adapts a portal-using run function to cobra's RunE
func withPortal(open Opener, run func(cmd *cobra.Command, p *Portal, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		p, err := open(cmd)
		if err != nil {
			return err
		}
		defer p.Release()
		return run(cmd, p, args)
	}
}

// userError turns a failed call into the text users see. The underlying
// error only goes to the debug log.
func userError(p *Portal, op string, err error) error {
	p.Logger.Debug().Err(err).Str("op", op).Msg("Command failed")
	return errors.New(cliauth.Message(err))
}

// TermPrompter reads from a terminal, hiding passwords.
type TermPrompter struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

// NewTermPrompter prompts on out and reads from in.
func NewTermPrompter(in io.Reader, out io.Writer) *TermPrompter {
	return &TermPrompter{in: in, out: out, reader: bufio.NewReader(in)}
}

func (t *TermPrompter) Password(label string) (string, error) {
	f, ok := t.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("%s is required in non-interactive mode", strings.ToLower(label))
	}

	fmt.Fprintf(t.out, "%s: ", label)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(t.out) // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return string(secret), nil
}

func (t *TermPrompter) Line(label string) (string, error) {
	fmt.Fprintf(t.out, "%s: ", label)
	line, err := t.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}
