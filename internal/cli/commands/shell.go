package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	cliauth "github.com/labportal/labportal/internal/cli/auth"
	"github.com/labportal/labportal/internal/inactivity"
	"github.com/labportal/labportal/internal/session"
)

// NewShellCmd creates the shell command: a long-lived interactive session
// that signs the user out after a period without input.
func NewShellCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive portal session",
		Long: `Start an interactive portal session.

Every portal command can be typed at the prompt without the 'portal'
prefix. The session is cleared when no input arrives within
LABPORTAL_IDLE_TIMEOUT (5 minutes by default).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := open(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			p.Prompt = linerPrompter{line: line}
			sh := newShell(p, cmd.OutOrStdout(), clockwork.NewRealClock())
			return sh.run(cmd.Context(), line)
		},
	}
}

// lineSource is the part of liner the shell loop needs
type lineSource interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type shell struct {
	portal  *Portal
	out     *syncWriter
	monitor *inactivity.Monitor

	// only touched from store observers, which are serialized
	wasAuthenticated bool
}

func newShell(p *Portal, out io.Writer, clock clockwork.Clock) *shell {
	p.shared = true
	sh := &shell{
		portal:  p,
		out:     &syncWriter{w: out},
		monitor: inactivity.New(inactivity.Config{IdleTimeout: p.IdleTimeout}, clock, p.Logger),
	}
	p.Prompt = activityPrompter{Prompter: p.Prompt, monitor: sh.monitor}
	return sh
}

func (sh *shell) run(ctx context.Context, src lineSource) error {
	p := sh.portal

	sh.wasAuthenticated = p.Store.IsAuthenticated()
	unsubscribe := p.Store.Subscribe(sh.onSessionChange)
	defer unsubscribe()

	sh.monitor.Attach(p.Store)
	defer sh.monitor.Close()

	fmt.Fprintf(sh.out, "Connected to %s (%s). Type 'help' for commands, 'exit' to leave.\n", p.Server.Alias, p.Server.URL)

	for {
		input, err := src.Prompt(sh.prompt())
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(sh.out)
			return nil
		case err != nil:
			return err
		}

		sh.monitor.Notify(inactivity.KeyPress)

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		src.AppendHistory(input)

		if input == "exit" || input == "quit" {
			return nil
		}
		if err := sh.exec(ctx, strings.Fields(input)); err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
	}
}

// exec runs one line through a fresh command tree bound to the shell's
// portal
func (sh *shell) exec(ctx context.Context, args []string) error {
	root := &cobra.Command{
		Use:           "portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	Register(root, func(*cobra.Command) (*Portal, error) {
		return sh.portal, nil
	})
	root.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Show the sign-in state",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), sh.portal.Auth.State())
		},
	})

	root.SetArgs(args)
	root.SetOut(sh.out)
	root.SetErr(sh.out)
	return root.ExecuteContext(ctx)
}

func (sh *shell) prompt() string {
	p := sh.portal
	switch p.Route() {
	case cliauth.RouteTwoFactor:
		return "verify> "
	case cliauth.RouteLanding:
		if user := p.Store.Snapshot().User; user != nil {
			return fmt.Sprintf("%s@%s> ", user.Username, p.Server.Alias)
		}
	}
	return "portal> "
}

// onSessionChange tells the user when the session ended without a logout
func (sh *shell) onSessionChange(st session.State) {
	was := sh.wasAuthenticated
	sh.wasAuthenticated = st.IsAuthenticated
	if !was || st.IsAuthenticated {
		return
	}

	sh.portal.Cache.Clear()
	sh.portal.navigate(cliauth.RouteLogin)

	// Logout and a new 2FA login clear the user; a kept user means the
	// session expired
	if st.User != nil && !st.RequiresTwoFactor {
		fmt.Fprintf(sh.out, "\nSession ended after %s of inactivity. Sign in again with 'login'.\n", sh.monitor.IdleTimeout())
	}
}

// activityPrompter counts answers to prompts as user activity
type activityPrompter struct {
	Prompter
	monitor *inactivity.Monitor
}

func (a activityPrompter) Password(label string) (string, error) {
	s, err := a.Prompter.Password(label)
	a.monitor.Notify(inactivity.KeyPress)
	return s, err
}

func (a activityPrompter) Line(label string) (string, error) {
	s, err := a.Prompter.Line(label)
	a.monitor.Notify(inactivity.KeyPress)
	return s, err
}

type linerPrompter struct {
	line *liner.State
}

func (l linerPrompter) Password(label string) (string, error) {
	return l.line.PasswordPrompt(label + ": ")
}

func (l linerPrompter) Line(label string) (string, error) {
	s, err := l.line.Prompt(label + ": ")
	return strings.TrimSpace(s), err
}

// syncWriter serializes writes from the shell loop and from session
// observers running on the monitor goroutine
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}
