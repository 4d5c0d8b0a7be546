package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewLoginCmd creates the login command
func NewLoginCmd(open Opener) *cobra.Command {
	var username, password, code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the lab portal",
		Long: `Sign in to the lab portal.

Accounts protected by two-factor authentication are asked for the
six-digit code from their authenticator app. Pass --code to supply it
up front.`,
		Args: cobra.NoArgs,
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			return runLogin(cmd, p, username, password, code)
		}),
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (or set LABPORTAL_USERNAME)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set LABPORTAL_PASSWORD, will prompt if not provided)")
	cmd.Flags().StringVar(&code, "code", "", "Two-factor code, if your account requires one")

	return cmd
}

func runLogin(cmd *cobra.Command, p *Portal, username, password, code string) error {
	out := cmd.OutOrStdout()

	// Check for environment variables (useful for scripts)
	if username == "" {
		username = os.Getenv("LABPORTAL_USERNAME")
	}
	if password == "" {
		password = os.Getenv("LABPORTAL_PASSWORD")
	}

	var err error
	if username == "" {
		if username, err = p.Prompt.Line("Username"); err != nil {
			return err
		}
	}
	if username == "" {
		return fmt.Errorf("username is required (use --username flag or LABPORTAL_USERNAME env var)")
	}
	if password == "" {
		if password, err = p.Prompt.Password("Password"); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Signing in to %s (%s)...\n", p.Server.Alias, p.Server.URL)

	result, err := p.Auth.Login(cmd.Context(), username, password)
	if err != nil {
		return userError(p, "login", err)
	}

	if result.RequiresTwoFactor {
		if code == "" {
			if code, err = p.Prompt.Line("Verification code"); err != nil {
				return err
			}
		}
		if code == "" {
			fmt.Fprintln(out, "Sign-in pending. Enter 'verify <code>' to finish.")
			return nil
		}
		return runVerify(cmd, p, code)
	}

	printWelcome(cmd, p, result.PasswordExpired)
	return nil
}

// NewVerifyCmd creates the verify command, which finishes a sign-in that
// is waiting for a second factor
func NewVerifyCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <code>",
		Short: "Finish a two-factor sign-in",
		Args:  cobra.ExactArgs(1),
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			return runVerify(cmd, p, args[0])
		}),
	}
}

func runVerify(cmd *cobra.Command, p *Portal, code string) error {
	result, err := p.Auth.VerifyTwoFactor(cmd.Context(), code)
	if err != nil {
		return userError(p, "verify", err)
	}
	printWelcome(cmd, p, result.PasswordExpired)
	return nil
}

func printWelcome(cmd *cobra.Command, p *Portal, passwordExpired bool) {
	out := cmd.OutOrStdout()
	user := p.Store.Snapshot().User

	fmt.Fprintln(out, "✓ Signed in")
	if user != nil {
		fmt.Fprintf(out, "  User: %s (%s)\n", user.DisplayName(), user.Username)
		if user.Role != "" {
			fmt.Fprintf(out, "  Role: %s\n", user.Role)
		}
	}
	if passwordExpired {
		fmt.Fprintln(out, "⚠ Your password has expired. Run 'passwd' to choose a new one.")
	}
}
