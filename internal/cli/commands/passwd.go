package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

const minPasswordLength = 8

// NewPasswdCmd creates the passwd command
func NewPasswdCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change your password",
		Args:  cobra.NoArgs,
		RunE: withPortal(open, func(cmd *cobra.Command, p *Portal, args []string) error {
			return runPasswd(cmd, p)
		}),
	}
}

func runPasswd(cmd *cobra.Command, p *Portal) error {
	if err := p.requireLogin(); err != nil {
		return err
	}

	oldPassword, err := p.Prompt.Password("Current password")
	if err != nil {
		return err
	}
	newPassword, err := p.Prompt.Password("New password")
	if err != nil {
		return err
	}
	confirm, err := p.Prompt.Password("Repeat new password")
	if err != nil {
		return err
	}

	switch {
	case len(newPassword) < minPasswordLength:
		return fmt.Errorf("new password must be at least %d characters", minPasswordLength)
	case newPassword != confirm:
		return fmt.Errorf("new passwords do not match")
	case newPassword == oldPassword:
		return fmt.Errorf("new password must differ from the current one")
	}

	if err := p.Auth.ChangePassword(cmd.Context(), oldPassword, newPassword); err != nil {
		return userError(p, "change_password", err)
	}

	p.Store.SetPasswordExpired(false)
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Password changed")
	return nil
}
