package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResetPasswordCommand creates the reset-password command.
func NewResetPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Send a password reset email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			err = s.client.Users().RequestPasswordReset(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("requesting password reset: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Password reset email sent to %s\n", args[0])

			return nil
		},
	}
}

// NewUpdatePasswordCommand creates the update-password command.
func NewUpdatePasswordCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "update-password",
		Short: "Set a user's password",
		Long:  "Set a user's password with the project token. Requires --context server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := credentialsFromFlags(cmd, email, password)
			if err != nil {
				return err
			}

			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			err = s.client.Users().UpdatePassword(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("updating password: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", email)

			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "user email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "new password (prompted when omitted)")

	return cmd
}
