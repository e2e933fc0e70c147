package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewOTPCommand creates the otp command group.
func NewOTPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otp",
		Short: "Log in with a one-time passcode",
		Long:  "Request a one-time passcode by email or SMS, then verify it to log in",
	}

	cmd.AddCommand(newOTPRequestCommand())
	cmd.AddCommand(newOTPVerifyCommand())

	return cmd
}

func newOTPRequestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "request <email-or-phone>",
		Short: "Send a one-time passcode",
		Long:  "Send a one-time passcode to an email address or an E.164 phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			_, err = s.client.Users().RequestOneTimePasscode(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("requesting passcode: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Passcode sent. Run 'bagel otp verify <code>' to log in.")

			return nil
		},
	}
}

func newOTPVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <code>",
		Short: "Verify a one-time passcode",
		Long:  "Log in with the passcode received after 'bagel otp request'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			userID, err := s.client.Users().VerifyOneTimePasscode(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("verifying passcode: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", userID)

			return nil
		},
	}
}
