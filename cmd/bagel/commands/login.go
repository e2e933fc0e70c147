package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLoginCommand creates the login command.
func NewLoginCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log a user in",
		Long:  "Log a BagelDB user in with email and password and store the session locally",
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

			userID, err := s.client.Users().ValidateCredentials(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", userID)

			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "user email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "user password (prompted when omitted)")

	return cmd
}

// NewSignupCommand creates the signup command.
func NewSignupCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a user account",
		Long:  "Register a BagelDB user with email and password. Outside the server context the new user is logged in.",
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

			userID, err := s.client.Users().CreateAccount(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("signup failed: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created user %s\n", userID)

			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "user email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "user password (prompted when omitted)")

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log the current user out",
		Long:  "Remove the stored session. The service is not contacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			err = s.client.Users().Logout(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")

			return nil
		},
	}
}
