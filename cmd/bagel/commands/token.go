package commands

import (
	"fmt"
	"time"

	"github.com/bageldb/libraries/internal/auth"
	"github.com/bageldb/libraries/internal/constants"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// TokenStatus describes the stored session.
type TokenStatus struct {
	SessionActive    bool   `json:"session_active"              yaml:"session_active"`
	UserID           string `json:"user_id,omitempty"           yaml:"user_id,omitempty"`
	Status           string `json:"status"                      yaml:"status"`
	ExpiresAt        string `json:"expires_at,omitempty"        yaml:"expires_at,omitempty"`
	TimeUntilExpiry  string `json:"time_until_expiry,omitempty" yaml:"time_until_expiry,omitempty"`
	RefreshAvailable bool   `json:"refresh_token_available"     yaml:"refresh_token_available"`
}

// NewTokenCommand creates the token command group.
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the session token",
		Long:  "Commands for inspecting and refreshing the stored session token",
	}

	cmd.AddCommand(newTokenStatusCommand())
	cmd.AddCommand(newTokenRefreshCommand())

	return cmd
}

func newTokenStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show token status and expiration",
		Long:  "Display the stored session token's expiration without contacting the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()

			active, err := s.client.Users().IsSessionActive(ctx)
			if err != nil {
				return err
			}

			userID, err := s.client.Users().UserID(ctx)
			if err != nil {
				return err
			}

			token, err := s.client.Cache().Current(ctx)
			if err != nil {
				return err
			}

			status := buildTokenStatus(active, userID, token, time.Now())

			return render(cmd.OutOrStdout(), status, func(table *tablewriter.Table) {
				userID := status.UserID
				if userID == "" {
					userID = constants.NotAvailable
				}

				table.Header("Property", "Value")
				_ = table.Append("Session Active", fmt.Sprintf("%v", status.SessionActive))
				_ = table.Append("User ID", userID)
				_ = table.Append("Status", status.Status)

				if status.ExpiresAt != "" {
					_ = table.Append("Expires At", status.ExpiresAt)
					_ = table.Append("Time Until Expiry", status.TimeUntilExpiry)
				}

				_ = table.Append("Refresh Token Available", fmt.Sprintf("%v", status.RefreshAvailable))
			})
		},
	}
}

func newTokenRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Manually refresh the session token",
		Long:  "Force a refresh of the session token using the stored refresh token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			_, err = s.client.Users().Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("refreshing token: %w", err)
			}

			token, err := s.client.Cache().Current(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Token refreshed, expires at %s\n", token.ExpiresAt.Format(time.RFC3339))

			return nil
		},
	}
}

// buildTokenStatus summarizes token as of now. A token without a stored
// expiry falls back to its JWT exp claim.
func buildTokenStatus(active bool, userID string, token *auth.Token, now time.Time) TokenStatus {
	status := TokenStatus{
		SessionActive:    active,
		UserID:           userID,
		RefreshAvailable: token.RefreshToken != "",
	}

	if token.AccessToken == "" {
		status.Status = "No token"

		return status
	}

	expiresAt := token.ExpiresAt
	if expiresAt.IsZero() {
		if exp, err := auth.JWTExpiry(token.AccessToken); err == nil {
			expiresAt = exp
		}
	}

	if expiresAt.IsZero() {
		status.Status = "Unknown expiration"

		return status
	}

	status.ExpiresAt = expiresAt.UTC().Format(time.RFC3339)

	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		status.Status = "Expired"
		status.TimeUntilExpiry = "expired"

		return status
	}

	status.Status = "Valid"
	status.TimeUntilExpiry = remaining.Truncate(time.Second).String()

	return status
}
