package commands

import (
	"fmt"
	"strings"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewWhoAmICommand creates the whoami command.
func NewWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Long:  "Fetch the profile of the logged in user from the auth service",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			user, err := s.client.Users().GetCurrentUser(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching user: %w", err)
			}

			return render(cmd.OutOrStdout(), user, func(table *tablewriter.Table) {
				groups := constants.NotAvailable
				if len(user.UserGroups) > 0 {
					groups = strings.Join(user.UserGroups, ", ")
				}

				table.Header("Property", "Value")
				_ = table.Append("User ID", user.UserID)
				_ = table.Append("Email", user.Email)
				_ = table.Append("Created", user.CreatedDate)
				_ = table.Append("Last Login", user.LastLoggedIn)
				_ = table.Append("Groups", groups)
			})
		},
	}
}
