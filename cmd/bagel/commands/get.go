package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/spf13/cobra"
)

// NewGetCommand creates the get command.
func NewGetCommand() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "GET a content API path",
		Long: `Send a GET request to the content API with the session token, or the
project token when nobody is logged in, and print the response body.`,
		Example: `  bagel get /collection/articles/items --query pageNumber=1`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseQuery(params)
			if err != nil {
				return err
			}

			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			resp, err := s.client.Get(cmd.Context(), args[0], query)
			if err != nil {
				return err
			}

			var pretty bytes.Buffer
			if json.Indent(&pretty, resp.Body, "", "  ") == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), pretty.String())

				return nil
			}

			_, _ = cmd.OutOrStdout().Write(resp.Body)

			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "query", "q", nil, "query parameter as key=value (repeatable)")

	return cmd
}

func parseQuery(params []string) (url.Values, error) {
	query := url.Values{}

	for _, param := range params {
		key, value, ok := strings.Cut(param, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", constants.ErrInvalidQueryParam, param)
		}

		query.Add(key, value)
	}

	return query, nil
}
