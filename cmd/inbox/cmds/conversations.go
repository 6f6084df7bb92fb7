package cmds

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/inbox/pkg/chat/api"
)

func NewConversationsCommand(app *App) *cobra.Command {
	var (
		limit  int
		cursor string
		output string
	)
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations through the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.Settings()
			id, err := app.Identity(cmd.Context())
			if err != nil {
				return err
			}
			client, err := app.Client(id)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = s.API.PageSize
			}
			page, err := client.ListConversations(cmd.Context(), api.ConversationQuery{
				Status: s.Status(),
				Limit:  limit,
				Cursor: cursor,
				Phone:  s.Console.Phone,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(output) {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			case "yaml":
				return yaml.NewEncoder(out).Encode(page)
			case "table", "":
				renderConversations(out, page.Items)
				if page.NextCursor != "" {
					_, _ = fmt.Fprintf(out, "\nmore: --cursor %s\n", page.NextCursor)
				}
				return nil
			default:
				return errors.Errorf("unknown output format %q", output)
			}
		},
	}
	cmd.Flags().String("status", "OPEN", "conversation status (OPEN or CLOSED)")
	cmd.Flags().String("phone", "", "filter by customer phone")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (default api.page_size)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor returned by a previous page")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}
