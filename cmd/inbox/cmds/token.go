package cmds

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewTokenCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the bearer token used in token identity mode",
	}
	cmd.AddCommand(newTokenSetCommand(app), newTokenShowCommand(app), newTokenClearCommand(app))
	return cmd
}

func newTokenSetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set [token]",
		Short: "Store a token for the current profile (reads stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.Wrap(err, "read token from stdin")
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("token is empty")
			}

			store, err := app.OpenStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			profile := app.Settings().Credentials.Profile
			if err := store.Save(cmd.Context(), profile, token); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "token saved for profile %s\n", profile)
			return nil
		},
	}
}

func newTokenShowCommand(app *App) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored token for the current profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.OpenStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			profile := app.Settings().Credentials.Profile
			c, ok, err := store.Load(cmd.Context(), profile)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("no token stored for profile %s", profile)
			}
			token := c.Token
			if !reveal {
				token = maskToken(token)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t(updated %s)\n", c.Profile, token, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the full token")
	return cmd
}

func newTokenClearCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored token for the current profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.OpenStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			profile := app.Settings().Credentials.Profile
			if err := store.Delete(cmd.Context(), profile); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "token cleared for profile %s\n", profile)
			return nil
		},
	}
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
