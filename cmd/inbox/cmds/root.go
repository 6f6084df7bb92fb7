package cmds

import (
	"github.com/spf13/cobra"
)

func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "inbox",
		Short:         "inbox is a terminal console for live customer support conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.Setup(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&app.ConfigFile, "config", "c", "", "config file (default $HOME/.inbox/config.yaml or ./config.yaml)")
	pf.String("api-url", "http://localhost:3000", "REST base URL of the chat backend")
	pf.String("socket-url", "", "live gateway URL (derived from --api-url when empty)")
	pf.String("agent-mode", "explicit", "identity mode: explicit or token")
	pf.String("agent-id", "agent-1", "agent id for explicit identity")
	pf.String("agent-name", "Sale Agent", "agent display name for explicit identity")
	pf.String("profile", "default", "credential profile for token identity")
	pf.String("credentials-path", "$HOME/.inbox/credentials.db", "credential database path")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.String("log-format", "auto", "log format (auto, console, json)")
	pf.Bool("with-caller", false, "include caller information in logs")

	root.AddCommand(
		NewRunCommand(app),
		NewConversationsCommand(app),
		NewTokenCommand(app),
		NewConfigCommand(app),
	)
	return root
}
