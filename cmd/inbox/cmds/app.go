package cmds

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/chat/api"
	"github.com/go-go-golems/inbox/pkg/config"
	"github.com/go-go-golems/inbox/pkg/logging"
	"github.com/go-go-golems/inbox/pkg/persistence/credstore"
)

// flagKeys maps CLI flags onto settings keys. A flag is bound only on the
// command that is executing, so commands may share flag names.
var flagKeys = map[string]string{
	"api-url":          "api.base_url",
	"socket-url":       "socket.url",
	"agent-mode":       "agent.mode",
	"agent-id":         "agent.id",
	"agent-name":       "agent.name",
	"profile":          "credentials.profile",
	"credentials-path": "credentials.path",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"with-caller":      "logging.with_caller",
	"status":           "console.status",
	"phone":            "console.phone",
	"metrics":          "metrics.enabled",
	"metrics-addr":     "metrics.addr",
	"redis":            "redis.enabled",
	"redis-addr":       "redis.addr",
}

// App carries what every subcommand needs: the resolved settings and the
// constructors built from them.
type App struct {
	Viper      *viper.Viper
	ConfigFile string

	settings config.Settings
}

func NewApp() *App {
	return &App{Viper: viper.New()}
}

// Setup loads settings for cmd and reconfigures logging from them.
func (a *App) Setup(cmd *cobra.Command) error {
	if err := config.Init(a.Viper, a.ConfigFile); err != nil {
		return err
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := a.Viper.BindPFlag(key, f); err != nil {
				return errors.Wrapf(err, "bind --%s", name)
			}
		}
	}
	s, err := config.Load(a.Viper)
	if err != nil {
		return err
	}
	if err := logging.Init(s.Logging, os.Stderr); err != nil {
		return err
	}
	a.settings = s
	return nil
}

func (a *App) Settings() config.Settings {
	return a.settings
}

// OpenStore opens the credential database, creating its directory if needed.
func (a *App) OpenStore() (*credstore.SQLiteStore, error) {
	p := a.settings.CredentialsPath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, errors.Wrap(err, "create credentials directory")
	}
	dsn, err := credstore.SQLiteDSNForFile(p)
	if err != nil {
		return nil, err
	}
	return credstore.NewSQLiteStore(dsn)
}

// Identity resolves the agent identity, reading the credential store only in
// token mode.
func (a *App) Identity(ctx context.Context) (chat.Identity, error) {
	if a.settings.Agent.Mode != config.AgentModeToken || a.settings.Agent.Token != "" {
		return a.settings.Identity(ctx, nil)
	}
	store, err := a.OpenStore()
	if err != nil {
		return chat.Identity{}, err
	}
	defer func() { _ = store.Close() }()
	return a.settings.Identity(ctx, store)
}

func (a *App) Client(id chat.Identity) (*api.Client, error) {
	return api.NewClient(a.settings.API.BaseURL,
		api.WithTimeout(a.settings.API.Timeout),
		api.WithIdentity(id),
	)
}
