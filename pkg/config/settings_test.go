package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/persistence/credstore"
)

func load(t *testing.T, configFile string) Settings {
	t.Helper()
	v := viper.New()
	require.NoError(t, Init(v, configFile))
	s, err := Load(v)
	require.NoError(t, err)
	return s
}

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())
	s := load(t, "")

	require.Equal(t, "http://localhost:3000", s.API.BaseURL)
	require.Equal(t, 15*time.Second, s.API.Timeout)
	require.Equal(t, AgentModeExplicit, s.Agent.Mode)
	require.Equal(t, chat.StatusOpen, s.Status())
	require.Equal(t, 25*time.Second, s.Socket.PingInterval)
	require.Equal(t, "inbox.updates", s.Redis.Topic)
	require.Equal(t, "info", s.Logging.Level)
	require.True(t, s.Console.ConfirmClose)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "inbox.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
api:
  base_url: https://support.example.com/api
  history_order: oldest-first
socket:
  reconnect_max: 5s
  stable_after: 30s
console:
  status: closed
`), 0o600))
	t.Setenv("INBOX_AGENT_NAME", "Night Shift")
	t.Setenv("INBOX_SOCKET_OUTBOX_SIZE", "7")

	s := load(t, file)
	require.Equal(t, "https://support.example.com/api", s.API.BaseURL)
	require.Equal(t, "oldest-first", s.API.HistoryOrder)
	require.Equal(t, 5*time.Second, s.Socket.ReconnectMax)
	require.Equal(t, chat.StatusClosed, s.Status())
	require.Equal(t, "Night Shift", s.Agent.Name)
	require.Equal(t, 7, s.Socket.OutboxSize)

	cfg, err := s.Transport()
	require.NoError(t, err)
	require.Equal(t, "wss://support.example.com/api/chat/ws", cfg.URL)
	require.Equal(t, 7, cfg.OutboxSize)
	require.Equal(t, 30*time.Second, cfg.StableAfter)
}

func TestInit_MissingExplicitFile(t *testing.T) {
	require.Error(t, Init(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agent.mode", "magic")
	_, err := Load(v)
	require.Error(t, err)

	v.Set("agent.mode", AgentModeToken)
	v.Set("api.history_order", "random")
	_, err = Load(v)
	require.Error(t, err)

	v.Set("api.history_order", "newest-first")
	v.Set("console.status", "ARCHIVED")
	_, err = Load(v)
	require.Error(t, err)
}

func TestSocketURL(t *testing.T) {
	cases := []struct {
		base, path, override, want string
	}{
		{"http://localhost:3000", "/chat/ws", "", "ws://localhost:3000/chat/ws"},
		{"https://example.com/v1?x=1", "/chat/ws", "", "wss://example.com/v1/chat/ws"},
		{"http://localhost:3000", "/chat/ws", "ws://gateway:9000/live", "ws://gateway:9000/live"},
	}
	for _, tc := range cases {
		s := Settings{API: APISettings{BaseURL: tc.base}, Socket: SocketSettings{Path: tc.path, URL: tc.override}}
		got, err := s.SocketURL()
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := Settings{API: APISettings{BaseURL: "ftp://x"}}.SocketURL()
	require.Error(t, err)
}

func TestIdentity(t *testing.T) {
	ctx := context.Background()

	s := Settings{Agent: AgentSettings{Mode: AgentModeExplicit}}
	id, err := s.Identity(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, chat.ExplicitIdentity(DefaultAgentID, DefaultAgentName, ""), id)

	dsn, err := credstore.SQLiteDSNForFile(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	store, err := credstore.NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	s = Settings{Agent: AgentSettings{Mode: AgentModeToken}, Credentials: CredentialSettings{Profile: "work"}}
	_, err = s.Identity(ctx, store)
	require.ErrorIs(t, err, ErrNoStoredToken)

	require.NoError(t, store.Save(ctx, "work", "tok-9"))
	id, err = s.Identity(ctx, store)
	require.NoError(t, err)
	require.Equal(t, chat.StoredTokenIdentity("tok-9"), id)

	s.Agent.Token = "override"
	id, err = s.Identity(ctx, store)
	require.NoError(t, err)
	require.Equal(t, "override", id.Token)
}
