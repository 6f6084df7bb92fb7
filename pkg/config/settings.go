package config

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/chat/reconciler"
	"github.com/go-go-golems/inbox/pkg/chat/transport"
	"github.com/go-go-golems/inbox/pkg/eventbus"
	"github.com/go-go-golems/inbox/pkg/logging"
)

const (
	EnvPrefix = "INBOX"

	AgentModeExplicit = "explicit"
	AgentModeToken    = "token"

	// development fallback identity
	DefaultAgentID   = "agent-1"
	DefaultAgentName = "Sale Agent"
)

type APISettings struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PageSize     int           `mapstructure:"page_size" yaml:"page_size"`
	HistoryLimit int           `mapstructure:"history_limit" yaml:"history_limit"`
	HistoryOrder string        `mapstructure:"history_order" yaml:"history_order"`
}

type SocketSettings struct {
	// URL overrides the endpoint derived from the API base URL and Path.
	URL               string        `mapstructure:"url" yaml:"url"`
	Path              string        `mapstructure:"path" yaml:"path"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PongWait          time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	ReconnectInitial  time.Duration `mapstructure:"reconnect_initial" yaml:"reconnect_initial"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`
	StableAfter       time.Duration `mapstructure:"stable_after" yaml:"stable_after"`
	OutboxSize        int           `mapstructure:"outbox_size" yaml:"outbox_size"`
	OutboxMaxAge      time.Duration `mapstructure:"outbox_max_age" yaml:"outbox_max_age"`
	OutboxMaxAttempts int           `mapstructure:"outbox_max_attempts" yaml:"outbox_max_attempts"`
	FlushRate         float64       `mapstructure:"flush_rate" yaml:"flush_rate"`
	FlushBurst        int           `mapstructure:"flush_burst" yaml:"flush_burst"`
}

type AgentSettings struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	ID    string `mapstructure:"id" yaml:"id"`
	Name  string `mapstructure:"name" yaml:"name"`
	Token string `mapstructure:"token" yaml:"token,omitempty"`
}

type ConsoleSettings struct {
	Status       string `mapstructure:"status" yaml:"status"`
	Phone        string `mapstructure:"phone" yaml:"phone"`
	NoticeLimit  int    `mapstructure:"notice_limit" yaml:"notice_limit"`
	ConfirmClose bool   `mapstructure:"confirm_close" yaml:"confirm_close"`
}

type CredentialSettings struct {
	Path    string `mapstructure:"path" yaml:"path"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

type Settings struct {
	API         APISettings        `mapstructure:"api" yaml:"api"`
	Socket      SocketSettings     `mapstructure:"socket" yaml:"socket"`
	Agent       AgentSettings      `mapstructure:"agent" yaml:"agent"`
	Console     ConsoleSettings    `mapstructure:"console" yaml:"console"`
	Credentials CredentialSettings `mapstructure:"credentials" yaml:"credentials"`
	Redis       eventbus.Settings  `mapstructure:"redis" yaml:"redis"`
	Logging     logging.Settings   `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsSettings    `mapstructure:"metrics" yaml:"metrics"`
}

// SetDefaults registers every key so that environment variables resolve even
// when no config file mentions them.
func SetDefaults(v *viper.Viper) {
	t := transport.DefaultConfig()
	bus := eventbus.DefaultSettings()
	lg := logging.DefaultSettings()

	v.SetDefault("api.base_url", "http://localhost:3000")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.page_size", 50)
	v.SetDefault("api.history_limit", 100)
	v.SetDefault("api.history_order", string(reconciler.NewestFirst))

	v.SetDefault("socket.url", "")
	v.SetDefault("socket.path", "/chat/ws")
	v.SetDefault("socket.handshake_timeout", t.HandshakeTimeout)
	v.SetDefault("socket.write_timeout", t.WriteTimeout)
	v.SetDefault("socket.ping_interval", t.PingInterval)
	v.SetDefault("socket.pong_wait", t.PongWait)
	v.SetDefault("socket.reconnect_initial", t.ReconnectInitial)
	v.SetDefault("socket.reconnect_max", t.ReconnectMax)
	v.SetDefault("socket.stable_after", t.StableAfter)
	v.SetDefault("socket.outbox_size", t.OutboxSize)
	v.SetDefault("socket.outbox_max_age", t.OutboxMaxAge)
	v.SetDefault("socket.outbox_max_attempts", t.OutboxMaxAttempts)
	v.SetDefault("socket.flush_rate", t.FlushRate)
	v.SetDefault("socket.flush_burst", t.FlushBurst)

	v.SetDefault("agent.mode", AgentModeExplicit)
	v.SetDefault("agent.id", DefaultAgentID)
	v.SetDefault("agent.name", DefaultAgentName)
	v.SetDefault("agent.token", "")

	v.SetDefault("console.status", string(chat.StatusOpen))
	v.SetDefault("console.phone", "")
	v.SetDefault("console.notice_limit", 50)
	v.SetDefault("console.confirm_close", true)

	v.SetDefault("credentials.path", "$HOME/.inbox/credentials.db")
	v.SetDefault("credentials.profile", "default")

	v.SetDefault("redis.enabled", bus.Enabled)
	v.SetDefault("redis.addr", bus.Addr)
	v.SetDefault("redis.group", bus.Group)
	v.SetDefault("redis.consumer", bus.Consumer)
	v.SetDefault("redis.topic", bus.Topic)

	v.SetDefault("logging.level", lg.Level)
	v.SetDefault("logging.format", lg.Format)
	v.SetDefault("logging.with_caller", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
}

// Init wires defaults, the optional config file and INBOX_* environment
// variables into v. A missing default config file is not an error; a missing
// explicit one is.
func Init(v *viper.Viper, configFile string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", configFile)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.inbox")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	return nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return s, errors.Wrap(err, "decode settings")
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if _, err := url.Parse(s.API.BaseURL); err != nil || s.API.BaseURL == "" {
		return errors.Errorf("api.base_url %q is not a valid URL", s.API.BaseURL)
	}
	switch reconciler.HistoryOrder(s.API.HistoryOrder) {
	case reconciler.NewestFirst, reconciler.OldestFirst:
	default:
		return errors.Errorf("api.history_order must be %s or %s", reconciler.NewestFirst, reconciler.OldestFirst)
	}
	switch s.Agent.Mode {
	case AgentModeExplicit, AgentModeToken:
	default:
		return errors.Errorf("agent.mode must be %s or %s", AgentModeExplicit, AgentModeToken)
	}
	if st := chat.ConversationStatus(strings.ToUpper(s.Console.Status)); !st.Valid() {
		return errors.Errorf("console.status %q is not OPEN or CLOSED", s.Console.Status)
	}
	return nil
}

// SocketURL is the websocket endpoint, derived from the API base URL unless
// socket.url is set.
func (s Settings) SocketURL() (string, error) {
	if s.Socket.URL != "" {
		return s.Socket.URL, nil
	}
	u, err := url.Parse(s.API.BaseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse api.base_url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", errors.Errorf("cannot derive socket url from scheme %q", u.Scheme)
	}
	u.Path = path.Join("/", u.Path, s.Socket.Path)
	u.RawQuery = ""
	return u.String(), nil
}

func (s Settings) Transport() (transport.Config, error) {
	wsURL, err := s.SocketURL()
	if err != nil {
		return transport.Config{}, err
	}
	return transport.Config{
		URL:               wsURL,
		HandshakeTimeout:  s.Socket.HandshakeTimeout,
		WriteTimeout:      s.Socket.WriteTimeout,
		PingInterval:      s.Socket.PingInterval,
		PongWait:          s.Socket.PongWait,
		ReconnectInitial:  s.Socket.ReconnectInitial,
		ReconnectMax:      s.Socket.ReconnectMax,
		StableAfter:       s.Socket.StableAfter,
		OutboxSize:        s.Socket.OutboxSize,
		OutboxMaxAge:      s.Socket.OutboxMaxAge,
		OutboxMaxAttempts: s.Socket.OutboxMaxAttempts,
		FlushRate:         s.Socket.FlushRate,
		FlushBurst:        s.Socket.FlushBurst,
	}, nil
}

func (s Settings) Status() chat.ConversationStatus {
	return chat.ConversationStatus(strings.ToUpper(s.Console.Status))
}
