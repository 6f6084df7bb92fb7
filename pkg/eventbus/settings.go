package eventbus

// DefaultTopic carries console updates.
const DefaultTopic = "inbox.updates"

// Settings selects the bus backend. Without Redis the bus is an in-process
// go-channel, which is enough for a single console plus its log subscriber.
type Settings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Group    string `mapstructure:"group" yaml:"group"`
	Consumer string `mapstructure:"consumer" yaml:"consumer"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "inbox-console",
		Consumer: "console-1",
		Topic:    DefaultTopic,
	}
}

func (s Settings) topic() string {
	if s.Topic == "" {
		return DefaultTopic
	}
	return s.Topic
}
