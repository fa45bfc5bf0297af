package redisstream

// DefaultTopic is the stream conversation log events are published to.
const DefaultTopic = "threadlog.events"

// Settings holds Redis Streams transport configuration for log events.
type Settings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Topic   string `mapstructure:"topic" yaml:"topic"`
}

// DefaultSettings leaves the event stream off.
func DefaultSettings() Settings {
	return Settings{
		Addr:  "localhost:6379",
		Topic: DefaultTopic,
	}
}

func (s Settings) topic() string {
	if s.Topic == "" {
		return DefaultTopic
	}
	return s.Topic
}
