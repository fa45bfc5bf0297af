// Package config loads threadlog settings from a config file, THREADLOG_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/threadlog/pkg/logging"
	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
	"github.com/go-go-golems/threadlog/pkg/persistence/threadfile"
	"github.com/go-go-golems/threadlog/pkg/redisstream"
)

const (
	AppName   = "threadlog"
	EnvPrefix = "THREADLOG"
)

// Settings is the full runtime configuration.
type Settings struct {
	Endpoint      string               `mapstructure:"endpoint"`
	KeyPrefix     string               `mapstructure:"key-prefix"`
	MaxMessages   int                  `mapstructure:"max-messages"`
	ThreadsDir    string               `mapstructure:"threads-dir"`
	ThreadsFormat string               `mapstructure:"threads-format"`
	Events        redisstream.Settings `mapstructure:"events"`
	Log           logging.Settings     `mapstructure:"log"`
}

// Retention converts MaxMessages to a store retention limit; zero means unlimited.
func (s Settings) Retention() *int {
	if s.MaxMessages == 0 {
		return nil
	}
	n := s.MaxMessages
	return &n
}

// Factory returns a store factory for these settings.
func (s Settings) Factory(sink chatstore.LogEventSink) chatstore.Factory {
	return chatstore.Factory{
		Endpoint:    s.Endpoint,
		KeyPrefix:   s.KeyPrefix,
		MaxMessages: s.Retention(),
		Sink:        sink,
	}
}

// ThreadDir opens the directory of saved thread states.
func (s Settings) ThreadDir() (*threadfile.Dir, error) {
	return threadfile.New(s.ThreadsDir, threadfile.Format(s.ThreadsFormat))
}

func setDefaults(v *viper.Viper) {
	events := redisstream.DefaultSettings()
	logs := logging.DefaultSettings()

	v.SetDefault("endpoint", "")
	v.SetDefault("key-prefix", chatstore.DefaultKeyPrefix)
	v.SetDefault("max-messages", 0)
	v.SetDefault("threads-dir", "threads")
	v.SetDefault("threads-format", string(threadfile.FormatJSON))
	v.SetDefault("events.enabled", events.Enabled)
	v.SetDefault("events.addr", events.Addr)
	v.SetDefault("events.topic", events.Topic)
	v.SetDefault("log.level", logs.Level)
	v.SetDefault("log.file", logs.File)
	v.SetDefault("log.max-size-mb", logs.MaxSizeMB)
	v.SetDefault("log.with-caller", logs.WithCaller)
	v.SetDefault("log.format", logs.Format)
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"endpoint":       "endpoint",
	"key-prefix":     "key-prefix",
	"max-messages":   "max-messages",
	"threads-dir":    "threads-dir",
	"threads-format": "threads-format",
	"events":         "events.enabled",
	"events-addr":    "events.addr",
	"events-topic":   "events.topic",
	"log-level":      "log.level",
	"log-file":       "log.file",
	"with-caller":    "log.with-caller",
	"log-format":     "log.format",
}

// AddFlags registers the persistent flags Load understands.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Config file (default: ./threadlog.yaml or ~/.threadlog/threadlog.yaml)")
	fs.String("endpoint", "", "Backing service endpoint (redis://, sqlite://, memory://); falls back to REDIS_URL")
	fs.String("key-prefix", chatstore.DefaultKeyPrefix, "Key prefix namespacing conversation keys")
	fs.Int("max-messages", 0, "Keep only the newest N messages per conversation (0 keeps all)")
	fs.String("threads-dir", "threads", "Directory of saved thread states")
	fs.String("threads-format", string(threadfile.FormatJSON), "Saved thread format (json, yaml)")
	fs.Bool("events", false, "Publish append/trim/clear events to Redis Streams")
	fs.String("events-addr", "localhost:6379", "Redis address for the event stream")
	fs.String("events-topic", redisstream.DefaultTopic, "Stream name for log events")
	fs.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.String("log-file", "", "Write logs to this file instead of stderr")
	fs.Bool("with-caller", false, "Include caller (file:line) in logs")
	fs.String("log-format", "auto", "Log format (auto, console, json)")
}

// Load resolves settings. fs may be nil; only flags the user actually set
// override file and environment values.
func Load(fs *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if err := readConfigFile(v, configFile); err != nil {
		return Settings{}, err
	}

	if fs != nil {
		for flagName, key := range flagKeys {
			f := fs.Lookup(flagName)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Settings{}, errors.Wrapf(err, "config: bind flag %s", flagName)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "config: unmarshal")
	}
	if strings.TrimSpace(s.Endpoint) == "" {
		s.Endpoint = strings.TrimSpace(os.Getenv("REDIS_URL"))
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "config: read %s", path)
		}
		return nil
	}
	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + string(os.PathSeparator) + "." + AppName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "config: read config")
	}
	return nil
}

// Validate checks values Load cannot coerce.
func (s Settings) Validate() error {
	if s.MaxMessages < 0 {
		return errors.Wrapf(chatstore.ErrInvalidConfig, "config: max-messages must not be negative, got %d", s.MaxMessages)
	}
	if strings.TrimSpace(s.KeyPrefix) == "" {
		return errors.Wrap(chatstore.ErrInvalidConfig, "config: key-prefix is empty")
	}
	if strings.Contains(s.KeyPrefix, chatstore.KeySeparator) {
		return errors.Wrapf(chatstore.ErrInvalidConfig, "config: key-prefix %q contains %q", s.KeyPrefix, chatstore.KeySeparator)
	}
	switch threadfile.Format(s.ThreadsFormat) {
	case threadfile.FormatJSON, threadfile.FormatYAML:
	default:
		return errors.Wrapf(chatstore.ErrInvalidConfig, "config: unknown threads-format %q", s.ThreadsFormat)
	}
	return nil
}
