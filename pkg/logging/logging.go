package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Settings controls the global zerolog logger. Format is "auto" (console on a
// terminal, JSON otherwise), "console" or "json". File, when set, replaces
// stderr and is rotated once it grows past MaxSizeMB.
type Settings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb" yaml:"max-size-mb"`
	WithCaller bool   `mapstructure:"with-caller" yaml:"with-caller"`
	Format     string `mapstructure:"format" yaml:"format"`
}

func DefaultSettings() Settings {
	return Settings{Level: "info", Format: "auto", MaxSizeMB: 50}
}

// Init installs the global logger. The returned closer releases the log file,
// if one was opened; it is never nil.
func Init(s Settings) (io.Closer, error) {
	level := zerolog.InfoLevel
	if strings.TrimSpace(s.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s.Level)))
		if err != nil {
			return nopCloser{}, errors.Wrapf(err, "logging: parse level %q", s.Level)
		}
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
		isTTY            = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	)
	if s.File != "" {
		f := &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    s.MaxSizeMB,
			MaxBackups: 3,
		}
		out, closer, isTTY = f, f, false
	}

	logger := zerolog.New(writerFor(out, s.Format, isTTY)).With().Timestamp()
	if s.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()
	return closer, nil
}

func writerFor(out io.Writer, format string, isTTY bool) io.Writer {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return out
	case "console":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !isTTY}
	default:
		if isTTY {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
		return out
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
