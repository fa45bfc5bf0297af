package cmds

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/threadlog/pkg/config"
	"github.com/go-go-golems/threadlog/pkg/logging"
	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
	"github.com/go-go-golems/threadlog/pkg/redisstream"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	settings  config.Settings
	publisher *redisstream.EventPublisher
	logCloser io.Closer
}

func (a *app) init(cmd *cobra.Command) error {
	s, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	a.settings = s

	closer, err := logging.Init(s.Log)
	if err != nil {
		return err
	}
	a.logCloser = closer

	pub, err := redisstream.BuildEventPublisher(cmd.Context(), s.Events)
	if err != nil {
		return errors.Wrap(err, "event stream")
	}
	a.publisher = pub
	log.Debug().
		Str("endpoint", chatstore.RedactEndpoint(s.Endpoint)).
		Str("key_prefix", s.KeyPrefix).
		Bool("events", pub != nil).
		Msg("threadlog configured")
	return nil
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close event publisher")
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// sink returns the event sink, or nil when events are off. A typed nil
// publisher must not leak into the interface.
func (a *app) sink() chatstore.LogEventSink {
	if a.publisher == nil {
		return nil
	}
	return a.publisher
}

func (a *app) factory() chatstore.Factory {
	return a.settings.Factory(a.sink())
}

// NewRootCommand builds the threadlog command tree. The returned cleanup
// releases resources acquired while running a command.
func NewRootCommand() (*cobra.Command, func()) {
	a := &app{}
	root := &cobra.Command{
		Use:           "threadlog",
		Short:         "Persist conversation threads in Redis, SQLite or memory",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	config.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newNewCommand(a),
		newAppendCommand(a),
		newListCommand(a),
		newClearCommand(a),
		newStateCommand(a),
		newSaveCommand(a),
		newSavedCommand(a),
		newLoadCommand(a),
		newForgetCommand(a),
		newKeysCommand(a),
		newInspectCommand(a),
		newWatchCommand(a),
		newShellCommand(a),
	)
	return root, a.close
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, args []string) error {
	root, cleanup := NewRootCommand()
	defer cleanup()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
