package cmds

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/threadlog/pkg/redisstream"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		group    string
		consumer string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow append/trim/clear events from the Redis event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := a.settings.Events
			if s.Addr == "" {
				return errors.New("watch: --events-addr is empty")
			}
			topic := s.Topic
			if topic == "" {
				topic = redisstream.DefaultTopic
			}
			if consumer == "" {
				consumer = "watch-" + uuid.NewString()[:8]
			}
			if err := redisstream.EnsureGroupAtTail(ctx, s.Addr, topic, group); err != nil {
				return err
			}
			sub, err := redisstream.BuildGroupSubscriber(s.Addr, group, consumer)
			if err != nil {
				return err
			}
			defer func() { _ = sub.Close() }()

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "watching %s (group %s, consumer %s)\n", topic, group, consumer)
			return watchEvents(ctx, sub, topic, out)
		},
	}
	cmd.Flags().StringVar(&group, "group", "threadlog-watch", "Consumer group")
	cmd.Flags().StringVar(&consumer, "consumer", "", "Consumer name (default: random)")
	return cmd
}

// watchEvents prints one line per log event until ctx is done.
func watchEvents(ctx context.Context, sub message.Subscriber, topic string, out io.Writer) error {
	return redisstream.Watch(ctx, sub, topic, func(m redisstream.LogEventMessage) error {
		ev := m.Event
		at := time.UnixMilli(ev.AtMs).UTC().Format(time.RFC3339)
		_, err := fmt.Fprintf(out, "%s %-8s %s count=%d length=%d\n", at, ev.Type, ev.Key, ev.Count, ev.Length)
		return err
	})
}
