package cmds

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
)

type threadFlags struct {
	thread string
	saved  string
}

func addThreadFlags(cmd *cobra.Command, tf *threadFlags) {
	cmd.Flags().StringVar(&tf.thread, "thread", "", "Thread id under --key-prefix")
	cmd.Flags().StringVar(&tf.saved, "saved", "", "Name of a saved thread state (see 'threadlog saved')")
}

// openThread attaches to the conversation log picked by --thread or --saved.
func (a *app) openThread(ctx context.Context, cmd *cobra.Command, tf threadFlags) (*chatstore.Store, error) {
	thread := strings.TrimSpace(tf.thread)
	saved := strings.TrimSpace(tf.saved)
	switch {
	case thread != "" && saved != "":
		return nil, errors.New("pass either --thread or --saved, not both")
	case saved != "":
		dir, err := a.settings.ThreadDir()
		if err != nil {
			return nil, err
		}
		ts, _, err := dir.Load(saved)
		if err != nil {
			return nil, err
		}
		var opts []chatstore.RestoreOption
		if cmd.Flags().Changed("endpoint") {
			opts = append(opts, chatstore.WithConnectionEndpoint(a.settings.Endpoint))
		}
		return a.factory().AttachStore(ctx, ts.StoreMetadata, opts...)
	case thread != "":
		return a.factory().AttachStore(ctx, chatstore.StoreState{
			ThreadID:    thread,
			KeyPrefix:   a.settings.KeyPrefix,
			MaxMessages: a.settings.Retention(),
		})
	default:
		return nil, errors.New("pass --thread ID or --saved NAME")
	}
}

func closeStore(s *chatstore.Store) {
	_ = s.Close()
}

func newNewCommand(a *app) *cobra.Command {
	var saveAs string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new thread and print its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.factory().NewStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore(s)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "thread: %s\nkey:    %s\n", s.ThreadID(), s.Key())
			if saveAs != "" {
				slug, err := a.saveState(s, saveAs)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "saved:  %s\n", slug)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&saveAs, "save", "", "Also save the thread state under this name")
	return cmd
}

func newAppendCommand(a *app) *cobra.Command {
	var (
		tf        threadFlags
		messageID string
		author    string
		fromStdin bool
	)
	cmd := &cobra.Command{
		Use:   "append ROLE [TEXT...]",
		Short: "Append one text message to a thread",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := chatstore.Role(strings.ToLower(args[0]))
			if !role.Valid() {
				return errors.Errorf("unknown role %q (user, assistant, system, tool)", args[0])
			}
			text := strings.Join(args[1:], " ")
			if fromStdin {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "read stdin")
				}
				text = strings.TrimRight(string(b), "\n")
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("message text is empty")
			}

			s, err := a.openThread(cmd.Context(), cmd, tf)
			if err != nil {
				return err
			}
			defer closeStore(s)

			msg := chatstore.NewTextMessage(role, text)
			msg.MessageID = messageID
			msg.AuthorName = author
			if err := s.Append(cmd.Context(), msg); err != nil {
				return err
			}
			n, err := s.Len(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s now holds %d messages\n", s.Key(), n)
			return nil
		},
	}
	addThreadFlags(cmd, &tf)
	cmd.Flags().StringVar(&messageID, "message-id", "", "Optional message id")
	cmd.Flags().StringVar(&author, "author", "", "Optional author name")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the message text from stdin")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var (
		tf     threadFlags
		format string
		stats  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print a thread's messages, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openThread(cmd.Context(), cmd, tf)
			if err != nil {
				return err
			}
			defer closeStore(s)

			msgs, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := writeMessages(out, format, msgs); err != nil {
				return err
			}
			if stats {
				count, err := newTokenCounter()
				if err != nil {
					return err
				}
				writeStats(out, computeStats(msgs, count))
			}
			return nil
		},
	}
	addThreadFlags(cmd, &tf)
	cmd.Flags().StringVar(&format, "output", "text", "Output format (text, json, yaml)")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print message and token counts per role")
	return cmd
}

func newClearCommand(a *app) *cobra.Command {
	var (
		tf  threadFlags
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a thread's history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openThread(cmd.Context(), cmd, tf)
			if err != nil {
				return err
			}
			defer closeStore(s)

			if !yes {
				ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Delete every message in %s?", s.Key()))
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Keeping history.")
					return nil
				}
			}
			if err := s.Clear(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", s.Key())
			return nil
		},
	}
	addThreadFlags(cmd, &tf)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newStateCommand(a *app) *cobra.Command {
	var (
		tf     threadFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the serialized thread state (metadata only, never message text)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openThread(cmd.Context(), cmd, tf)
			if err != nil {
				return err
			}
			defer closeStore(s)
			return writeThreadState(cmd.OutOrStdout(), format, chatstore.ExportThreadState(s))
		},
	}
	addThreadFlags(cmd, &tf)
	cmd.Flags().StringVar(&format, "format", "json", "Output format (json, yaml)")
	return cmd
}

func writeThreadState(w io.Writer, format string, ts chatstore.ThreadState) error {
	var (
		b   []byte
		err error
	)
	switch format {
	case "json", "":
		b, err = chatstore.MarshalThreadState(ts)
		if err == nil {
			b = append(b, '\n')
		}
	case "yaml":
		b, err = chatstore.MarshalThreadStateYAML(ts)
	default:
		return errors.Errorf("unknown format %q", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
