package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
)

func (a *app) saveState(s *chatstore.Store, name string) (string, error) {
	dir, err := a.settings.ThreadDir()
	if err != nil {
		return "", err
	}
	return dir.Save(name, chatstore.ExportThreadState(s))
}

func newSaveCommand(a *app) *cobra.Command {
	var tf threadFlags
	cmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Save a thread's state under a name in --threads-dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openThread(cmd.Context(), cmd, tf)
			if err != nil {
				return err
			}
			defer closeStore(s)
			slug, err := a.saveState(s, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Thread saved as '%s'.\n", slug)
			return nil
		},
	}
	addThreadFlags(cmd, &tf)
	return cmd
}

func newSavedCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "saved",
		Short: "List saved thread states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.settings.ThreadDir()
			if err != nil {
				return err
			}
			entries, err := dir.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintf(out, "No saved threads in %s.\n", dir.Root)
				return nil
			}
			for _, e := range entries {
				ts, _, err := dir.Load(e.Name)
				if err != nil {
					_, _ = fmt.Fprintf(out, "- %s (unreadable: %v)\n", e.Name, err)
					continue
				}
				_, _ = fmt.Fprintf(out, "- %s -> %s\n", e.Name, ts.StoreMetadata.Key())
			}
			return nil
		},
	}
}

func newLoadCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "load NAME",
		Short: "Reattach to a saved thread and print its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openThread(cmd.Context(), cmd, threadFlags{saved: args[0]})
			if err != nil {
				return err
			}
			defer closeStore(s)
			msgs, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			if format == "text" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Loaded thread '%s' (%s).\n", args[0], s.Key())
			}
			return writeMessages(cmd.OutOrStdout(), format, msgs)
		},
	}
	cmd.Flags().StringVar(&format, "output", "text", "Output format (text, json, yaml)")
	return cmd
}

func newForgetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget NAME",
		Short: "Delete a saved thread state; the history itself is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.settings.ThreadDir()
			if err != nil {
				return err
			}
			if err := dir.Delete(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
			return nil
		},
	}
}
