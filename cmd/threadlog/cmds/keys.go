package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
)

const keyCountConcurrency = 8

func newKeysCommand(a *app) *cobra.Command {
	var (
		prefix string
		count  bool
	)
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List conversation keys under a prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("prefix") {
				prefix = a.settings.KeyPrefix
			}
			backend, err := chatstore.OpenListBackend(ctx, a.settings.Endpoint)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			keys, err := chatstore.ScanThreadKeys(ctx, backend, prefix)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				_, _ = fmt.Fprintln(out, "No keys found for this prefix yet.")
				return nil
			}
			if !count {
				for _, k := range keys {
					_, _ = fmt.Fprintf(out, "- %s\n", k)
				}
				return nil
			}

			lengths := make([]int64, len(keys))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(keyCountConcurrency)
			for i, k := range keys {
				i, k := i, k
				g.Go(func() error {
					n, err := backend.Len(gctx, k)
					if err != nil {
						return err
					}
					lengths[i] = n
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			for i, k := range keys {
				_, _ = fmt.Fprintf(out, "- %s (%d)\n", k, lengths[i])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix to list (default: --key-prefix; empty string lists all)")
	cmd.Flags().BoolVar(&count, "count", false, "Also print the number of records under each key")
	return cmd
}

func newInspectCommand(a *app) *cobra.Command {
	var decode bool
	cmd := &cobra.Command{
		Use:   "inspect KEY",
		Short: "Dump the raw records stored under any key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := chatstore.OpenListBackend(ctx, a.settings.Endpoint)
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()
			return inspect(cmd, backend, args[0], decode)
		},
	}
	cmd.Flags().BoolVar(&decode, "decode", false, "Decode each record as a message where possible")
	return cmd
}

func inspect(cmd *cobra.Command, backend chatstore.ListBackend, key string, decode bool) error {
	recs, err := chatstore.InspectKey(cmd.Context(), backend, key)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "That key does not exist or contains no records.")
		return nil
	}
	for _, r := range recs {
		if decode {
			if m, err := chatstore.DecodeMessage(r.Payload); err == nil {
				_, _ = fmt.Fprintf(out, "[%d] %s\n", r.Index, formatMessage(m))
				continue
			}
		}
		_, _ = fmt.Fprintf(out, "[%d] %s\n", r.Index, r.Payload)
	}
	return nil
}
