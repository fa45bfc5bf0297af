package cmds

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
)

const shellMenu = `
Current thread key: %s
  1) Add a message
  2) Show history
  3) Show serialized thread state
  4) List keys for this prefix
  5) Inspect a specific key
  6) Start a new thread
  7) Save current thread
  8) Switch to a saved thread
  q) Quit (an empty line quits too)
`

func newShellCommand(a *app) *cobra.Command {
	var saved string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive menu for one thread at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runShell(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), saved)
		},
	}
	cmd.Flags().StringVar(&saved, "saved", "", "Start on this saved thread instead of a new one")
	return cmd
}

type shell struct {
	a      *app
	ui     *input.UI
	out    io.Writer
	binder *chatstore.Binder
}

func (a *app) runShell(ctx context.Context, in io.Reader, out io.Writer, saved string) error {
	sh := &shell{
		a:      a,
		ui:     &input.UI{Reader: in, Writer: out},
		out:    out,
		binder: chatstore.NewBinder(a.factory()),
	}
	defer func() { _ = sh.binder.Close() }()

	if saved != "" {
		if err := sh.switchTo(ctx, saved); err != nil {
			return err
		}
	} else if _, err := sh.binder.StartNew(ctx); err != nil {
		return err
	}

	for {
		cur := sh.binder.Current()
		sh.printf(shellMenu, cur.Key())
		choice, err := sh.ui.Ask("Choose an option", &input.Options{HideOrder: true})
		if err != nil {
			return errors.Wrap(err, "read menu choice")
		}
		switch strings.ToLower(strings.TrimSpace(choice)) {
		case "1":
			err = sh.addMessage(ctx, cur)
		case "2":
			err = sh.showHistory(ctx, cur)
		case "3":
			err = writeThreadState(sh.out, "json", chatstore.ExportThreadState(cur))
		case "4":
			err = sh.listKeys(ctx)
		case "5":
			err = sh.inspectKey(ctx)
		case "6":
			err = sh.startNew(ctx)
		case "7":
			err = sh.save(cur)
		case "8":
			err = sh.switchSaved(ctx)
		case "", "q", "quit", "exit":
			sh.printf("Goodbye! Closing the connection...\n")
			return nil
		default:
			sh.printf("Unknown option. Please try again.\n")
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Keep the session alive; the next action may succeed.
			sh.printf("Error: %v\n", err)
		}
	}
}

func (sh *shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(sh.out, format, args...)
}

func (sh *shell) addMessage(ctx context.Context, cur *chatstore.Store) error {
	role, err := sh.ui.Ask("Role (user, assistant, system, tool)", &input.Options{Default: "user", HideOrder: true})
	if err != nil {
		return err
	}
	r := chatstore.Role(strings.ToLower(strings.TrimSpace(role)))
	if !r.Valid() {
		sh.printf("Unknown role %q.\n", role)
		return nil
	}
	text, err := sh.ui.Ask("Message", &input.Options{HideOrder: true})
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		sh.printf("Please enter a non-empty message.\n")
		return nil
	}
	if err := cur.Append(ctx, chatstore.NewTextMessage(r, text)); err != nil {
		return err
	}
	sh.printf("Stored 1 message.\n")
	return nil
}

func (sh *shell) showHistory(ctx context.Context, cur *chatstore.Store) error {
	msgs, err := cur.List(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		sh.printf("\nThe list is empty for this thread. Add a message first!\n")
		return nil
	}
	sh.printf("\nStored messages (oldest to newest):\n")
	return writeMessages(sh.out, "text", msgs)
}

func (sh *shell) listKeys(ctx context.Context) error {
	keys, err := chatstore.ListThreadKeys(ctx, sh.a.settings.Endpoint, sh.a.settings.KeyPrefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		sh.printf("\nNo keys found for this prefix yet.\n")
		return nil
	}
	sh.printf("\nKeys using this prefix:\n")
	for _, k := range keys {
		sh.printf("- %s\n", k)
	}
	return nil
}

func (sh *shell) inspectKey(ctx context.Context) error {
	key, err := sh.ui.Ask("Enter the full key to inspect", &input.Options{HideOrder: true})
	if err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		sh.printf("Key cannot be empty.\n")
		return nil
	}
	backend, err := chatstore.OpenListBackend(ctx, sh.a.settings.Endpoint)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	recs, err := chatstore.InspectKey(ctx, backend, key)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		sh.printf("That key does not exist or contains no records.\n")
		return nil
	}
	sh.printf("\nRecords inside that list:\n")
	for _, r := range recs {
		sh.printf("- %s\n", r.Payload)
	}
	return nil
}

func (sh *shell) startNew(ctx context.Context) error {
	ok, err := askYesNo(sh.ui, "This will start a new key. Continue?")
	if err != nil {
		return err
	}
	if !ok {
		sh.printf("Keeping current thread.\n")
		return nil
	}
	if _, err := sh.binder.StartNew(ctx); err != nil {
		return err
	}
	sh.printf("Started a brand-new thread.\n")
	return nil
}

func (sh *shell) save(cur *chatstore.Store) error {
	name, err := sh.ui.Ask("Save as", &input.Options{Default: cur.ThreadID(), HideOrder: true})
	if err != nil {
		return err
	}
	slug, err := sh.a.saveState(cur, name)
	if err != nil {
		return err
	}
	sh.printf("Thread saved as '%s'.\n", slug)
	return nil
}

func (sh *shell) switchSaved(ctx context.Context) error {
	dir, err := sh.a.settings.ThreadDir()
	if err != nil {
		return err
	}
	entries, err := dir.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		sh.printf("No saved threads in %s.\n", dir.Root)
		return nil
	}
	for _, e := range entries {
		sh.printf("- %s\n", e.Name)
	}
	name, err := sh.ui.Ask("Thread to load", &input.Options{HideOrder: true})
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return sh.switchTo(ctx, name)
}

func (sh *shell) switchTo(ctx context.Context, name string) error {
	dir, err := sh.a.settings.ThreadDir()
	if err != nil {
		return err
	}
	ts, slug, err := dir.Load(name)
	if err != nil {
		return err
	}
	s, err := sh.binder.Switch(ctx, ts.StoreMetadata)
	if err != nil {
		return err
	}
	sh.printf("Loaded thread '%s' (%s).\n", slug, s.Key())
	return nil
}
