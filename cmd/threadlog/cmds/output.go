package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
)

func writeMessages(w io.Writer, format string, msgs []chatstore.Message) error {
	switch format {
	case "text", "":
		if len(msgs) == 0 {
			_, _ = fmt.Fprintln(w, "(no messages)")
			return nil
		}
		for _, m := range msgs {
			_, _ = fmt.Fprintln(w, formatMessage(m))
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if msgs == nil {
			msgs = []chatstore.Message{}
		}
		return enc.Encode(msgs)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(msgs); err != nil {
			return errors.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}

func formatMessage(m chatstore.Message) string {
	var sb strings.Builder
	sb.WriteString("- ")
	sb.WriteString(strings.ToUpper(string(m.Role)))
	if m.AuthorName != "" {
		sb.WriteString(" (" + m.AuthorName + ")")
	}
	sb.WriteString(": ")
	text := m.Text()
	if text == "" {
		parts := make([]string, 0, len(m.Contents))
		for _, p := range m.Contents {
			parts = append(parts, "<"+string(p.Type)+">")
		}
		text = strings.Join(parts, " ")
	}
	sb.WriteString(text)
	return sb.String()
}
