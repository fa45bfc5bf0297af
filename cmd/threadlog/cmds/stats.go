package cmds

import (
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/weaviate/tiktoken-go"

	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
)

const statsEncoding = "cl100k_base"

type roleStats struct {
	Role     chatstore.Role
	Messages int
	Tokens   int
}

type threadStats struct {
	Roles  []roleStats
	Total  int
	Tokens int
}

// tokenCounter returns the number of tokens in a text.
type tokenCounter func(text string) int

func newTokenCounter() (tokenCounter, error) {
	enc, err := tiktoken.GetEncoding(statsEncoding)
	if err != nil {
		return nil, errors.Wrap(err, "stats: load tokenizer")
	}
	return func(text string) int { return len(enc.Encode(text, nil, nil)) }, nil
}

// computeStats counts messages and text tokens per role.
func computeStats(msgs []chatstore.Message, count tokenCounter) threadStats {
	byRole := map[chatstore.Role]*roleStats{}
	var st threadStats
	for _, m := range msgs {
		rs := byRole[m.Role]
		if rs == nil {
			rs = &roleStats{Role: m.Role}
			byRole[m.Role] = rs
		}
		n := count(m.Text())
		rs.Messages++
		rs.Tokens += n
		st.Total++
		st.Tokens += n
	}
	for _, rs := range byRole {
		st.Roles = append(st.Roles, *rs)
	}
	sort.Slice(st.Roles, func(i, j int) bool { return st.Roles[i].Role < st.Roles[j].Role })
	return st
}

func writeStats(w io.Writer, st threadStats) {
	_, _ = fmt.Fprintf(w, "\n%-10s %8s %8s\n", "role", "messages", "tokens")
	for _, rs := range st.Roles {
		_, _ = fmt.Fprintf(w, "%-10s %8d %8d\n", rs.Role, rs.Messages, rs.Tokens)
	}
	_, _ = fmt.Fprintf(w, "%-10s %8d %8d\n", "total", st.Total, st.Tokens)
}
