package cmds

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/tcnksm/go-input"
)

// confirm asks a y/n question. When in is a file that is not a terminal it
// refuses rather than guessing, so scripts must pass --yes.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if f, ok := in.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false, errors.New("refusing to ask for confirmation without a terminal; pass --yes")
	}
	return askYesNo(&input.UI{Writer: out, Reader: in}, question)
}

// askYesNo defaults to no; an empty answer or closed input means no.
func askYesNo(ui *input.UI, question string) (bool, error) {
	answer, err := ui.Ask(question+" [y/N]", &input.Options{
		Default:     "n",
		HideDefault: true,
		Loop:        true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(strings.TrimSpace(answer)) {
			case "y", "yes", "n", "no":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "read confirmation")
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
