// Package prompt asks the user before existing outputs are overwritten.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/mattn/go-isatty"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("prompt aborted")

// Confirmer answers yes/no questions.
type Confirmer interface {
	Confirm(ctx context.Context, message string, def bool) (bool, error)
}

// SurveyConfirmer prompts on the terminal.
type SurveyConfirmer struct{}

func (SurveyConfirmer) Confirm(ctx context.Context, message string, def bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var out bool
	q := &survey.Confirm{Message: message, Default: def}
	if err := survey.AskOne(q, &out); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return false, ErrAborted
		}
		return false, err
	}
	return out, nil
}

// Always answers every question with its value without asking.
type Always bool

func (a Always) Confirm(context.Context, string, bool) (bool, error) {
	return bool(a), nil
}

// Interactive reports whether stdin is a terminal a prompt can read from.
func Interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ForTerminal returns a SurveyConfirmer when warn is set and stdin is a
// terminal, and a confirmer that always agrees otherwise.
func ForTerminal(warn bool) Confirmer {
	if warn && Interactive() {
		return SurveyConfirmer{}
	}
	return Always(true)
}

// Overwrite asks before replacing each existing path. It returns false as
// soon as one is declined; missing paths need no confirmation.
func Overwrite(ctx context.Context, c Confirmer, paths ...string) (bool, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return false, err
		}
		ok, err := c.Confirm(ctx, fmt.Sprintf("%s exists. Overwrite?", p), true)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
