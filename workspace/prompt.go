package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// ErrNoTerminal is returned by TerminalPrompt when stdin or stdout is not
// an interactive terminal.
var ErrNoTerminal = errors.New("no interactive terminal for confirmation prompt")

// HumanPrompt asks a person a yes/no question and blocks for the answer.
type HumanPrompt interface {
	Ask(ctx context.Context, question string) (bool, error)
}

// TerminalPrompt asks on the controlling terminal.
type TerminalPrompt struct {
	in  *os.File
	out *os.File
}

// NewTerminalPrompt prompts on stdin/stdout.
func NewTerminalPrompt() *TerminalPrompt {
	return &TerminalPrompt{in: os.Stdin, out: os.Stdout}
}

// Interactive reports whether both ends are terminals.
func (p *TerminalPrompt) Interactive() bool {
	return term.IsTerminal(int(p.in.Fd())) && term.IsTerminal(int(p.out.Fd()))
}

// Ask shows a y/N confirmation. Declining, or interrupting the prompt, is a
// "no". Cancelling ctx abandons the prompt and returns ctx.Err().
func (p *TerminalPrompt) Ask(ctx context.Context, question string) (bool, error) {
	if !p.Interactive() {
		return false, ErrNoTerminal
	}

	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		prompt := promptui.Prompt{
			Label:     question,
			IsConfirm: true,
			Stdin:     io.NopCloser(p.in),
			Stdout:    nopWriteCloser{p.out},
		}
		_, err := prompt.Run()
		switch {
		case err == nil:
			ch <- answer{ok: true}
		case errors.Is(err, promptui.ErrAbort), errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
			ch <- answer{ok: false}
		default:
			ch <- answer{err: fmt.Errorf("confirmation prompt: %w", err)}
		}
	}()

	select {
	case a := <-ch:
		return a.ok, a.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// AutoPrompt answers every question with a fixed value. It is used for
// unattended runs and in tests.
type AutoPrompt struct {
	Answer bool
	Asked  []string
}

func (a *AutoPrompt) Ask(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.Asked = append(a.Asked, question)
	return a.Answer, nil
}
