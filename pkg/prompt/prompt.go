// Package prompt asks the user questions during provisioning.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// ErrCancelled is returned when the user closes the input or interrupts a
// question.
var ErrCancelled = errors.New("prompt cancelled")

// Prompter asks the user for confirmations, free-text answers and choices.
// Ask makes every Prompter usable where an envfile.Asker is expected.
type Prompter interface {
	Confirm(ctx context.Context, question string, def bool) (bool, error)
	Ask(ctx context.Context, question, def string) (string, error)
	Choose(ctx context.Context, question string, choices []string, def int) (string, error)
}

// readFunc reads one answer after displaying prompt.
type readFunc func(prompt string) (string, error)

// maxAttempts bounds re-asking after invalid answers.
const maxAttempts = 3

type asker struct {
	read readFunc
	out  io.Writer
}

func (a asker) line(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer, err := a.read(prompt)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			return "", ErrCancelled
		}
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

func (a asker) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	for range maxAttempts {
		answer, err := a.line(ctx, fmt.Sprintf("%s %s ", question, hint))
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(a.out, "Please answer yes or no.")
	}
	return def, nil
}

func (a asker) Ask(ctx context.Context, question, def string) (string, error) {
	prompt := question + ": "
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]: ", question, def)
	}
	answer, err := a.line(ctx, prompt)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

func (a asker) Choose(ctx context.Context, question string, choices []string, def int) (string, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("no choices for %q", question)
	}
	if def < 0 || def >= len(choices) {
		def = 0
	}

	fmt.Fprintln(a.out, question)
	for i, c := range choices {
		fmt.Fprintf(a.out, "  [%d] %s\n", i+1, c)
	}
	for range maxAttempts {
		answer, err := a.line(ctx, fmt.Sprintf("Choice [%s]: ", choices[def]))
		if err != nil {
			return "", err
		}
		if answer == "" {
			return choices[def], nil
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(choices) {
			return choices[n-1], nil
		}
		for _, c := range choices {
			if c == answer {
				return c, nil
			}
		}
		fmt.Fprintf(a.out, "Value %q is invalid.\n", answer)
	}
	return choices[def], nil
}

// NewReader creates a Prompter reading one answer per line from in. It is
// used for piped input.
func NewReader(in io.Reader, out io.Writer) Prompter {
	br := bufio.NewReader(in)
	return asker{
		out: out,
		read: func(prompt string) (string, error) {
			fmt.Fprint(out, prompt)
			line, err := br.ReadString('\n')
			if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
				return "", err
			}
			return line, nil
		},
	}
}

// Defaults answers every question with its default.
type Defaults struct{}

func (Defaults) Confirm(_ context.Context, _ string, def bool) (bool, error) { return def, nil }
func (Defaults) Ask(_ context.Context, _, def string) (string, error)         { return def, nil }

func (Defaults) Choose(_ context.Context, question string, choices []string, def int) (string, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("no choices for %q", question)
	}
	if def < 0 || def >= len(choices) {
		def = 0
	}
	return choices[def], nil
}

// Terminal is an interactive Prompter with line editing.
type Terminal struct {
	asker
	rl *readline.Instance
}

// NewTerminal creates a line-editing prompter on the process terminal.
func NewTerminal() (*Terminal, error) {
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "^C",
		EOFPrompt:       "^D",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open terminal: %w", err)
	}
	t := &Terminal{rl: rl}
	t.asker = asker{
		out: rl.Stdout(),
		read: func(prompt string) (string, error) {
			rl.SetPrompt(prompt)
			return rl.Readline()
		},
	}
	return t, nil
}

// Close restores the terminal.
func (t *Terminal) Close() error {
	return t.rl.Close()
}

// Auto picks the prompter fitting stdin: Defaults with assumeDefaults,
// Terminal on a terminal, a line reader otherwise. The returned close
// function releases the terminal.
func Auto(assumeDefaults bool) (Prompter, func() error, error) {
	noop := func() error { return nil }
	if assumeDefaults {
		return Defaults{}, noop, nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		t, err := NewTerminal()
		if err != nil {
			return nil, noop, err
		}
		return t, t.Close, nil
	}
	return NewReader(os.Stdin, os.Stdout), noop, nil
}
