package usbmaker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter abstracts interactive input so tests can script answers instead
// of reading a real terminal.
type Prompter interface {
	Ask(prompt string) (string, error)
}

type stdinPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewStdinPrompter returns a Prompter backed by stdin/stdout.
func NewStdinPrompter() Prompter {
	return &stdinPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
	}
}

func (p *stdinPrompter) Ask(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
