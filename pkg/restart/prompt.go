package restart

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Prompter asks the operator yes/no questions.
type Prompter interface {
	Confirm(question string) (bool, error)
}

// TerminalPrompter reads answers from a line-oriented input
type TerminalPrompter struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewPrompter creates a prompter on the given streams
func NewPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Confirm asks question and accepts any answer starting with y or Y.
// Everything else, including an empty line, is a no.
func (p *TerminalPrompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s (y/N): ", question)
	input, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return false, fmt.Errorf("failed to read input: %w", err)
	}
	return isYes(input), nil
}

func isYes(input string) bool {
	input = strings.TrimRight(input, "\r\n")
	return strings.HasPrefix(input, "y") || strings.HasPrefix(input, "Y")
}

// SelectCluster lists names and asks for a number until a valid one is
// given. It returns the zero-based index.
func (p *TerminalPrompter) SelectCluster(names []string) (int, error) {
	if len(names) == 0 {
		return 0, fmt.Errorf("no clusters to choose from")
	}

	fmt.Fprintln(p.out, "Please choose from the following options:")
	for i, name := range names {
		fmt.Fprintf(p.out, "\t%d) %s\n", i+1, name)
	}

	for {
		fmt.Fprint(p.out, "Selection: ")
		input, err := p.reader.ReadString('\n')
		if err != nil && (err != io.EOF || input == "") {
			return 0, fmt.Errorf("failed to read input: %w", err)
		}

		n, convErr := strconv.Atoi(strings.TrimSpace(input))
		if convErr == nil && n >= 1 && n <= len(names) {
			return n - 1, nil
		}
		fmt.Fprintln(p.out, "Invalid selection.  Please try again.")
		if err == io.EOF {
			return 0, fmt.Errorf("failed to read input: %w", err)
		}
	}
}
