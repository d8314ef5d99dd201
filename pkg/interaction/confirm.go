package interaction

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/openfroyo/nixinstaller/pkg/actions"
)

// DeclineMessage is printed when the operator answers no.
const DeclineMessage = "Okay, didn't do anything! Bye!"

// ttyPath is the controlling terminal answers are read from.
const ttyPath = "/dev/tty"

// Prompter renders descriptions to Out and reads answers from In.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	// Color forces colored output on or off.
	Color bool
}

// NewPrompter returns a Prompter for in and out, coloring output when out
// is a terminal.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{In: in, Out: out, Color: isTerminal(out)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Confirm asks on the controlling terminal whether to take the described
// actions. It fails when there is no terminal to ask on.
func Confirm(ctx context.Context, descriptions []actions.ActionDescription) (bool, error) {
	tty, err := os.OpenFile(ttyPath, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("no terminal to confirm on, pass --no-confirm to skip: %w", err)
	}
	defer tty.Close()

	return NewPrompter(tty, tty).Confirm(ctx, descriptions)
}

// Confirm prints the descriptions and asks until it gets a yes or a no. An
// empty answer or end of input counts as no.
func (p *Prompter) Confirm(ctx context.Context, descriptions []actions.ActionDescription) (bool, error) {
	heading := p.style(color.Bold)
	headline := p.style(color.FgCyan)
	prompt := p.style(color.FgYellow, color.Bold)

	fmt.Fprintln(p.Out, heading.Sprint("The installer will take the following actions:"))
	for _, d := range descriptions {
		fmt.Fprintf(p.Out, "* %s\n", headline.Sprint(d.Description))
		for _, line := range d.Explanation {
			fmt.Fprintf(p.Out, "  %s\n", line)
		}
	}

	answers := p.answers(ctx)
	for {
		fmt.Fprintf(p.Out, "\n%s ", prompt.Sprint("Proceed? [y/N]:"))

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case l, open := <-answers:
			if l.err != nil {
				return false, fmt.Errorf("failed to read answer: %w", l.err)
			}
			line, ok = l.text, open
		}
		if !ok {
			fmt.Fprintln(p.Out)
			return false, nil
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "", "n", "no":
			return false, nil
		default:
			fmt.Fprintln(p.Out, p.style(color.FgRed).Sprint("Please answer yes or no."))
		}
	}
}

// Decline prints the message shown when the operator says no.
func (p *Prompter) Decline() {
	fmt.Fprintln(p.Out, DeclineMessage)
}

func (p *Prompter) style(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.Color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

type answer struct {
	text string
	err  error
}

// answers reads In line by line on its own goroutine so a blocked read does
// not hold up cancellation. The channel closes at end of input.
func (p *Prompter) answers(ctx context.Context) <-chan answer {
	out := make(chan answer)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(p.In)
		for scanner.Scan() {
			select {
			case out <- answer{text: scanner.Text()}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			select {
			case out <- answer{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
