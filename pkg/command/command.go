// Package command runs external processes and turns a non-zero exit status
// into a typed *ExitError that names the command line.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Command describes a single process invocation.
type Command struct {
	// Name is the program to run, resolved through PATH when not absolute.
	Name string `json:"name"`

	// Args are passed to the program verbatim.
	Args []string `json:"args,omitempty"`

	// Env holds extra environment variables layered over the runner's own.
	Env map[string]string `json:"env,omitempty"`

	// Stdin, when set, is written to the process' standard input.
	Stdin []byte `json:"-"`
}

// New builds a Command for name with the given arguments.
func New(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// WithEnv returns a copy of c with key=value added to its environment.
func (c Command) WithEnv(key, value string) Command {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	env[key] = value
	c.Env = env
	return c
}

// String renders the command as a POSIX shell line. The result is safe to
// hand to `sh -c`, which is how remote runners execute it.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Env)+len(c.Args)+1)

	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+Quote(c.Env[k]))
	}

	parts = append(parts, Quote(c.Name))
	for _, arg := range c.Args {
		parts = append(parts, Quote(arg))
	}
	return strings.Join(parts, " ")
}

// Quote quotes s for a POSIX shell when it contains anything beyond a
// conservative set of safe characters.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./:=,+@%", r)
}

// Result is the captured outcome of a finished process.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Runner executes commands. Run returns an *ExitError when the process
// started but exited non-zero; any other error means it never ran.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Output runs cmd and returns its trimmed standard output.
func Output(ctx context.Context, r Runner, cmd Command) (string, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// ExitError reports a process that exited with a non-zero status.
type ExitError struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stderr   string `json:"stderr,omitempty"`
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command `%s` failed with exit status %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// NewExitError builds an ExitError for cmd from a finished Result.
func NewExitError(cmd Command, res *Result) *ExitError {
	return &ExitError{
		Command:  cmd.String(),
		ExitCode: res.ExitCode,
		Stderr:   res.Stderr,
	}
}
