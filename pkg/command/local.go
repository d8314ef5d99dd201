package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// LocalRunner runs commands on the current host with os/exec.
type LocalRunner struct {
	// Dir is the working directory for every command; empty means inherit.
	Dir string
}

// NewLocalRunner returns a runner for the current host.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes cmd and waits for it to finish or for ctx to be cancelled.
func (r *LocalRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	zerolog.Ctx(ctx).Debug().
		Str("command", cmd.String()).
		Msg("executing command")

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = r.Dir
	if len(cmd.Env) > 0 {
		env := os.Environ()
		for k, v := range cmd.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		c.Env = env
	}
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			zerolog.Ctx(ctx).Debug().
				Str("command", cmd.String()).
				Int("exit_code", res.ExitCode).
				Dur("duration", res.Duration).
				Msg("command failed")
			return res, NewExitError(cmd, res)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command `%s` interrupted: %w", cmd.String(), ctx.Err())
		}
		return nil, fmt.Errorf("failed to start command `%s`: %w", cmd.String(), err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("command", cmd.String()).
		Dur("duration", res.Duration).
		Msg("command completed")
	return res, nil
}
