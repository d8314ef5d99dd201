package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"groupadd", "groupadd"},
		{"--gid=3000", "--gid=3000"},
		{"/nix/var/nix", "/nix/var/nix"},
		{"hello world", "'hello world'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Quote(tt.in))
		})
	}
}

func TestCommandString(t *testing.T) {
	cmd := New("useradd", "--comment", "Nix build user 0", "nixbld0").
		WithEnv("LC_ALL", "C")

	assert.Equal(t, "LC_ALL=C useradd --comment 'Nix build user 0' nixbld0", cmd.String())
}

func TestWithEnvDoesNotAlias(t *testing.T) {
	base := New("true").WithEnv("A", "1")
	derived := base.WithEnv("B", "2")

	assert.Len(t, base.Env, 1)
	assert.Len(t, derived.Env, 2)
}

func TestExitErrorMessage(t *testing.T) {
	err := NewExitError(New("groupadd", "nixbld"), &Result{ExitCode: 9, Stderr: "group 'nixbld' already exists\n"})

	assert.Equal(t, "command `groupadd nixbld` failed with exit status 9: group 'nixbld' already exists", err.Error())
}

func TestLocalRunnerSuccess(t *testing.T) {
	r := NewLocalRunner()

	out, err := Output(context.Background(), r, New("sh", "-c", "echo hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestLocalRunnerNonZeroExit(t *testing.T) {
	r := NewLocalRunner()

	res, err := r.Run(context.Background(), New("sh", "-c", "echo oops >&2; exit 3"))
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "oops\n", exitErr.Stderr)
	assert.Contains(t, exitErr.Command, "exit 3")
	assert.Equal(t, 3, res.ExitCode)
}

func TestLocalRunnerEnvAndStdin(t *testing.T) {
	r := NewLocalRunner()
	cmd := New("sh", "-c", `printf '%s-' "$GREETING"; cat`).WithEnv("GREETING", "hi")
	cmd.Stdin = []byte("there")

	out, err := Output(context.Background(), r, cmd)
	require.NoError(t, err)
	assert.Equal(t, "hi-there", out)
}

func TestLocalRunnerMissingBinary(t *testing.T) {
	r := NewLocalRunner()

	_, err := r.Run(context.Background(), New("definitely-not-a-real-binary-xyz"))
	require.Error(t, err)

	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestLocalRunnerCancelled(t *testing.T) {
	r := NewLocalRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, New("sleep", "5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
