package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/nixinstaller/pkg/command"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

var _ transports.Target = (*Target)(nil)

// Target applies actions to a remote host.
type Target struct {
	*Client

	sftpMu   sync.Mutex
	sftp     *sftp.Client
	sftpSess *ssh.Session
}

// Dial connects to the host described by config.
func Dial(ctx context.Context, config *Config, logger zerolog.Logger) (*Target, error) {
	client, err := NewClient(config, logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return &Target{Client: client}, nil
}

// Name implements transports.Target.
func (t *Target) Name() string { return t.config.String() }

// remoteCommand renders cmd as the line handed to the remote shell.
func (t *Target) remoteCommand(cmd command.Command) string {
	line := cmd.String()
	if t.config.Sudo {
		return "sudo -n -- sh -c " + command.Quote(line)
	}
	return line
}

// Run implements command.Runner. The command line is interpreted by the
// remote user's shell.
func (t *Target) Run(ctx context.Context, cmd command.Command) (*command.Result, error) {
	client, err := t.getClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf
	if cmd.Stdin != nil {
		session.Stdin = bytes.NewReader(cmd.Stdin)
	}

	line := t.remoteCommand(cmd)
	t.logger.Debug().Str("command", line).Msg("executing command")

	startTime := time.Now()
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(line)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, ctx.Err()
	case runErr = <-doneChan:
	}

	res := &command.Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(startTime),
	}

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		return res, nil
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		return res, command.NewExitError(cmd, res)
	default:
		return nil, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
	}
}

// sftpClient returns the SFTP client, starting it on first use. In sudo
// mode the server binary is started through sudo in an exec session, so
// file operations run as root.
func (t *Target) sftpClient(ctx context.Context) (*sftp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.sftpMu.Lock()
	defer t.sftpMu.Unlock()

	if t.sftp != nil {
		return t.sftp, nil
	}

	client, err := t.getClient()
	if err != nil {
		return nil, err
	}

	if !t.config.Sudo {
		sc, err := sftp.NewClient(client)
		if err != nil {
			return nil, &TransportError{Op: "sftp", Err: err}
		}
		t.sftp = sc
		return sc, nil
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: err, IsTemporary: true}
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, &TransportError{Op: "sftp", Err: err}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, &TransportError{Op: "sftp", Err: err}
	}
	if err := session.Start("sudo -n " + command.Quote(t.config.SFTPServer)); err != nil {
		_ = session.Close()
		return nil, &TransportError{Op: "sftp", Err: err}
	}

	sc, err := sftp.NewClientPipe(stdout, stdin)
	if err != nil {
		_ = session.Close()
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("failed to start %s via sudo: %w", t.config.SFTPServer, err)}
	}
	t.sftp = sc
	t.sftpSess = session
	return sc, nil
}

// Stat implements transports.Target.
func (t *Target) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	return sc.Lstat(name)
}

// Mkdir implements transports.Target.
func (t *Target) Mkdir(ctx context.Context, name string, perm fs.FileMode) error {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return err
	}
	if err := sc.Mkdir(name); err != nil {
		if _, statErr := sc.Lstat(name); statErr == nil {
			return &fs.PathError{Op: "mkdir", Path: name, Err: fs.ErrExist}
		}
		return err
	}
	return sc.Chmod(name, perm)
}

// MkdirAll implements transports.Target. Only a directory it creates at
// name itself gets perm.
func (t *Target) MkdirAll(ctx context.Context, name string, perm fs.FileMode) error {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return err
	}
	if fi, err := sc.Stat(name); err == nil {
		if fi.IsDir() {
			return nil
		}
		return &fs.PathError{Op: "mkdir", Path: name, Err: errors.New("not a directory")}
	}
	if err := sc.MkdirAll(name); err != nil {
		return err
	}
	return sc.Chmod(name, perm)
}

// ReadFile implements transports.Target.
func (t *Target) ReadFile(ctx context.Context, name string) ([]byte, error) {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	f, err := sc.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile implements transports.Target.
func (t *Target) WriteFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error {
	w, err := t.Create(ctx, name, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Create implements transports.Target.
func (t *Target) Create(ctx context.Context, name string, perm fs.FileMode) (io.WriteCloser, error) {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	f, err := sc.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// Symlink implements transports.Target.
func (t *Target) Symlink(ctx context.Context, oldname, newname string) error {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return err
	}
	return sc.Symlink(oldname, newname)
}

// Remove implements transports.Target.
func (t *Target) Remove(ctx context.Context, name string) error {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return err
	}
	return sc.Remove(name)
}

// RemoveAll implements transports.Target. A missing name is not an error.
func (t *Target) RemoveAll(ctx context.Context, name string) error {
	sc, err := t.sftpClient(ctx)
	if err != nil {
		return err
	}
	return removeAll(ctx, sc, name)
}

func removeAll(ctx context.Context, sc *sftp.Client, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fi, err := sc.Lstat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if fi.IsDir() {
		entries, err := sc.ReadDir(name)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := removeAll(ctx, sc, sc.Join(name, e.Name())); err != nil {
				return err
			}
		}
		return sc.RemoveDirectory(name)
	}
	return sc.Remove(name)
}

// Close implements transports.Target.
func (t *Target) Close() error {
	t.sftpMu.Lock()
	if t.sftp != nil {
		_ = t.sftp.Close()
		t.sftp = nil
	}
	if t.sftpSess != nil {
		_ = t.sftpSess.Close()
		t.sftpSess = nil
	}
	t.sftpMu.Unlock()

	return t.Client.Close()
}
