// Package transports defines the host an installer plan is applied to.
//
// A Target combines process execution with the handful of filesystem
// operations actions need. The local implementation lives in
// transports/local, the SSH/SFTP one in transports/ssh, and an in-memory
// double for tests in transports/fake.
package transports

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"github.com/openfroyo/nixinstaller/pkg/command"
)

// Target is the host actions mutate.
type Target interface {
	command.Runner

	// Name identifies the target in logs, e.g. "local" or "root@host:22".
	Name() string

	// Stat returns file info for name without following a final symlink.
	Stat(ctx context.Context, name string) (fs.FileInfo, error)

	// Mkdir creates a single directory. It fails if name already exists.
	Mkdir(ctx context.Context, name string, perm fs.FileMode) error

	// MkdirAll creates name and any missing parents.
	MkdirAll(ctx context.Context, name string, perm fs.FileMode) error

	// ReadFile returns the content of name.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// WriteFile creates or truncates name and writes data to it.
	WriteFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error

	// Create opens name for writing, truncating it if it exists.
	Create(ctx context.Context, name string, perm fs.FileMode) (io.WriteCloser, error)

	// Symlink creates newname as a symbolic link to oldname.
	Symlink(ctx context.Context, oldname, newname string) error

	// Remove removes a file or an empty directory.
	Remove(ctx context.Context, name string) error

	// RemoveAll removes name and everything below it.
	RemoveAll(ctx context.Context, name string) error

	// Close releases any connection held by the target.
	Close() error
}

// Exists reports whether name exists on t.
func Exists(ctx context.Context, t Target, name string) (bool, error) {
	_, err := t.Stat(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
