// Package local implements transports.Target for the machine the installer
// runs on.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"

	"github.com/openfroyo/nixinstaller/pkg/command"
)

// Target applies actions to the current host.
type Target struct {
	*command.LocalRunner
}

// New returns a Target for the current host.
func New() *Target {
	return &Target{LocalRunner: command.NewLocalRunner()}
}

// Name implements transports.Target.
func (t *Target) Name() string { return "local" }

// Stat implements transports.Target.
func (t *Target) Stat(_ context.Context, name string) (fs.FileInfo, error) {
	return os.Lstat(name)
}

// Mkdir implements transports.Target.
func (t *Target) Mkdir(_ context.Context, name string, perm fs.FileMode) error {
	if err := os.Mkdir(name, perm); err != nil {
		return err
	}
	// Mkdir is subject to the umask.
	return os.Chmod(name, perm)
}

// MkdirAll implements transports.Target.
func (t *Target) MkdirAll(_ context.Context, name string, perm fs.FileMode) error {
	return os.MkdirAll(name, perm)
}

// ReadFile implements transports.Target.
func (t *Target) ReadFile(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(name)
}

// WriteFile implements transports.Target.
func (t *Target) WriteFile(_ context.Context, name string, data []byte, perm fs.FileMode) error {
	if err := os.WriteFile(name, data, perm); err != nil {
		return err
	}
	return os.Chmod(name, perm)
}

// Create implements transports.Target.
func (t *Target) Create(_ context.Context, name string, perm fs.FileMode) (io.WriteCloser, error) {
	return os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
}

// Symlink implements transports.Target.
func (t *Target) Symlink(_ context.Context, oldname, newname string) error {
	return os.Symlink(oldname, newname)
}

// Remove implements transports.Target.
func (t *Target) Remove(_ context.Context, name string) error {
	return os.Remove(name)
}

// RemoveAll implements transports.Target.
func (t *Target) RemoveAll(_ context.Context, name string) error {
	return os.RemoveAll(name)
}

// Close implements transports.Target.
func (t *Target) Close() error { return nil }
