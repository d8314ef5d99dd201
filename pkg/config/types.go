package config

import (
	"fmt"
	"runtime"
	"strings"
)

// InstallSettings are the plan-time parameters of an install.
type InstallSettings struct {
	// DaemonUserCount is how many build users to create.
	DaemonUserCount int `json:"daemon_user_count" yaml:"daemon_user_count" validate:"min=1,max=128"`

	// NixBuildGroupName is the group the build users share.
	NixBuildGroupName string `json:"nix_build_group_name" yaml:"nix_build_group_name" validate:"required,posixname"`

	// NixBuildGroupID is the gid of the build group.
	NixBuildGroupID int `json:"nix_build_group_id" yaml:"nix_build_group_id" validate:"min=1,max=4294967294"`

	// NixBuildUserPrefix is prepended to each build user's index.
	NixBuildUserPrefix string `json:"nix_build_user_prefix" yaml:"nix_build_user_prefix" validate:"required,posixname"`

	// NixBuildUserIDBase is the uid of build user 0; user i gets base+i.
	NixBuildUserIDBase int `json:"nix_build_user_id_base" yaml:"nix_build_user_id_base" validate:"min=1,max=4294967294"`

	// NixPackageURL is the binary tarball to unpack.
	NixPackageURL string `json:"nix_package_url" yaml:"nix_package_url" validate:"required,url"`

	// NixPackageSHA256 optionally pins the tarball digest.
	NixPackageSHA256 string `json:"nix_package_sha256,omitempty" yaml:"nix_package_sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`

	// NixRoot is where the store lives.
	NixRoot string `json:"nix_root" yaml:"nix_root" validate:"required,startswith=/"`

	// NixConfPath is where nix.conf is written.
	NixConfPath string `json:"nix_conf_path" yaml:"nix_conf_path" validate:"required,startswith=/"`

	// ExtraConf lines are appended to nix.conf.
	ExtraConf []string `json:"extra_conf,omitempty" yaml:"extra_conf,omitempty"`

	// StartDaemon enables the nix-daemon socket after linking the units.
	StartDaemon bool `json:"start_daemon" yaml:"start_daemon"`
}

// DefaultNixVersion is the Nix release fetched when no URL is configured.
const DefaultNixVersion = "2.18.1"

// DefaultSettings returns the settings used when nothing is overridden.
func DefaultSettings() InstallSettings {
	return InstallSettings{
		DaemonUserCount:    32,
		NixBuildGroupName:  "nixbld",
		NixBuildGroupID:    3000,
		NixBuildUserPrefix: "nixbld",
		NixBuildUserIDBase: 3001,
		NixPackageURL:      DefaultNixPackageURL(runtime.GOARCH),
		NixRoot:            "/nix",
		NixConfPath:        "/etc/nix/nix.conf",
		StartDaemon:        true,
	}
}

// DefaultNixPackageURL returns the release tarball URL for a Go
// architecture name.
func DefaultNixPackageURL(goarch string) string {
	system := "x86_64-linux"
	switch goarch {
	case "arm64":
		system = "aarch64-linux"
	case "386":
		system = "i686-linux"
	}
	return fmt.Sprintf("https://releases.nixos.org/nix/nix-%[1]s/nix-%[1]s-%[2]s.tar.xz", DefaultNixVersion, system)
}

// UserName returns the name of build user i.
func (s InstallSettings) UserName(i int) string {
	return fmt.Sprintf("%s%d", s.NixBuildUserPrefix, i)
}

// UserID returns the uid of build user i.
func (s InstallSettings) UserID(i int) int {
	return s.NixBuildUserIDBase + i
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path (e.g., "daemon_user_count").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// String renders the error as file:line:col: path: message.
func (v ValidationError) String() string {
	var b strings.Builder
	if v.File != "" {
		b.WriteString(v.File)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", v.Line, v.Column)
		}
		b.WriteString(": ")
	}
	if v.Path != "" {
		b.WriteString(v.Path)
		b.WriteString(": ")
	}
	b.WriteString(v.Message)
	return b.String()
}

// SettingsError collects every problem found in a settings source.
type SettingsError struct {
	Source string
	Errors []ValidationError
}

// Error implements the error interface.
func (e *SettingsError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("invalid settings in %s: %s", e.Source, strings.Join(msgs, "; "))
}
