package base

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

// DefaultNixConfPath is where the daemon reads its configuration.
const DefaultNixConfPath = "/etc/nix/nix.conf"

// PlaceNixConfiguration writes nix.conf.
type PlaceNixConfiguration struct {
	Path    string                        `json:"path"`
	Content string                        `json:"content"`
	State   actions.ActionState           `json:"action_state"`
	Receipt *PlaceNixConfigurationReceipt `json:"receipt,omitempty"`
}

// PlaceNixConfigurationReceipt records what the file and its directory
// looked like before Execute so Revert can restore them.
type PlaceNixConfigurationReceipt struct {
	Path       string `json:"path"`
	CreatedDir string `json:"created_dir,omitempty"`
	// Previous holds the replaced content when a different file existed.
	Previous    *string `json:"previous,omitempty"`
	Preexisting bool    `json:"preexisting,omitempty"`
}

// ReceiptKind implements actions.Receipt.
func (r *PlaceNixConfigurationReceipt) ReceiptKind() actions.Kind {
	return actions.KindPlaceNixConfiguration
}

// RenderNixConf builds the nix.conf content for a build group.
func RenderNixConf(buildGroup string, extra []string) string {
	var b strings.Builder
	b.WriteString("# Generated by nix-installer\n")
	fmt.Fprintf(&b, "build-users-group = %s\n", buildGroup)
	for _, line := range extra {
		line = strings.TrimSpace(line)
		if line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// PlanPlaceNixConfiguration returns a planned PlaceNixConfiguration.
func PlanPlaceNixConfiguration(confPath, buildGroup string, extra []string) (*PlaceNixConfiguration, error) {
	if !path.IsAbs(confPath) {
		return nil, fmt.Errorf("nix.conf path must be absolute, got %q", confPath)
	}
	if buildGroup == "" {
		return nil, fmt.Errorf("build group is required")
	}
	return &PlaceNixConfiguration{
		Path:    path.Clean(confPath),
		Content: RenderNixConf(buildGroup, extra),
		State:   actions.StatePlanned,
	}, nil
}

// Kind implements actions.Actionable.
func (a *PlaceNixConfiguration) Kind() actions.Kind { return actions.KindPlaceNixConfiguration }

// ActionState implements actions.Actionable.
func (a *PlaceNixConfiguration) ActionState() actions.ActionState { return a.State }

// HasProgress implements actions.Progressor.
func (a *PlaceNixConfiguration) HasProgress() bool {
	return a.Receipt != nil && a.Receipt.CreatedDir != ""
}

// Describe implements actions.Actionable.
func (a *PlaceNixConfiguration) Describe() []actions.ActionDescription {
	explanation := []string{"This file is read by the Nix daemon to set its configuration options at runtime."}
	for _, line := range strings.Split(strings.TrimSpace(a.Content), "\n") {
		explanation = append(explanation, "  "+line)
	}
	return []actions.ActionDescription{
		actions.NewDescription(fmt.Sprintf("Place the nix configuration in `%s`", a.Path), explanation...),
	}
}

// Receipts implements actions.Receipter.
func (a *PlaceNixConfiguration) Receipts() []actions.Receipt {
	if a.Receipt == nil {
		return nil
	}
	return []actions.Receipt{a.Receipt}
}

func (a *PlaceNixConfiguration) fail(op string, err error) error {
	return &PlaceNixConfigurationError{newActionError(actions.KindPlaceNixConfiguration, a.Path, op, err)}
}

// Execute implements actions.Actionable.
func (a *PlaceNixConfiguration) Execute(ctx context.Context, target transports.Target) error {
	if err := actions.CheckExecute(a.Kind(), a.State); err != nil {
		return err
	}
	if a.Receipt == nil {
		a.Receipt = &PlaceNixConfigurationReceipt{Path: a.Path}
	}

	dir := path.Dir(a.Path)
	exists, err := transports.Exists(ctx, target, dir)
	if err != nil {
		return a.fail("stat", err)
	}
	if !exists {
		if err := target.MkdirAll(ctx, dir, 0o755); err != nil {
			return a.fail("mkdir", err)
		}
		a.Receipt.CreatedDir = dir
	}

	current, err := target.ReadFile(ctx, a.Path)
	switch {
	case err == nil && bytes.Equal(current, []byte(a.Content)):
		a.Receipt.Preexisting = true
		a.State = actions.StateCompleted
		return nil
	case err == nil:
		prev := string(current)
		a.Receipt.Previous = &prev
	case !errors.Is(err, fs.ErrNotExist):
		return a.fail("read", err)
	}

	if err := target.WriteFile(ctx, a.Path, []byte(a.Content), 0o644); err != nil {
		return a.fail("write", err)
	}
	a.State = actions.StateCompleted
	return nil
}

// Revert implements actions.Actionable. A replaced file gets its previous
// content back; a file that did not exist is removed.
func (a *PlaceNixConfiguration) Revert(ctx context.Context, target transports.Target) error {
	if err := actions.CheckRevertable(a); err != nil {
		return err
	}
	r := a.Receipt
	if r == nil {
		a.State = actions.StateReverted
		return nil
	}

	if a.State == actions.StateCompleted && !r.Preexisting {
		if r.Previous != nil {
			if err := target.WriteFile(ctx, r.Path, []byte(*r.Previous), 0o644); err != nil {
				return a.fail("restore", err)
			}
		} else if err := target.Remove(ctx, r.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return a.fail("remove", err)
		}
	}

	if r.CreatedDir != "" {
		if err := target.Remove(ctx, r.CreatedDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return a.fail("remove", err)
		}
		r.CreatedDir = ""
	}

	a.State = actions.StateReverted
	return nil
}
