package base

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/rs/zerolog"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

// nixTreeDirs is created in order below the nix root.
var nixTreeDirs = []string{
	"",
	"var",
	"var/log",
	"var/log/nix",
	"var/log/nix/drvs",
	"var/nix",
	"var/nix/db",
	"var/nix/gcroots",
	"var/nix/gcroots/per-user",
	"var/nix/profiles",
	"var/nix/profiles/per-user",
	"var/nix/temproots",
	"var/nix/userpool",
	"var/nix/daemon-socket",
}

const nixTreeDirMode fs.FileMode = 0o755

// CreateNixTreeDirs lays out the fixed directory tree under the nix root.
type CreateNixTreeDirs struct {
	Root    string                    `json:"root"`
	State   actions.ActionState       `json:"action_state"`
	Receipt *CreateNixTreeDirsReceipt `json:"receipt,omitempty"`
}

// CreateNixTreeDirsReceipt lists the directories Execute created, in
// creation order. Directories that already existed are not listed and are
// never removed.
type CreateNixTreeDirsReceipt struct {
	Created []string `json:"created"`
}

// ReceiptKind implements actions.Receipt.
func (r *CreateNixTreeDirsReceipt) ReceiptKind() actions.Kind { return actions.KindCreateNixTreeDirs }

// PlanCreateNixTreeDirs returns a planned CreateNixTreeDirs rooted at root.
func PlanCreateNixTreeDirs(root string) (*CreateNixTreeDirs, error) {
	if !path.IsAbs(root) {
		return nil, fmt.Errorf("nix root must be absolute, got %q", root)
	}
	return &CreateNixTreeDirs{Root: path.Clean(root), State: actions.StatePlanned}, nil
}

// Dirs returns the absolute directories this action manages.
func (a *CreateNixTreeDirs) Dirs() []string {
	out := make([]string, len(nixTreeDirs))
	for i, d := range nixTreeDirs {
		out[i] = path.Join(a.Root, d)
	}
	return out
}

// Kind implements actions.Actionable.
func (a *CreateNixTreeDirs) Kind() actions.Kind { return actions.KindCreateNixTreeDirs }

// ActionState implements actions.Actionable.
func (a *CreateNixTreeDirs) ActionState() actions.ActionState { return a.State }

// HasProgress implements actions.Progressor.
func (a *CreateNixTreeDirs) HasProgress() bool {
	return a.Receipt != nil && len(a.Receipt.Created) > 0
}

// Describe implements actions.Actionable.
func (a *CreateNixTreeDirs) Describe() []actions.ActionDescription {
	explanation := []string{
		fmt.Sprintf("Nix and the Nix daemon require a Nix Store, which will be stored at `%s`", a.Root),
	}
	for _, d := range a.Dirs() {
		explanation = append(explanation, fmt.Sprintf("Create `%s`", d))
	}
	return []actions.ActionDescription{
		actions.NewDescription(fmt.Sprintf("Create a directory tree in `%s`", a.Root), explanation...),
	}
}

// Receipts implements actions.Receipter.
func (a *CreateNixTreeDirs) Receipts() []actions.Receipt {
	if a.Receipt == nil {
		return nil
	}
	return []actions.Receipt{a.Receipt}
}

func (a *CreateNixTreeDirs) fail(subject, op string, err error) error {
	return &CreateNixTreeDirsError{newActionError(actions.KindCreateNixTreeDirs, subject, op, err)}
}

// Execute implements actions.Actionable. Each directory created is added to
// the receipt immediately, so a failure part way through stays revertible.
func (a *CreateNixTreeDirs) Execute(ctx context.Context, target transports.Target) error {
	if err := actions.CheckExecute(a.Kind(), a.State); err != nil {
		return err
	}
	if a.Receipt == nil {
		a.Receipt = &CreateNixTreeDirsReceipt{}
	}

	done := make(map[string]bool, len(a.Receipt.Created))
	for _, d := range a.Receipt.Created {
		done[d] = true
	}

	for _, dir := range a.Dirs() {
		if done[dir] {
			continue
		}
		info, err := target.Stat(ctx, dir)
		switch {
		case err == nil && !info.IsDir():
			return a.fail(dir, "stat", fmt.Errorf("%w: exists and is not a directory", ErrConflict))
		case err == nil:
			zerolog.Ctx(ctx).Debug().Str("path", dir).Msg("directory already present")
			continue
		case !errors.Is(err, fs.ErrNotExist):
			return a.fail(dir, "stat", err)
		}

		if err := target.Mkdir(ctx, dir, nixTreeDirMode); err != nil {
			return a.fail(dir, "mkdir", err)
		}
		a.Receipt.Created = append(a.Receipt.Created, dir)
	}

	a.State = actions.StateCompleted
	return nil
}

// Revert implements actions.Actionable. Created directories are removed in
// reverse order and must be empty by then.
func (a *CreateNixTreeDirs) Revert(ctx context.Context, target transports.Target) error {
	if err := actions.CheckRevertable(a); err != nil {
		return err
	}
	if a.Receipt != nil {
		for i := len(a.Receipt.Created) - 1; i >= 0; i-- {
			dir := a.Receipt.Created[i]
			if err := target.Remove(ctx, dir); err != nil {
				if exists, _ := transports.Exists(ctx, target, dir); exists {
					return a.fail(dir, "remove", err)
				}
			}
			a.Receipt.Created = a.Receipt.Created[:i]
		}
	}
	a.State = actions.StateReverted
	return nil
}
