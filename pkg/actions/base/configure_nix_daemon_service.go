package base

import (
	"context"
	"fmt"
	"path"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/command"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

const (
	nixDaemonService = "nix-daemon.service"
	nixDaemonSocket  = "nix-daemon.socket"

	// systemdRuntimeDir only exists when systemd is PID 1.
	systemdRuntimeDir = "/run/systemd/system"
)

// ConfigureNixDaemonService links the nix-daemon units shipped with Nix into
// systemd and optionally enables the socket.
type ConfigureNixDaemonService struct {
	UnitDir string                            `json:"unit_dir"`
	Start   bool                              `json:"start"`
	State   actions.ActionState               `json:"action_state"`
	Receipt *ConfigureNixDaemonServiceReceipt `json:"receipt,omitempty"`
}

// ConfigureNixDaemonServiceReceipt records the units linked and whether the
// socket was enabled.
type ConfigureNixDaemonServiceReceipt struct {
	Linked  []string `json:"linked"`
	Enabled bool     `json:"enabled,omitempty"`
}

// ReceiptKind implements actions.Receipt.
func (r *ConfigureNixDaemonServiceReceipt) ReceiptKind() actions.Kind {
	return actions.KindConfigureNixDaemonService
}

// PlanConfigureNixDaemonService returns a planned ConfigureNixDaemonService
// for the units found under unitDir.
func PlanConfigureNixDaemonService(unitDir string, start bool) (*ConfigureNixDaemonService, error) {
	if !path.IsAbs(unitDir) {
		return nil, fmt.Errorf("unit directory must be absolute, got %q", unitDir)
	}
	return &ConfigureNixDaemonService{
		UnitDir: path.Clean(unitDir),
		Start:   start,
		State:   actions.StatePlanned,
	}, nil
}

// Kind implements actions.Actionable.
func (a *ConfigureNixDaemonService) Kind() actions.Kind { return actions.KindConfigureNixDaemonService }

// ActionState implements actions.Actionable.
func (a *ConfigureNixDaemonService) ActionState() actions.ActionState { return a.State }

// HasProgress implements actions.Progressor.
func (a *ConfigureNixDaemonService) HasProgress() bool {
	return a.Receipt != nil && (len(a.Receipt.Linked) > 0 || a.Receipt.Enabled)
}

// Describe implements actions.Actionable.
func (a *ConfigureNixDaemonService) Describe() []actions.ActionDescription {
	explanation := []string{
		fmt.Sprintf("Run `systemctl link` on `%s` and `%s`", path.Join(a.UnitDir, nixDaemonService), path.Join(a.UnitDir, nixDaemonSocket)),
		"Run `systemctl daemon-reload`",
	}
	if a.Start {
		explanation = append(explanation, fmt.Sprintf("Run `systemctl enable --now %s`", nixDaemonSocket))
	}
	return []actions.ActionDescription{
		actions.NewDescription("Configure the Nix daemon related settings with systemd", explanation...),
	}
}

// Receipts implements actions.Receipter.
func (a *ConfigureNixDaemonService) Receipts() []actions.Receipt {
	if a.Receipt == nil {
		return nil
	}
	return []actions.Receipt{a.Receipt}
}

func (a *ConfigureNixDaemonService) fail(op string, err error) error {
	return &ConfigureNixDaemonServiceError{newActionError(actions.KindConfigureNixDaemonService, "", op, err)}
}

func systemctl(ctx context.Context, r command.Runner, args ...string) error {
	_, err := r.Run(ctx, command.New("systemctl", args...))
	return err
}

// Execute implements actions.Actionable.
func (a *ConfigureNixDaemonService) Execute(ctx context.Context, target transports.Target) error {
	if err := actions.CheckExecute(a.Kind(), a.State); err != nil {
		return err
	}

	running, err := transports.Exists(ctx, target, systemdRuntimeDir)
	if err != nil {
		return a.fail("stat", err)
	}
	if !running {
		return a.fail("detect", fmt.Errorf("systemd is not running on %s", target.Name()))
	}

	if a.Receipt == nil {
		a.Receipt = &ConfigureNixDaemonServiceReceipt{}
	}
	linked := make(map[string]bool, len(a.Receipt.Linked))
	for _, unit := range a.Receipt.Linked {
		linked[unit] = true
	}

	for _, unit := range []string{nixDaemonService, nixDaemonSocket} {
		if linked[unit] {
			continue
		}
		if err := systemctl(ctx, target, "link", path.Join(a.UnitDir, unit)); err != nil {
			return a.fail("link", err)
		}
		a.Receipt.Linked = append(a.Receipt.Linked, unit)
	}

	if err := systemctl(ctx, target, "daemon-reload"); err != nil {
		return a.fail("daemon-reload", err)
	}

	if a.Start && !a.Receipt.Enabled {
		if err := systemctl(ctx, target, "enable", "--now", nixDaemonSocket); err != nil {
			return a.fail("enable", err)
		}
		a.Receipt.Enabled = true
	}

	a.State = actions.StateCompleted
	return nil
}

// Revert implements actions.Actionable.
func (a *ConfigureNixDaemonService) Revert(ctx context.Context, target transports.Target) error {
	if err := actions.CheckRevertable(a); err != nil {
		return err
	}
	r := a.Receipt
	if r == nil {
		a.State = actions.StateReverted
		return nil
	}

	if r.Enabled {
		if err := systemctl(ctx, target, "disable", "--now", nixDaemonSocket); err != nil {
			return a.fail("disable", err)
		}
		r.Enabled = false
	}

	for i := len(r.Linked) - 1; i >= 0; i-- {
		// Disabling a linked unit removes its link.
		if err := systemctl(ctx, target, "disable", r.Linked[i]); err != nil {
			return a.fail("unlink", err)
		}
		r.Linked = r.Linked[:i]
	}

	if err := systemctl(ctx, target, "daemon-reload"); err != nil {
		return a.fail("daemon-reload", err)
	}

	a.State = actions.StateReverted
	return nil
}
