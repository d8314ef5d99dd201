package base

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/command"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

// CreateGroup creates a system group with a fixed gid.
type CreateGroup struct {
	Name    string              `json:"name"`
	GID     int                 `json:"gid"`
	State   actions.ActionState `json:"action_state"`
	Receipt *CreateGroupReceipt `json:"receipt,omitempty"`
}

// CreateGroupReceipt records the group Execute left on the host.
type CreateGroupReceipt struct {
	Name string `json:"name"`
	GID  int    `json:"gid"`
	// Preexisting is set when an identical group was already present, in
	// which case Revert leaves it alone.
	Preexisting bool `json:"preexisting,omitempty"`
}

// ReceiptKind implements actions.Receipt.
func (r *CreateGroupReceipt) ReceiptKind() actions.Kind { return actions.KindCreateGroup }

// PlanCreateGroup returns a planned CreateGroup.
func PlanCreateGroup(name string, gid int) (*CreateGroup, error) {
	if name == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if gid < 0 {
		return nil, fmt.Errorf("invalid gid %d for group %s", gid, name)
	}
	return &CreateGroup{Name: name, GID: gid, State: actions.StatePlanned}, nil
}

// Kind implements actions.Actionable.
func (a *CreateGroup) Kind() actions.Kind { return actions.KindCreateGroup }

// ActionState implements actions.Actionable.
func (a *CreateGroup) ActionState() actions.ActionState { return a.State }

// Describe implements actions.Actionable.
func (a *CreateGroup) Describe() []actions.ActionDescription {
	return []actions.ActionDescription{
		actions.NewDescription(
			fmt.Sprintf("Create group `%s` with GID `%d`", a.Name, a.GID),
			"The nix daemon builds as members of this group",
		),
	}
}

// Receipts implements actions.Receipter.
func (a *CreateGroup) Receipts() []actions.Receipt {
	if a.Receipt == nil {
		return nil
	}
	return []actions.Receipt{a.Receipt}
}

func (a *CreateGroup) fail(op string, err error) error {
	return &CreateGroupError{newActionError(actions.KindCreateGroup, a.Name, op, err)}
}

// Execute implements actions.Actionable.
func (a *CreateGroup) Execute(ctx context.Context, target transports.Target) error {
	if err := actions.CheckExecute(a.Kind(), a.State); err != nil {
		return err
	}

	existing, err := lookup(ctx, target, "group", a.Name)
	if err != nil {
		return a.fail("lookup", err)
	}
	if existing != nil {
		if existing.ID != a.GID {
			return a.fail("lookup", fmt.Errorf("%w: group exists with gid %d, wanted %d", ErrConflict, existing.ID, a.GID))
		}
		zerolog.Ctx(ctx).Info().Str("group", a.Name).Int("gid", a.GID).Msg("group already present")
		a.Receipt = &CreateGroupReceipt{Name: a.Name, GID: a.GID, Preexisting: true}
		a.State = actions.StateCompleted
		return nil
	}

	owner, err := lookup(ctx, target, "group", strconv.Itoa(a.GID))
	if err != nil {
		return a.fail("lookup", err)
	}
	if owner != nil {
		return a.fail("lookup", fmt.Errorf("%w: gid %d belongs to group %s", ErrConflict, a.GID, owner.Name))
	}

	if _, err := target.Run(ctx, command.New("groupadd", "--gid", strconv.Itoa(a.GID), "--system", a.Name)); err != nil {
		return a.fail("groupadd", err)
	}

	a.Receipt = &CreateGroupReceipt{Name: a.Name, GID: a.GID}
	a.State = actions.StateCompleted
	return nil
}

// Revert implements actions.Actionable. It deletes the group only if its
// live gid still matches the receipt.
func (a *CreateGroup) Revert(ctx context.Context, target transports.Target) error {
	if err := actions.CheckRevert(a.Kind(), a.State); err != nil {
		return err
	}
	if a.Receipt == nil {
		return a.fail("revert", fmt.Errorf("no receipt recorded"))
	}
	if a.Receipt.Preexisting {
		a.State = actions.StateReverted
		return nil
	}

	existing, err := lookup(ctx, target, "group", a.Receipt.Name)
	if err != nil {
		return a.fail("lookup", err)
	}
	if existing == nil {
		zerolog.Ctx(ctx).Warn().Str("group", a.Receipt.Name).Msg("group already removed")
		a.State = actions.StateReverted
		return nil
	}
	if existing.ID != a.Receipt.GID {
		return a.fail("lookup", fmt.Errorf("%w: group now has gid %d, created with %d", ErrConflict, existing.ID, a.Receipt.GID))
	}

	if _, err := target.Run(ctx, command.New("groupdel", a.Receipt.Name)); err != nil {
		return a.fail("groupdel", err)
	}
	a.State = actions.StateReverted
	return nil
}
