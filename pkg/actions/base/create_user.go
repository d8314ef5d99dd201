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

// CreateUser creates a system user with a fixed uid and primary group.
type CreateUser struct {
	Name      string              `json:"name"`
	UID       int                 `json:"uid"`
	GID       int                 `json:"gid"`
	GroupName string              `json:"group_name,omitempty"`
	Comment   string              `json:"comment,omitempty"`
	State     actions.ActionState `json:"action_state"`
	Receipt   *CreateUserReceipt  `json:"receipt,omitempty"`
}

// CreateUserReceipt records the user Execute left on the host.
type CreateUserReceipt struct {
	Name        string `json:"name"`
	UID         int    `json:"uid"`
	GID         int    `json:"gid"`
	Preexisting bool   `json:"preexisting,omitempty"`
}

// ReceiptKind implements actions.Receipt.
func (r *CreateUserReceipt) ReceiptKind() actions.Kind { return actions.KindCreateUser }

// PlanCreateUser returns a planned CreateUser. groupName, when set, is also
// added as a supplementary group.
func PlanCreateUser(name string, uid, gid int, groupName, comment string) (*CreateUser, error) {
	if name == "" {
		return nil, fmt.Errorf("user name is required")
	}
	if uid < 0 {
		return nil, fmt.Errorf("invalid uid %d for user %s", uid, name)
	}
	if gid < 0 {
		return nil, fmt.Errorf("invalid gid %d for user %s", gid, name)
	}
	return &CreateUser{
		Name:      name,
		UID:       uid,
		GID:       gid,
		GroupName: groupName,
		Comment:   comment,
		State:     actions.StatePlanned,
	}, nil
}

// Clone returns a deep copy, suitable for handing to another goroutine.
func (a *CreateUser) Clone() *CreateUser {
	c := *a
	if a.Receipt != nil {
		r := *a.Receipt
		c.Receipt = &r
	}
	return &c
}

// Kind implements actions.Actionable.
func (a *CreateUser) Kind() actions.Kind { return actions.KindCreateUser }

// ActionState implements actions.Actionable.
func (a *CreateUser) ActionState() actions.ActionState { return a.State }

// Describe implements actions.Actionable.
func (a *CreateUser) Describe() []actions.ActionDescription {
	return []actions.ActionDescription{
		actions.NewDescription(fmt.Sprintf("Create user `%s` with UID `%d` with group `%d`", a.Name, a.UID, a.GID)),
	}
}

// Receipts implements actions.Receipter.
func (a *CreateUser) Receipts() []actions.Receipt {
	if a.Receipt == nil {
		return nil
	}
	return []actions.Receipt{a.Receipt}
}

func (a *CreateUser) fail(op string, err error) error {
	return &CreateUserError{newActionError(actions.KindCreateUser, a.Name, op, err)}
}

// Execute implements actions.Actionable.
func (a *CreateUser) Execute(ctx context.Context, target transports.Target) error {
	if err := actions.CheckExecute(a.Kind(), a.State); err != nil {
		return err
	}

	existing, err := lookup(ctx, target, "passwd", a.Name)
	if err != nil {
		return a.fail("lookup", err)
	}
	if existing != nil {
		if existing.ID != a.UID || existing.GID != a.GID {
			return a.fail("lookup", fmt.Errorf("%w: user exists with uid %d gid %d, wanted uid %d gid %d",
				ErrConflict, existing.ID, existing.GID, a.UID, a.GID))
		}
		zerolog.Ctx(ctx).Debug().Str("user", a.Name).Int("uid", a.UID).Msg("user already present")
		a.Receipt = &CreateUserReceipt{Name: a.Name, UID: a.UID, GID: a.GID, Preexisting: true}
		a.State = actions.StateCompleted
		return nil
	}

	owner, err := lookup(ctx, target, "passwd", strconv.Itoa(a.UID))
	if err != nil {
		return a.fail("lookup", err)
	}
	if owner != nil {
		return a.fail("lookup", fmt.Errorf("%w: uid %d belongs to user %s", ErrConflict, a.UID, owner.Name))
	}

	args := []string{
		"--home-dir", "/var/empty",
		"--comment", a.Comment,
		"--gid", strconv.Itoa(a.GID),
	}
	if a.GroupName != "" {
		args = append(args, "--groups", a.GroupName)
	}
	args = append(args,
		"--no-user-group",
		"--system",
		"--shell", "/sbin/nologin",
		"--uid", strconv.Itoa(a.UID),
		"--password", "!",
		a.Name,
	)
	if _, err := target.Run(ctx, command.New("useradd", args...)); err != nil {
		return a.fail("useradd", err)
	}

	a.Receipt = &CreateUserReceipt{Name: a.Name, UID: a.UID, GID: a.GID}
	a.State = actions.StateCompleted
	return nil
}

// Revert implements actions.Actionable. It refuses to delete a user whose
// live uid no longer matches the receipt.
func (a *CreateUser) Revert(ctx context.Context, target transports.Target) error {
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

	existing, err := lookup(ctx, target, "passwd", a.Receipt.Name)
	if err != nil {
		return a.fail("lookup", err)
	}
	if existing == nil {
		zerolog.Ctx(ctx).Warn().Str("user", a.Receipt.Name).Msg("user already removed")
		a.State = actions.StateReverted
		return nil
	}
	if existing.ID != a.Receipt.UID {
		return a.fail("lookup", fmt.Errorf("%w: user now has uid %d, created with %d", ErrConflict, existing.ID, a.Receipt.UID))
	}

	if _, err := target.Run(ctx, command.New("userdel", a.Receipt.Name)); err != nil {
		return a.fail("userdel", err)
	}
	a.State = actions.StateReverted
	return nil
}
