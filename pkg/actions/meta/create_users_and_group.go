package meta

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/actions/base"
	"github.com/openfroyo/nixinstaller/pkg/config"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

// CreateUsersAndGroup creates the Nix build group and then its build users.
// The users are created concurrently once the group exists; on revert they
// are removed concurrently before the group is.
type CreateUsersAndGroup struct {
	DaemonUserCount    int                 `json:"daemon_user_count"`
	NixBuildGroupName  string              `json:"nix_build_group_name"`
	NixBuildGroupID    int                 `json:"nix_build_group_id"`
	NixBuildUserPrefix string              `json:"nix_build_user_prefix"`
	NixBuildUserIDBase int                 `json:"nix_build_user_id_base"`
	CreateGroup        *base.CreateGroup   `json:"create_group"`
	CreateUsers        []*base.CreateUser  `json:"create_users"`
	State              actions.ActionState `json:"action_state"`
}

// PlanCreateUsersAndGroup plans the group and one user per daemon user:
// user i is named prefix+i with uid base+i.
func PlanCreateUsersAndGroup(s config.InstallSettings) (*CreateUsersAndGroup, error) {
	if s.DaemonUserCount < 1 {
		return nil, fmt.Errorf("daemon user count must be at least 1, got %d", s.DaemonUserCount)
	}

	group, err := base.PlanCreateGroup(s.NixBuildGroupName, s.NixBuildGroupID)
	if err != nil {
		return nil, err
	}

	users := make([]*base.CreateUser, 0, s.DaemonUserCount)
	for i := 0; i < s.DaemonUserCount; i++ {
		user, err := base.PlanCreateUser(
			s.UserName(i),
			s.UserID(i),
			s.NixBuildGroupID,
			s.NixBuildGroupName,
			fmt.Sprintf("Nix build user %d", i),
		)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return &CreateUsersAndGroup{
		DaemonUserCount:    s.DaemonUserCount,
		NixBuildGroupName:  s.NixBuildGroupName,
		NixBuildGroupID:    s.NixBuildGroupID,
		NixBuildUserPrefix: s.NixBuildUserPrefix,
		NixBuildUserIDBase: s.NixBuildUserIDBase,
		CreateGroup:        group,
		CreateUsers:        users,
		State:              actions.StatePlanned,
	}, nil
}

// Validate implements actions.Validator. A decoded composite must hold its
// group and exactly DaemonUserCount users.
func (a *CreateUsersAndGroup) Validate() error {
	if a.CreateGroup == nil {
		return errors.New("create_group is missing")
	}
	if len(a.CreateUsers) != a.DaemonUserCount {
		return fmt.Errorf("daemon_user_count is %d but %d users are planned", a.DaemonUserCount, len(a.CreateUsers))
	}
	for i, u := range a.CreateUsers {
		if u == nil {
			return fmt.Errorf("create_users[%d] is missing", i)
		}
	}
	return nil
}

// Kind implements actions.Actionable.
func (a *CreateUsersAndGroup) Kind() actions.Kind { return actions.KindCreateUsersAndGroup }

// ActionState implements actions.Actionable.
func (a *CreateUsersAndGroup) ActionState() actions.ActionState { return a.State }

// Describe implements actions.Actionable.
func (a *CreateUsersAndGroup) Describe() []actions.ActionDescription {
	return []actions.ActionDescription{
		actions.NewDescription(
			"Create build users and group",
			"The nix daemon requires system users it can act as in order to build",
			fmt.Sprintf("Create group `%s` with GID `%d`", a.NixBuildGroupName, a.NixBuildGroupID),
			fmt.Sprintf("Create %d users prefixed `%s` starting at UID `%d`",
				a.DaemonUserCount, a.NixBuildUserPrefix, a.NixBuildUserIDBase),
		),
	}
}

// HasProgress implements actions.Progressor.
func (a *CreateUsersAndGroup) HasProgress() bool {
	if a.CreateGroup != nil && a.CreateGroup.State == actions.StateCompleted {
		return true
	}
	for _, u := range a.CreateUsers {
		if u.State == actions.StateCompleted {
			return true
		}
	}
	return false
}

// Receipts implements actions.Receipter.
func (a *CreateUsersAndGroup) Receipts() []actions.Receipt {
	var out []actions.Receipt
	if a.CreateGroup != nil && a.CreateGroup.State == actions.StateCompleted {
		out = append(out, a.CreateGroup.Receipts()...)
	}
	for _, u := range a.CreateUsers {
		if u.State == actions.StateCompleted {
			out = append(out, u.Receipts()...)
		}
	}
	return out
}

// Execute implements actions.Actionable. A group failure is returned as is.
// User failures are collapsed: one failure is returned unwrapped, several
// as *actions.MultipleErrors. Users that succeeded stay Completed either way.
func (a *CreateUsersAndGroup) Execute(ctx context.Context, target transports.Target) error {
	if err := actions.CheckExecute(a.Kind(), a.State); err != nil {
		return err
	}

	if a.CreateGroup.State != actions.StateCompleted {
		if err := a.CreateGroup.Execute(ctx, target); err != nil {
			return err
		}
	}

	zerolog.Ctx(ctx).Debug().
		Str("group", a.NixBuildGroupName).
		Int("users", len(a.CreateUsers)).
		Msg("creating build users")

	if err := a.fanOut(ctx, target, actions.StatePlanned, (*base.CreateUser).Execute); err != nil {
		return err
	}

	a.State = actions.StateCompleted
	return nil
}

// Revert implements actions.Actionable. The group is only removed once every
// user has been; a failed user revert leaves it Completed so a retry can
// pick up where this one stopped.
func (a *CreateUsersAndGroup) Revert(ctx context.Context, target transports.Target) error {
	if err := actions.CheckRevertable(a); err != nil {
		return err
	}

	if err := a.fanOut(ctx, target, actions.StateCompleted, (*base.CreateUser).Revert); err != nil {
		return err
	}

	if a.CreateGroup.State == actions.StateCompleted {
		if err := a.CreateGroup.Revert(ctx, target); err != nil {
			return err
		}
	}

	a.State = actions.StateReverted
	return nil
}

type userOp func(*base.CreateUser, context.Context, transports.Target) error

// fanOut runs op concurrently on a private clone of every user in state
// from and writes each clone back to its slot, whether op failed or not, so
// partial progress is kept. A panicking op is returned as *actions.JoinError
// ahead of any ordinary failure.
func (a *CreateUsersAndGroup) fanOut(ctx context.Context, target transports.Target, from actions.ActionState, op userOp) error {
	var (
		pending []int
		tasks   []actions.Task[*base.CreateUser]
	)
	for i, u := range a.CreateUsers {
		if u.State != from {
			continue
		}
		clone := u.Clone()
		pending = append(pending, i)
		tasks = append(tasks, func(ctx context.Context) (*base.CreateUser, error) {
			err := op(clone, ctx, target)
			return clone, err
		})
	}
	if len(tasks) == 0 {
		return nil
	}

	outcomes, joinErr := actions.RunConcurrently(ctx, tasks)
	for _, o := range outcomes {
		if o.Value != nil {
			a.CreateUsers[pending[o.Index]] = o.Value
		}
	}
	if joinErr != nil {
		return joinErr
	}
	return actions.CollapseErrors(actions.Errors(outcomes))
}
