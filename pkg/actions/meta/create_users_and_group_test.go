package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/actions/base"
	"github.com/openfroyo/nixinstaller/pkg/command"
	"github.com/openfroyo/nixinstaller/pkg/config"
	"github.com/openfroyo/nixinstaller/pkg/transports/fake"
)

func settings(n int) config.InstallSettings {
	s := config.DefaultSettings()
	s.DaemonUserCount = n
	return s
}

func plan(t *testing.T, n int) *CreateUsersAndGroup {
	t.Helper()
	a, err := PlanCreateUsersAndGroup(settings(n))
	require.NoError(t, err)
	return a
}

// toggleFailure makes name fail for subject while the returned flag is set.
func toggleFailure(target *fake.Target, name, subject string) *atomic.Bool {
	var on atomic.Bool
	on.Store(true)
	target.FailCommand(func(cmd command.Command) bool {
		return on.Load() && cmd.Name == name && len(cmd.Args) > 0 && cmd.Args[len(cmd.Args)-1] == subject
	}, 1, name+": injected failure")
	return &on
}

func countCommands(target *fake.Target, prefix string) int {
	n := 0
	for _, c := range target.Commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestPlanCreateUsersAndGroup(t *testing.T) {
	for _, n := range []int{1, 5, 32} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			a := plan(t, n)

			assert.Equal(t, actions.StatePlanned, a.State)
			assert.Equal(t, "nixbld", a.CreateGroup.Name)
			assert.Equal(t, 3000, a.CreateGroup.GID)
			require.Len(t, a.CreateUsers, n)
			for i, u := range a.CreateUsers {
				assert.Equal(t, fmt.Sprintf("nixbld%d", i), u.Name)
				assert.Equal(t, 3001+i, u.UID)
				assert.Equal(t, 3000, u.GID)
				assert.Equal(t, actions.StatePlanned, u.State)
			}
		})
	}
}

func TestPlanCreateUsersAndGroupRejectsZeroUsers(t *testing.T) {
	_, err := PlanCreateUsersAndGroup(settings(0))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	descs := plan(t, 4).Describe()
	require.Len(t, descs, 1)
	assert.Equal(t, "Create build users and group", descs[0].Description)
	assert.Contains(t, descs[0].String(), "Create 4 users prefixed `nixbld` starting at UID `3001`")
}

func TestExecuteAllSucceed(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	a := plan(t, 8)

	require.NoError(t, a.Execute(ctx, target))

	assert.Equal(t, actions.StateCompleted, a.ActionState())
	assert.Equal(t, actions.StateCompleted, a.CreateGroup.State)
	for _, u := range a.CreateUsers {
		assert.Equal(t, actions.StateCompleted, u.State)
		require.NotNil(t, u.Receipt)
		assert.Equal(t, u.UID, u.Receipt.UID)
	}
	assert.Len(t, target.Users(), 8)
	assert.Len(t, a.Receipts(), 9)

	var stateErr *actions.InvalidStateError
	assert.ErrorAs(t, a.Execute(ctx, target), &stateErr)
}

func TestExecuteGroupFailureIsUnwrapped(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	target.FailOn("groupadd", "nixbld")
	a := plan(t, 3)

	err := a.Execute(ctx, target)

	var groupErr *base.CreateGroupError
	require.ErrorAs(t, err, &groupErr)
	assert.Equal(t, "nixbld", groupErr.Subject)
	assert.Zero(t, countCommands(target, "useradd "))
	assert.Equal(t, actions.StatePlanned, a.State)
	assert.False(t, a.HasProgress())
}

func TestExecuteSingleUserFailureIsUnwrapped(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	target.FailOn("useradd", "nixbld2")
	a := plan(t, 5)

	err := a.Execute(ctx, target)
	require.Error(t, err)

	var multi *actions.MultipleErrors
	assert.False(t, errors.As(err, &multi))
	userErr, ok := err.(*base.CreateUserError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, "nixbld2", userErr.Subject)

	var exitErr *command.ExitError
	assert.ErrorAs(t, err, &exitErr)

	assert.Equal(t, actions.StatePlanned, a.State)
	assert.True(t, a.HasProgress())
	for i, u := range a.CreateUsers {
		if i == 2 {
			assert.Equal(t, actions.StatePlanned, u.State)
			continue
		}
		assert.Equal(t, actions.StateCompleted, u.State, u.Name)
	}
}

func TestExecuteMultipleUserFailuresAggregate(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	target.FailOn("useradd", "nixbld1")
	target.FailOn("useradd", "nixbld3")
	a := plan(t, 5)

	err := a.Execute(ctx, target)

	multi, ok := err.(*actions.MultipleErrors)
	require.True(t, ok, "got %T", err)
	require.Len(t, multi.Errors, 2)

	msg := multi.Error()
	assert.True(t, strings.HasPrefix(msg, "Multiple errors: "))
	for _, child := range multi.Errors {
		assert.Contains(t, msg, child.Error())
	}
	assert.Contains(t, msg, " & ")

	var userErr *base.CreateUserError
	assert.ErrorAs(t, err, &userErr)

	completed := 0
	for _, u := range a.CreateUsers {
		if u.State == actions.StateCompleted {
			completed++
		}
	}
	assert.Equal(t, 3, completed)
}

func TestExecuteRetryPicksUpPendingUsers(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	failing := toggleFailure(target, "useradd", "nixbld0")
	a := plan(t, 4)

	require.Error(t, a.Execute(ctx, target))
	assert.Equal(t, 1, countCommands(target, "groupadd "))

	failing.Store(false)
	require.NoError(t, a.Execute(ctx, target))

	assert.Equal(t, actions.StateCompleted, a.State)
	assert.Equal(t, 1, countCommands(target, "groupadd "))
	assert.Equal(t, 5, countCommands(target, "useradd "))
}

func TestExecutePanicReturnsJoinError(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	target.Before = func(_ context.Context, cmd command.Command) error {
		if cmd.Name == "useradd" && cmd.Args[len(cmd.Args)-1] == "nixbld2" {
			panic("useradd exploded")
		}
		return nil
	}
	a := plan(t, 4)

	err := a.Execute(ctx, target)

	var joinErr *actions.JoinError
	require.ErrorAs(t, err, &joinErr)
	assert.Equal(t, 2, joinErr.Index)
	assert.Contains(t, joinErr.Panic, "useradd exploded")

	var multi *actions.MultipleErrors
	assert.False(t, errors.As(err, &multi))
	assert.Equal(t, actions.StatePlanned, a.State)
	assert.Equal(t, actions.StatePlanned, a.CreateUsers[2].State)
}

func TestRevertRemovesUsersBeforeGroup(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	a := plan(t, 3)
	require.NoError(t, a.Execute(ctx, target))

	require.NoError(t, a.Revert(ctx, target))

	assert.Equal(t, actions.StateReverted, a.State)
	assert.Equal(t, actions.StateReverted, a.CreateGroup.State)
	for _, u := range a.CreateUsers {
		assert.Equal(t, actions.StateReverted, u.State)
	}
	assert.Empty(t, target.Users())
	_, ok := target.LookupGroup("nixbld")
	assert.False(t, ok)

	cmds := target.Commands()
	last := cmds[len(cmds)-1]
	assert.True(t, strings.HasPrefix(last, "groupdel "), last)
}

func TestRevertUserFailureKeepsGroup(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	a := plan(t, 4)
	require.NoError(t, a.Execute(ctx, target))

	failing := toggleFailure(target, "userdel", "nixbld1")

	err := a.Revert(ctx, target)
	var userErr *base.CreateUserError
	require.ErrorAs(t, err, &userErr)
	assert.Equal(t, "nixbld1", userErr.Subject)

	assert.Equal(t, actions.StateCompleted, a.State)
	assert.Equal(t, actions.StateCompleted, a.CreateGroup.State)
	_, ok := target.LookupGroup("nixbld")
	assert.True(t, ok)
	assert.Zero(t, countCommands(target, "groupdel "))
	for i, u := range a.CreateUsers {
		if i == 1 {
			assert.Equal(t, actions.StateCompleted, u.State)
			continue
		}
		assert.Equal(t, actions.StateReverted, u.State, u.Name)
	}
	assert.Equal(t, []string{"nixbld1"}, target.Users())

	failing.Store(false)
	require.NoError(t, a.Revert(ctx, target))

	assert.Equal(t, actions.StateReverted, a.State)
	assert.Equal(t, actions.StateReverted, a.CreateGroup.State)
	assert.Equal(t, 5, countCommands(target, "userdel "))
	assert.Equal(t, 1, countCommands(target, "groupdel "))
}

func TestRevertAfterPartialExecute(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	target.FailOn("useradd", "nixbld1")
	a := plan(t, 3)
	require.Error(t, a.Execute(ctx, target))
	require.Equal(t, actions.StatePlanned, a.State)

	require.NoError(t, a.Revert(ctx, target))

	assert.Equal(t, actions.StateReverted, a.State)
	assert.Empty(t, target.Users())
	_, ok := target.LookupGroup("nixbld")
	assert.False(t, ok)
	assert.Equal(t, actions.StatePlanned, a.CreateUsers[1].State)
}

func TestRevertUntouchedIsRejected(t *testing.T) {
	a := plan(t, 2)
	var stateErr *actions.InvalidStateError
	assert.ErrorAs(t, a.Revert(context.Background(), fake.New()), &stateErr)
}

func TestPreexistingAccountsSurviveRevert(t *testing.T) {
	ctx := context.Background()
	target := fake.New()
	target.AddGroup(fake.Group{Name: "nixbld", GID: 3000})
	target.AddUser(fake.User{Name: "nixbld0", UID: 3001, GID: 3000})
	a := plan(t, 2)

	require.NoError(t, a.Execute(ctx, target))
	require.NoError(t, a.Revert(ctx, target))

	assert.Equal(t, []string{"nixbld0"}, target.Users())
	_, ok := target.LookupGroup("nixbld")
	assert.True(t, ok)
}

func TestValidate(t *testing.T) {
	require.NoError(t, plan(t, 2).Validate())

	a := plan(t, 2)
	a.CreateGroup = nil
	assert.ErrorContains(t, a.Validate(), "create_group")

	a = plan(t, 2)
	a.CreateUsers[1] = nil
	assert.ErrorContains(t, a.Validate(), "create_users[1]")

	a = plan(t, 2)
	a.CreateUsers = a.CreateUsers[:1]
	assert.ErrorContains(t, a.Validate(), "daemon_user_count is 2")
}
