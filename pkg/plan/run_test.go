package plan

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/transports"
	"github.com/openfroyo/nixinstaller/pkg/transports/fake"
)

// scripted is an action whose outcome is decided by the test.
type scripted struct {
	name      string
	state     actions.ActionState
	execErr   error
	revertErr error
	log       *[]string
}

func (s *scripted) Kind() actions.Kind { return actions.Kind(s.name) }
func (s *scripted) Describe() []actions.ActionDescription {
	return []actions.ActionDescription{actions.NewDescription("run " + s.name)}
}
func (s *scripted) ActionState() actions.ActionState { return s.state }

func (s *scripted) Execute(context.Context, transports.Target) error {
	if err := actions.CheckExecute(s.Kind(), s.state); err != nil {
		return err
	}
	*s.log = append(*s.log, "execute "+s.name)
	if s.execErr != nil {
		return s.execErr
	}
	s.state = actions.StateCompleted
	return nil
}

func (s *scripted) Revert(context.Context, transports.Target) error {
	if err := actions.CheckRevert(s.Kind(), s.state); err != nil {
		return err
	}
	*s.log = append(*s.log, "revert "+s.name)
	if s.revertErr != nil {
		return s.revertErr
	}
	s.state = actions.StateReverted
	return nil
}

func scriptedPlan(log *[]string, steps ...*scripted) *InstallPlan {
	p := &InstallPlan{Version: Version, ID: "test"}
	for _, s := range steps {
		s.log = log
		if s.state == "" {
			s.state = actions.StatePlanned
		}
		p.Actions = append(p.Actions, Wrap(s))
	}
	return p
}

func TestInstallRunsInOrder(t *testing.T) {
	var log []string
	p := scriptedPlan(&log, &scripted{name: "a"}, &scripted{name: "b"}, &scripted{name: "c"})

	require.NoError(t, p.Install(context.Background(), fake.New()))

	assert.Equal(t, []string{"execute a", "execute b", "execute c"}, log)
	assert.Equal(t, StatusCompleted, p.Status())
}

func TestInstallStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	var log []string
	p := scriptedPlan(&log, &scripted{name: "a"}, &scripted{name: "b", execErr: boom}, &scripted{name: "c"})

	err := p.Install(context.Background(), fake.New())

	var failed *ActionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Index)
	assert.Equal(t, actions.Kind("b"), failed.Kind)
	assert.Equal(t, actions.OperationExecute, failed.Operation)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"execute a", "execute b"}, log)
	assert.Equal(t, []actions.ActionState{actions.StateCompleted, actions.StatePlanned, actions.StatePlanned}, p.States())
	assert.Equal(t, StatusPartial, p.Status())
}

func TestInstallSkipsCompleted(t *testing.T) {
	var log []string
	p := scriptedPlan(&log, &scripted{name: "a", state: actions.StateCompleted}, &scripted{name: "b"})

	require.NoError(t, p.Install(context.Background(), fake.New()))
	assert.Equal(t, []string{"execute b"}, log)
}

func TestInstallRejectsRevertedPlan(t *testing.T) {
	var log []string
	p := scriptedPlan(&log, &scripted{name: "a", state: actions.StateReverted})

	err := p.Install(context.Background(), fake.New())
	var stateErr *actions.InvalidStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestRevertRunsBackwardsSkippingPlanned(t *testing.T) {
	var log []string
	p := scriptedPlan(&log,
		&scripted{name: "a", state: actions.StateCompleted},
		&scripted{name: "b", state: actions.StateCompleted},
		&scripted{name: "c"},
	)

	require.NoError(t, p.Revert(context.Background(), fake.New()))

	assert.Equal(t, []string{"revert b", "revert a"}, log)
	assert.Equal(t, []actions.ActionState{actions.StateReverted, actions.StateReverted, actions.StatePlanned}, p.States())
	assert.Equal(t, StatusReverted, p.Status())
}

func TestRevertStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	var log []string
	p := scriptedPlan(&log,
		&scripted{name: "a", state: actions.StateCompleted},
		&scripted{name: "b", state: actions.StateCompleted, revertErr: boom},
	)

	err := p.Revert(context.Background(), fake.New())

	var failed *ActionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Index)
	assert.Equal(t, actions.OperationRevert, failed.Operation)
	assert.Equal(t, []string{"revert b"}, log)
	assert.Equal(t, actions.StateCompleted, p.Actions[0].ActionState())
}

type recordingObserver struct {
	events []string
	failOn int
}

type ctxKey struct{}

func (o *recordingObserver) ActionStarted(ctx context.Context, ev Event) context.Context {
	o.events = append(o.events, fmt.Sprintf("start %d %s", ev.Index, ev.Operation))
	return context.WithValue(ctx, ctxKey{}, ev.Index)
}

func (o *recordingObserver) ActionFinished(ctx context.Context, ev Event) error {
	idx, _ := ctx.Value(ctxKey{}).(int)
	o.events = append(o.events, fmt.Sprintf("finish %d %s %s err=%v ctx=%d", ev.Index, ev.Operation, ev.State, ev.Err != nil, idx))
	if ev.Index == o.failOn {
		return errors.New("journal unavailable")
	}
	return nil
}

func TestObserverSeesEveryTransition(t *testing.T) {
	var log []string
	p := scriptedPlan(&log, &scripted{name: "a"}, &scripted{name: "b", execErr: errors.New("boom")})
	obs := &recordingObserver{failOn: -1}

	require.Error(t, p.Install(context.Background(), fake.New(), WithObserver(obs)))

	assert.Equal(t, []string{
		"start 0 execute",
		"finish 0 execute completed err=false ctx=0",
		"start 1 execute",
		"finish 1 execute planned err=true ctx=1",
	}, obs.events)
}

func TestObserverFailureStopsRun(t *testing.T) {
	var log []string
	p := scriptedPlan(&log, &scripted{name: "a"}, &scripted{name: "b"})
	obs := &recordingObserver{failOn: 0}

	err := p.Install(context.Background(), fake.New(), WithObserver(obs))

	assert.ErrorContains(t, err, "journal unavailable")
	assert.Equal(t, []string{"execute a"}, log)
}

func TestInstallHonorsCancellation(t *testing.T) {
	var log []string
	p := scriptedPlan(&log, &scripted{name: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Install(ctx, fake.New()), context.Canceled)
	assert.Empty(t, log)
}

func TestActionFailedErrorJSON(t *testing.T) {
	err := &ActionFailedError{Index: 2, Kind: actions.KindFetchNix, Operation: actions.OperationExecute, Err: errors.New("404")}
	assert.JSONEq(t, `{
		"type": "action_failed",
		"message": "execute of action 2 (fetch_nix) failed: 404",
		"index": 2,
		"kind": "fetch_nix",
		"operation": "execute",
		"cause": {"message": "404"}
	}`, string(actions.ErrorJSON(err)))
}
