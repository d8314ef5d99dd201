package stores

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/plan"
)

// Journal records one install or revert run in a Store. It is a
// plan.Observer: every action transition is appended as an event and the
// plan document is snapshotted after each action, so an interrupted run can
// be resumed or reverted from the last snapshot.
type Journal struct {
	store Store
	run   *Run
}

// Begin creates a run record for p and saves the plan as it stands before
// the first action.
func Begin(ctx context.Context, store Store, p *plan.InstallPlan, op actions.Operation, target string) (*Journal, error) {
	run := &Run{
		ID:        uuid.New().String(),
		PlanID:    p.ID,
		Operation: string(op),
		Status:    RunStatusRunning,
		Target:    target,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	j := &Journal{store: store, run: run}
	if err := j.snapshot(ctx, p); err != nil {
		return nil, err
	}
	return j, nil
}

// RunID returns the id of the journaled run.
func (j *Journal) RunID() string {
	return j.run.ID
}

// ActionStarted implements plan.Observer.
func (j *Journal) ActionStarted(ctx context.Context, ev plan.Event) context.Context {
	// A lost start event is recovered from the finished event that follows.
	_ = j.store.AppendEvent(ctx, &ActionEvent{
		RunID:     j.run.ID,
		Index:     ev.Index,
		Kind:      string(ev.Kind),
		Operation: string(ev.Operation),
		Phase:     EventPhaseStarted,
	})
	return ctx
}

// ActionFinished implements plan.Observer. Failing to persist the plan
// stops the run, since the on-disk state would no longer match the host.
func (j *Journal) ActionFinished(ctx context.Context, ev plan.Event) error {
	state := string(ev.State)
	event := &ActionEvent{
		RunID:      j.run.ID,
		Index:      ev.Index,
		Kind:       string(ev.Kind),
		Operation:  string(ev.Operation),
		Phase:      EventPhaseFinished,
		State:      &state,
		DurationMs: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		errJSON := string(actions.ErrorJSON(ev.Err))
		event.Error = &errJSON
	}
	if err := j.store.AppendEvent(ctx, event); err != nil {
		return err
	}
	return j.snapshot(ctx, ev.Plan)
}

// Finish marks the run completed, failed or cancelled depending on err.
func (j *Journal) Finish(ctx context.Context, runErr error) error {
	status := RunStatusCompleted
	var errJSON *string
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = RunStatusCancelled
	default:
		status = RunStatusFailed
	}
	if runErr != nil {
		s := string(actions.ErrorJSON(runErr))
		errJSON = &s
	}

	// The run context may already be cancelled; the final status is
	// written regardless.
	return j.store.UpdateRunStatus(context.WithoutCancel(ctx), j.run.ID, status, errJSON)
}

func (j *Journal) snapshot(ctx context.Context, p *plan.InstallPlan) error {
	doc, err := plan.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode plan snapshot: %w", err)
	}
	if _, err := j.store.SaveSnapshot(ctx, j.run.ID, doc); err != nil {
		return err
	}
	return nil
}

// LoadPlan decodes the latest plan snapshot of a run.
func LoadPlan(ctx context.Context, store Store, runID string) (*plan.InstallPlan, error) {
	snap, err := store.LatestSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	p, err := plan.Decode(bytes.NewReader(snap.Document))
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %d of run %s: %w", snap.Seq, runID, err)
	}
	return p, nil
}

// LatestRun returns the most recent run, or ErrNotFound when the journal
// is empty.
func LatestRun(ctx context.Context, store Store) (*Run, error) {
	runs, err := store.ListRuns(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs recorded: %w", ErrNotFound)
	}
	return runs[0], nil
}
