package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

// Event describes one action transition during Install or Revert.
type Event struct {
	Plan      *InstallPlan
	Index     int
	Kind      actions.Kind
	Operation actions.Operation

	// State is the action's state after it finished. Unset on start.
	State actions.ActionState

	// Duration and Err are set when the action finished.
	Duration time.Duration
	Err      error
}

// Observer is told about every action Install or Revert drives. Started may
// return a derived context, which is passed to the action and to Finished.
// An error from Finished stops the run.
type Observer interface {
	ActionStarted(ctx context.Context, ev Event) context.Context
	ActionFinished(ctx context.Context, ev Event) error
}

// Option configures a single Install or Revert call.
type Option func(*runOptions)

type runOptions struct {
	observers []Observer
}

// WithObserver adds an Observer to the run.
func WithObserver(o Observer) Option {
	return func(ro *runOptions) {
		ro.observers = append(ro.observers, o)
	}
}

// ActionFailedError reports which action of a plan failed and how.
type ActionFailedError struct {
	Index     int
	Kind      actions.Kind
	Operation actions.Operation
	Err       error
}

// Error implements the error interface.
func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("%s of action %d (%s) failed: %v", e.Operation, e.Index, e.Kind, e.Err)
}

// Unwrap returns the action's own error.
func (e *ActionFailedError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler.
func (e *ActionFailedError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string            `json:"type"`
		Message   string            `json:"message"`
		Index     int               `json:"index"`
		Kind      actions.Kind      `json:"kind"`
		Operation actions.Operation `json:"operation"`
		Cause     json.RawMessage   `json:"cause"`
	}{
		Type:      "action_failed",
		Message:   e.Error(),
		Index:     e.Index,
		Kind:      e.Kind,
		Operation: e.Operation,
		Cause:     actions.ErrorJSON(e.Err),
	})
}

// Install executes the plan's actions in order. Completed actions are
// skipped, so a plan that failed part way can be installed again. The first
// failure stops the run and is returned as *ActionFailedError; nothing that
// already completed is undone.
func (p *InstallPlan) Install(ctx context.Context, target transports.Target, opts ...Option) error {
	ro := buildOptions(opts)
	logger := zerolog.Ctx(ctx).With().Str("plan_id", p.ID).Str("operation", string(actions.OperationExecute)).Logger()

	for i := range p.Actions {
		a := p.Actions[i]
		if a.ActionState() == actions.StateCompleted {
			logger.Debug().Int("index", i).Str("action", string(a.Kind())).Msg("already completed")
			continue
		}
		if err := p.step(ctx, target, ro, i, actions.OperationExecute, logger); err != nil {
			return err
		}
	}
	return nil
}

// Revert reverts the plan's actions in reverse order. Actions without
// progress, either never executed or already reverted, are skipped. The
// first failure stops the run and is returned as *ActionFailedError.
func (p *InstallPlan) Revert(ctx context.Context, target transports.Target, opts ...Option) error {
	ro := buildOptions(opts)
	logger := zerolog.Ctx(ctx).With().Str("plan_id", p.ID).Str("operation", string(actions.OperationRevert)).Logger()

	for i := len(p.Actions) - 1; i >= 0; i-- {
		a := p.Actions[i]
		if !actions.HasProgress(a) {
			logger.Debug().Int("index", i).Str("action", string(a.Kind())).
				Str("state", string(a.ActionState())).Msg("nothing to revert")
			continue
		}
		if err := p.step(ctx, target, ro, i, actions.OperationRevert, logger); err != nil {
			return err
		}
	}
	return nil
}

func (p *InstallPlan) step(ctx context.Context, target transports.Target, ro runOptions, i int, op actions.Operation, logger zerolog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a := p.Actions[i]
	ev := Event{Plan: p, Index: i, Kind: a.Kind(), Operation: op}
	for _, o := range ro.observers {
		ctx = o.ActionStarted(ctx, ev)
	}

	logger.Info().Int("index", i).Str("action", string(a.Kind())).Msg("starting action")
	start := time.Now()

	var err error
	if op == actions.OperationExecute {
		err = a.Execute(ctx, target)
	} else {
		err = a.Revert(ctx, target)
	}

	ev.State = a.ActionState()
	ev.Duration = time.Since(start)
	ev.Err = err

	if err != nil {
		logger.Error().Err(err).Int("index", i).Str("action", string(a.Kind())).
			Dur("duration", ev.Duration).Msg("action failed")
	} else {
		logger.Info().Int("index", i).Str("action", string(a.Kind())).
			Dur("duration", ev.Duration).Msg("action finished")
	}

	var obsErr error
	for _, o := range ro.observers {
		if oerr := o.ActionFinished(ctx, ev); oerr != nil && obsErr == nil {
			obsErr = oerr
		}
	}

	if err != nil {
		return &ActionFailedError{Index: i, Kind: a.Kind(), Operation: op, Err: err}
	}
	if obsErr != nil {
		return fmt.Errorf("observer failed after %s of action %d (%s): %w", op, i, a.Kind(), obsErr)
	}
	return nil
}

func buildOptions(opts []Option) runOptions {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}
