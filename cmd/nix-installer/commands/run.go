package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/interaction"
	"github.com/openfroyo/nixinstaller/pkg/plan"
	"github.com/openfroyo/nixinstaller/pkg/policy"
	"github.com/openfroyo/nixinstaller/pkg/stores"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

// readPlan decodes a plan document from path, or from in when path is "-".
func readPlan(path string, in io.Reader) (*plan.InstallPlan, error) {
	if path == "-" {
		return plan.Decode(in)
	}
	return plan.Load(path)
}

// writePlan encodes p to path, or to out when path is "-".
func writePlan(path string, out io.Writer, p *plan.InstallPlan) error {
	if path == "-" {
		return plan.Encode(out, p)
	}
	return plan.Save(path, p)
}

// evaluatePolicies runs the built-in and configured policies against p,
// logging every violation. Blocking violations are returned as
// *policy.DeniedError.
func (a *app) evaluatePolicies(ctx context.Context, p *plan.InstallPlan, op actions.Operation, target string) (*policy.Result, error) {
	logger := zerolog.Ctx(ctx).With().Str("component", "policy").Logger()
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(a.policyPaths) > 0 {
		if err := engine.LoadPolicies(ctx, a.policyPaths); err != nil {
			return nil, err
		}
	}

	res, err := engine.Evaluate(ctx, p, op, target)
	if err != nil {
		return nil, err
	}
	for _, v := range res.Violations {
		ev := logger.Warn()
		if v.Severity.Blocks() {
			ev = logger.Error()
		}
		ev.Str("policy", v.Policy).Str("severity", string(v.Severity)).Int("action", v.Action).Msg(v.Message)
	}
	return res, res.Err()
}

// confirmOrDecline asks before mutating. It returns false, after printing
// the decline message, when the operator says no.
func (a *app) confirmOrDecline(ctx context.Context, descriptions []actions.ActionDescription, stderr io.Writer) (bool, error) {
	ok, err := a.confirm(ctx, descriptions)
	if err != nil {
		return false, err
	}
	if !ok {
		(&interaction.Prompter{Out: stderr}).Decline()
	}
	return ok, nil
}

// applyPlan installs or reverts p on target with telemetry and, unless
// disabled, a journal run recording every transition.
func (a *app) applyPlan(ctx context.Context, p *plan.InstallPlan, op actions.Operation, target transports.Target) (runErr error) {
	store, err := a.openJournal(ctx)
	if err != nil {
		return err
	}

	var opts []plan.Option
	runID := uuid.New().String()
	var journal *stores.Journal
	if store != nil {
		defer store.Close()
		if journal, err = stores.Begin(ctx, store, p, op, target.Name()); err != nil {
			return fmt.Errorf("failed to start journal run: %w", err)
		}
		runID = journal.RunID()
	}

	ctx, run := a.tel.StartRun(ctx, runID, p.ID, string(op))
	defer func() { run.End(runErr) }()
	opts = append(opts, plan.WithObserver(run.Observer()))
	if journal != nil {
		opts = append(opts, plan.WithObserver(journal))
	}

	logger := zerolog.Ctx(ctx)
	logger.Info().Str("target", target.Name()).Str("operation", string(op)).Msg("Starting run")

	switch op {
	case actions.OperationExecute:
		runErr = p.Install(ctx, target, opts...)
	case actions.OperationRevert:
		runErr = p.Revert(ctx, target, opts...)
	default:
		runErr = fmt.Errorf("unknown operation %q", op)
	}

	if journal != nil {
		if err := journal.Finish(ctx, runErr); err != nil {
			logger.Error().Err(err).Msg("Failed to record run outcome")
			runErr = errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		return runErr
	}

	logger.Info().
		Dur("duration", run.Elapsed()).
		Str("status", string(p.Status())).
		Msg("Run finished")
	return nil
}

// saveReceipt writes the plan as it stands after a run, so it can be
// reverted without the journal. Failures are logged, not returned, so they
// never mask the run's own error.
func saveReceipt(ctx context.Context, path string, p *plan.InstallPlan) {
	if path == "" {
		return
	}
	if err := plan.Save(path, p); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("path", path).Msg("Failed to write receipt")
		return
	}
	zerolog.Ctx(ctx).Info().Str("path", path).Msg("Wrote receipt")
}
