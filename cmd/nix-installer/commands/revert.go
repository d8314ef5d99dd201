package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/plan"
	"github.com/openfroyo/nixinstaller/pkg/stores"
)

func newRevertCommand(a *app) *cobra.Command {
	var (
		noConfirm bool
		runID     string
		receipt   string
	)

	cmd := &cobra.Command{
		Use:   "revert [PLAN]",
		Short: "Revert an executed plan",
		Long: `Revert an executed plan using the receipts its actions recorded.

The plan comes from, in order of preference:
  - PLAN, a plan document written by 'execute --receipt' ("-" for stdin)
  - --run ID, the last snapshot of a journaled run
  - the most recent journaled run

Actions are reverted last to first. Actions that never ran are skipped and
anything that existed before the install is left alone.`,
		Example: `  # Revert the most recent run
  nix-installer revert

  # Revert a specific run from the journal
  nix-installer revert --run 0d8c0b1e-5f7c-4f0e-a3e5-2b1f6c1e9b7a

  # Revert from a saved receipt without prompting
  nix-installer revert --no-confirm /root/nix-receipt.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 && runID != "" {
				return fmt.Errorf("pass either PLAN or --run, not both")
			}

			var (
				p   *plan.InstallPlan
				err error
			)
			if len(args) == 1 {
				p, err = readPlan(args[0], cmd.InOrStdin())
			} else {
				p, err = a.planFromJournal(ctx, runID)
			}
			if err != nil {
				return err
			}

			revertible := p.Revertible()
			if len(revertible) == 0 {
				zerolog.Ctx(ctx).Info().Str("plan_id", p.ID).Msg("Nothing to revert")
				return nil
			}

			if !noConfirm {
				ok, err := a.confirmOrDecline(ctx, revertible, cmd.ErrOrStderr())
				if err != nil || !ok {
					return err
				}
			}

			target, err := a.openTarget(ctx, a.targetURL)
			if err != nil {
				return err
			}
			defer target.Close()

			runErr := a.applyPlan(ctx, p, actions.OperationRevert, target)
			saveReceipt(ctx, receipt, p)
			return runErr
		},
	}

	cmd.Flags().BoolVar(&noConfirm, "no-confirm", false, "do not ask before reverting")
	cmd.Flags().StringVar(&runID, "run", "", "revert the plan of this journaled run")
	cmd.Flags().StringVar(&receipt, "receipt", "", "write the plan with its receipts here after the run")

	return cmd
}

// planFromJournal loads the last snapshot of runID, or of the latest run
// when runID is empty.
func (a *app) planFromJournal(ctx context.Context, runID string) (*plan.InstallPlan, error) {
	store, err := a.requireJournal(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if runID == "" {
		run, err := stores.LatestRun(ctx, store)
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}

	p, err := stores.LoadPlan(ctx, store, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan of run %s: %w", runID, err)
	}
	zerolog.Ctx(ctx).Info().Str("run_id", runID).Str("plan_id", p.ID).Msg("Loaded plan from journal")
	return p, nil
}
