package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/nixinstaller/pkg/actions"
)

func newExecuteCommand(a *app) *cobra.Command {
	var (
		noConfirm bool
		receipt   string
	)

	cmd := &cobra.Command{
		Use:   "execute [PLAN]",
		Short: "Execute an install plan",
		Long: `Execute an install plan, reading it from PLAN or stdin.

Before anything changes:
  - the plan is checked against the built-in and --policy policies
  - the pending actions are shown and must be confirmed on the terminal

Actions already completed in the plan are skipped, so a plan that failed
part way can be executed again. Every transition is recorded in the run
journal; 'revert --run' undoes a run from there.`,
		Example: `  # Execute a saved plan
  nix-installer execute plan.json

  # Execute on a remote host without prompting
  nix-installer execute --no-confirm --target ssh://admin@build01 plan.json

  # Keep the executed plan for a later revert
  nix-installer execute --receipt /root/nix-receipt.json plan.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}

			p, err := readPlan(path, cmd.InOrStdin())
			if err != nil {
				return err
			}

			pending := p.Pending()
			if len(pending) == 0 {
				zerolog.Ctx(ctx).Info().Str("plan_id", p.ID).Msg("Nothing to do, every action is already completed")
				return nil
			}

			if _, err := a.evaluatePolicies(ctx, p, actions.OperationExecute, targetLabel(a.targetURL)); err != nil {
				return err
			}

			if !noConfirm {
				ok, err := a.confirmOrDecline(ctx, pending, cmd.ErrOrStderr())
				if err != nil || !ok {
					return err
				}
			}

			target, err := a.openTarget(ctx, a.targetURL)
			if err != nil {
				return err
			}
			defer target.Close()

			runErr := a.applyPlan(ctx, p, actions.OperationExecute, target)
			saveReceipt(ctx, receipt, p)
			return runErr
		},
	}

	cmd.Flags().BoolVar(&noConfirm, "no-confirm", false, "do not ask before executing")
	cmd.Flags().StringVar(&receipt, "receipt", "", "write the plan with its receipts here after the run")

	return cmd
}
