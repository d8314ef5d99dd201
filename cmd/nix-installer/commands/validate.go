package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/plan"
	"github.com/openfroyo/nixinstaller/pkg/policy"
)

func newValidateCommand(a *app) *cobra.Command {
	var settings settingsFlags

	cmd := &cobra.Command{
		Use:   "validate [PLAN]",
		Short: "Validate settings or a plan against the schema and policies",
		Long: `Validate settings or a plan document without touching any host.

Without PLAN the settings (defaults, --settings and flags) are validated and
planned. With PLAN the document is decoded instead ("-" for stdin). Either
way the plan is then evaluated against the built-in and --policy policies
and every violation is listed. Error and critical violations fail the
command.`,
		Example: `  # Check a settings file
  nix-installer validate --settings settings.yaml

  # Check a plan against site policies
  nix-installer validate --policy ./policies plan.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				p   *plan.InstallPlan
				err error
			)
			if len(args) == 1 {
				p, err = readPlan(args[0], cmd.InOrStdin())
			} else {
				s, lerr := settings.load(cmd)
				if lerr != nil {
					return lerr
				}
				p, err = plan.New(ctx, s)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			res, err := a.evaluatePolicies(ctx, p, actions.OperationExecute, targetLabel(a.targetURL))
			var denied *policy.DeniedError
			if err != nil && !errors.As(err, &denied) {
				return err
			}

			for _, v := range res.Violations {
				fmt.Fprintf(out, "%s\n", v)
			}
			if res.Allowed {
				fmt.Fprintf(out, "Plan %s is valid (%d actions, %d policies evaluated)\n",
					p.ID, len(p.Actions), len(res.EvaluatedPolicies))
			}
			return err
		},
	}

	settings.register(cmd.Flags())

	return cmd
}
