package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/nixinstaller/pkg/plan"
)

func newPlanCommand(a *app) *cobra.Command {
	var (
		settings settingsFlags
		outFile  string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Write an install plan for the given settings",
		Long: `Write an install plan for the given settings.

Settings start from the defaults, are overlaid by --settings and finally by
individual flags. Planning never inspects or changes the host; the plan
lists every action 'execute' would take:
  - create the build group and build users
  - create the Nix store directory tree
  - fetch and unpack the Nix tarball
  - write nix.conf
  - link and enable the nix-daemon units (with --start-daemon)`,
		Example: `  # Plan with defaults and review it
  nix-installer plan --out plan.json

  # Plan from a CUE settings file with fewer build users
  nix-installer plan --settings settings.cue --daemon-user-count 8

  # Plan and execute in one pipeline
  nix-installer plan | nix-installer execute`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := settings.load(cmd)
			if err != nil {
				return err
			}

			p, err := plan.New(ctx, s)
			if err != nil {
				return err
			}

			zerolog.Ctx(ctx).Info().
				Str("plan_id", p.ID).
				Int("actions", len(p.Actions)).
				Str("out", outFile).
				Msg("Planned install")
			return writePlan(outFile, cmd.OutOrStdout(), p)
		},
	}

	settings.register(cmd.Flags())
	cmd.Flags().StringVarP(&outFile, "out", "o", "-", "output plan file path (- for stdout)")

	return cmd
}
