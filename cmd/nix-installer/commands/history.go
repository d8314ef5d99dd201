package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/nixinstaller/pkg/plan"
	"github.com/openfroyo/nixinstaller/pkg/stores"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
		receipts   bool
	)

	cmd := &cobra.Command{
		Use:   "history [RUN]",
		Short: "List journaled runs, or the events of one run",
		Example: `  # Most recent runs first
  nix-installer history

  # Every action transition of a run, as JSON
  nix-installer history --json 0d8c0b1e-5f7c-4f0e-a3e5-2b1f6c1e9b7a

  # What a run left on the target, from its latest plan snapshot
  nix-installer history --receipts 0d8c0b1e-5f7c-4f0e-a3e5-2b1f6c1e9b7a`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.requireJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if _, err := store.GetRun(ctx, args[0]); err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				if receipts {
					p, err := stores.LoadPlan(ctx, store, args[0])
					if err != nil {
						return err
					}
					recs := make([]plan.Receipt, 0)
					for _, r := range p.Receipts() {
						recs = append(recs, plan.Receipt{Receipt: r})
					}
					if jsonOutput {
						return writeJSON(out, recs)
					}
					return printReceipts(out, recs)
				}
				events, err := store.ListEvents(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, events)
				}
				return printEvents(out, events)
			}

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, runs)
			}
			return printRuns(out, runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&receipts, "receipts", false, "list the receipts recorded by RUN instead of its events")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRuns(w io.Writer, runs []*stores.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tOPERATION\tSTATUS\tTARGET\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Operation, r.Status, r.Target, r.StartedAt.Local().Format(time.DateTime), duration)
	}
	return tw.Flush()
}

func printEvents(w io.Writer, events []*stores.ActionEvent) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tACTION\tOPERATION\tPHASE\tSTATE\tDURATION\tERROR")
	for _, e := range events {
		state, errText := "-", ""
		if e.State != nil {
			state = *e.State
		}
		if e.Error != nil {
			errText = *e.Error
		}
		duration := "-"
		if e.Phase == stores.EventPhaseFinished {
			duration = (time.Duration(e.DurationMs) * time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Index, e.Kind, e.Operation, e.Phase, state, duration, errText)
	}
	return tw.Flush()
}

func printReceipts(w io.Writer, recs []plan.Receipt) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "No receipts recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tRECEIPT")
	for _, r := range recs {
		body, err := json.Marshal(r)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\n", r.ReceiptKind(), body)
	}
	return tw.Flush()
}
