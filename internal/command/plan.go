package command

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/ferry/internal/extract"
)

func newPlanCmd(a *app) *cobra.Command {
	var (
		year    int
		root    string
		execute bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan (and optionally run) month-by-month extractions for a year",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				root = fmt.Sprintf("botmaker/%d", year)
			}
			windows := extract.MonthWindows(year, root)
			fmt.Fprintln(cmd.OutOrStdout(), extract.PlanText(windows))
			if !execute {
				return nil
			}

			runner, closeFn, err := a.extractRunner(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			failures, err := extract.ExecutePlan(cmd.Context(), windows, func(ctx context.Context, w extract.PlanWindow) error {
				_, err := runner.Run(ctx, extract.WindowOptions(w))
				return err
			}, a.logger)
			if err != nil {
				return err
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d months failed", failures, len(windows))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "All %d months extracted.\n", len(windows))
			return nil
		},
	}

	cmd.Flags().IntVar(&year, "year", time.Now().UTC().Year(), "calendar year to plan")
	cmd.Flags().StringVar(&root, "root-prefix", "", "output root under DATA_DIR (default botmaker/<year>)")
	cmd.Flags().BoolVar(&execute, "execute", false, "run the plan instead of only printing it")

	return cmd
}
