package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"sleepdebt/internal/query"
	"sleepdebt/internal/service"

	"github.com/spf13/cobra"
)

func newRefreshCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Pull changes from the interval source and rebuild affected days",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, svc *service.DebtService, _ []string) error {
			dirty, err := svc.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(dirty) == 0 {
				fmt.Fprintln(out, "No changes.")
				return nil
			}
			fmt.Fprintf(out, "Updated %d day(s): %s\n", len(dirty), strings.Join(dirty, ", "))
			return nil
		}),
	}
}

func newSettingsCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the current goal, day boundary and sync state",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, svc *service.DebtService, _ []string) error {
			s, err := svc.Settings(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Goal:          %s\n", query.FormatMinutes(s.GoalMinutes))
			fmt.Fprintf(out, "Day boundary:  %02d:00\n", s.DayBoundaryHour)
			fmt.Fprintf(out, "Time zone:     %s\n", s.TimeZone)
			if s.LastSyncAt != nil {
				fmt.Fprintf(out, "Last sync:     %s\n", s.LastSyncAt.Format("2006-01-02 15:04"))
			} else {
				fmt.Fprintln(out, "Last sync:     never")
			}
			return nil
		}),
	}
}

func newGoalCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "goal [minutes]",
		Short: "Set the nightly sleep goal and rebuild every day",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, svc *service.DebtService, args []string) error {
			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("goal must be a number of minutes: %w", err)
			}
			if err := svc.UpdateGoal(cmd.Context(), minutes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Goal set to %s.\n", query.FormatMinutes(minutes))
			return nil
		}),
	}
}

func newBoundaryCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "boundary [hour]",
		Short: "Set the hour at which a new sleep day starts and re-split history",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, svc *service.DebtService, args []string) error {
			hour, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("boundary must be an hour 0-23: %w", err)
			}
			if err := svc.UpdateDayBoundary(cmd.Context(), hour); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Day boundary set to %02d:00.\n", hour)
			return nil
		}),
	}
}

func newDebtCmd(run runner) *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "debt",
		Short: "Print the rolling sleep debt",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, svc *service.DebtService, _ []string) error {
			debt, err := svc.RollingDebt(cmd.Context(), window)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", query.FormatMinutes(debt), query.BandFor(debt))
			return nil
		}),
	}
	windowFlag(cmd, &window)
	return cmd
}

func newChartCmd(run runner) *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Print the rolling debt series, oldest day first",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, svc *service.DebtService, _ []string) error {
			points, err := svc.ChartSeries(cmd.Context(), window)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range points {
				fmt.Fprintf(out, "%s  %8s\n", p.Date.Format("2006-01-02"), query.FormatMinutes(p.RollingDebtMinutes))
			}
			return nil
		}),
	}
	windowFlag(cmd, &window)
	return cmd
}

func newTodayCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Print the current sleep day against the goal",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, svc *service.DebtService, _ []string) error {
			t, err := svc.TodaySummary(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !t.HasData {
				fmt.Fprintf(out, "%s: no sleep recorded (goal %s)\n", t.DayID, query.FormatMinutes(t.GoalMinutes))
				return nil
			}
			fmt.Fprintf(out, "%s: %s of %s (%s)\n", t.DayID,
				query.FormatMinutes(t.ActualMinutes), query.FormatMinutes(t.GoalMinutes), query.FormatDelta(t.DeltaMinutes))
			return nil
		}),
	}
}

func newDaysCmd(run runner) *cobra.Command {
	var window int
	cmd := &cobra.Command{
		Use:   "days",
		Short: "List recent days, newest first",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, svc *service.DebtService, _ []string) error {
			rows, err := svc.Days(cmd.Context(), window)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rows {
				if !r.HasData {
					fmt.Fprintf(out, "%s  %8s\n", r.Date.Format("2006-01-02"), "-")
					continue
				}
				fmt.Fprintf(out, "%s  %8s  %9s  %s\n", r.Date.Format("2006-01-02"),
					query.FormatMinutes(r.ActualMinutes), query.FormatDelta(r.DeltaMinutes), query.DeltaState(r.DeltaMinutes))
			}
			return nil
		}),
	}
	windowFlag(cmd, &window)
	return cmd
}

func newExportCmd(run runner) *cobra.Command {
	var (
		window int
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write recent days to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, svc *service.DebtService, _ []string) error {
			data, err := svc.ExportDays(cmd.Context(), window)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		}),
	}
	windowFlag(cmd, &window)
	cmd.Flags().StringVarP(&output, "output", "o", "sleep-debt.xlsx", "Output file")
	return cmd
}

// windowFlag registers --window and rejects out-of-range values before the store is opened.
func windowFlag(cmd *cobra.Command, window *int) {
	cmd.Flags().IntVar(window, "window", 0,
		fmt.Sprintf("Window in days, 1-%d (default from configuration)", query.MaxWindowDays))
	cmd.PreRunE = func(*cobra.Command, []string) error {
		return query.ValidateWindow(*window)
	}
}
