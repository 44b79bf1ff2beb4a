package cli

import (
	"context"

	"github.com/spf13/cobra"

	"staffplanner/internal/app"
	"staffplanner/internal/engine"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var (
		req        engine.CapacityRequest
		start, end string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check whether extra hours fit an employee's capacity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.Start, err = parseDateFlag("start", start); err != nil {
				return err
			}
			if req.End, err = parseDateFlag("end", end); err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Engine.ValidateCapacity(ctx, req)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.EmployeeID, "employee", "", "employee id")
	f.Float64Var(&req.AllocatedHours, "hours", 0, "total hours to add over the range")
	f.StringVar(&start, "start", "", "range start (YYYY-MM-DD)")
	f.StringVar(&end, "end", "", "range end (YYYY-MM-DD)")
	f.StringVar(&req.ExcludeID, "exclude", "", "allocation id being replaced")
	f.BoolVar(&req.Force, "force", false, "report violations without failing")
	return cmd
}

func newUtilizationCmd(opts *rootOptions) *cobra.Command {
	var start, end, department string
	cmd := &cobra.Command{
		Use:   "utilization",
		Short: "Summarize utilization per employee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			e, err := parseDateFlag("end", end)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				summary, err := a.Engine.GetUtilizationSummary(ctx, s, e, department)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "range end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&department, "department", "", "only employees of this department")
	return cmd
}

func newCapacityCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Manage per-day capacity overrides",
	}
	cmd.AddCommand(newCapacitySetCmd(opts))
	return cmd
}

func newCapacitySetCmd(opts *rootOptions) *cobra.Command {
	var (
		employee, date string
		hours          float64
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the hours an employee is available on one day (0 for a day off)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDateFlag("date", date)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("hours") {
				return &engine.ValidationError{Field: "hours", Message: "is required"}
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				override, err := a.Engine.SetCapacityOverride(ctx, employee, day, hours)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), override)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&employee, "employee", "", "employee id")
	f.StringVar(&date, "date", "", "day to override (YYYY-MM-DD)")
	f.Float64Var(&hours, "hours", 0, "available hours on that day")
	return cmd
}
