package cli

import (
	"context"

	"github.com/spf13/cobra"

	"staffplanner/internal/app"
	"staffplanner/internal/engine"
	"staffplanner/internal/model"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		employee, start, end, exclude string
		hours                         float64
		includeAcknowledged           bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Detect overlap and over-capacity conflicts for an employee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := conflictQuery(employee, start, end)
			if err != nil {
				return err
			}
			q.ExcludeID = exclude
			q.IncludeAcknowledged = includeAcknowledged
			if cmd.Flags().Changed("hours") {
				q.AllocatedHours = &hours
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.CheckConflicts(ctx, q)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee id")
	cmd.Flags().StringVar(&start, "start", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "range end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&exclude, "exclude", "", "allocation id to leave out of the scan")
	cmd.Flags().Float64Var(&hours, "hours", 0, "candidate total hours to include in the capacity check")
	cmd.Flags().BoolVar(&includeAcknowledged, "include-acknowledged", false, "also report acknowledged conflicts")
	return cmd
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var (
		kind, allocationID, reason  string
		newStart, newEnd, splitDate string
		newEmployee                 string
		newHours                    float64
		acceptRemaining             bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Apply a resolution to a recorded conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := model.ConflictResolution{
				ConflictID:      args[0],
				Kind:            model.ResolutionKind(kind),
				AllocationID:    allocationID,
				AcceptRemaining: acceptRemaining,
			}
			var err error
			if res.NewStartDate, err = optionalDateFlag(cmd, "new-start", newStart); err != nil {
				return err
			}
			if res.NewEndDate, err = optionalDateFlag(cmd, "new-end", newEnd); err != nil {
				return err
			}
			if res.SplitDate, err = optionalDateFlag(cmd, "split-date", splitDate); err != nil {
				return err
			}
			if cmd.Flags().Changed("new-hours") {
				res.NewAllocatedHours = &newHours
			}
			if cmd.Flags().Changed("new-employee") {
				res.NewEmployeeID = &newEmployee
			}
			if cmd.Flags().Changed("reason") {
				res.Reason = &reason
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Engine.ResolveConflict(ctx, res)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&kind, "kind", "", "reschedule | reduce_hours | reassign | split_allocation | ignore")
	f.StringVar(&allocationID, "allocation", "", "allocation to act on (defaults to the conflict's last allocation)")
	f.StringVar(&newStart, "new-start", "", "new start date for reschedule")
	f.StringVar(&newEnd, "new-end", "", "new end date for reschedule")
	f.Float64Var(&newHours, "new-hours", 0, "new total hours for reduce_hours")
	f.StringVar(&newEmployee, "new-employee", "", "target employee for reassign")
	f.StringVar(&splitDate, "split-date", "", "first day of the second half for split_allocation")
	f.StringVar(&reason, "reason", "", "reason recorded with ignore")
	f.BoolVar(&acceptRemaining, "accept-remaining", false, "commit even if other conflicts remain")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

type autoResolveOutput struct {
	Resolved int                         `json:"resolved"`
	Outcomes []engine.AutoResolveOutcome `json:"outcomes"`
}

func newAutoResolveCmd(opts *rootOptions) *cobra.Command {
	var employee, start, end string
	cmd := &cobra.Command{
		Use:   "auto-resolve [conflict-id...]",
		Short: "Apply suggested resolutions to recorded conflicts or to an employee's range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var conflicts []model.Conflict
				if len(args) > 0 {
					loaded, err := a.Engine.RecordedConflicts(ctx, args)
					if err != nil {
						return err
					}
					conflicts = loaded
				} else {
					q, err := conflictQuery(employee, start, end)
					if err != nil {
						return err
					}
					report, err := a.Engine.CheckConflicts(ctx, q)
					if err != nil {
						return err
					}
					conflicts = report.Conflicts
				}

				out := autoResolveOutput{Outcomes: a.Engine.AutoResolve(ctx, conflicts)}
				for _, o := range out.Outcomes {
					if o.Result != nil && o.Result.State == model.StateResolved {
						out.Resolved++
					}
				}
				return outputJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee id (when no conflict ids are given)")
	cmd.Flags().StringVar(&start, "start", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "range end (YYYY-MM-DD)")
	return cmd
}

func conflictQuery(employee, start, end string) (engine.ConflictQuery, error) {
	s, err := parseDateFlag("start", start)
	if err != nil {
		return engine.ConflictQuery{}, err
	}
	e, err := parseDateFlag("end", end)
	if err != nil {
		return engine.ConflictQuery{}, err
	}
	return engine.ConflictQuery{EmployeeID: employee, Start: s, End: e}, nil
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <conflict-id>",
		Short: "List the resolution attempts made on a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				records, err := a.Engine.ResolutionHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), records)
			})
		},
	}
}
