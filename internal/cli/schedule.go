package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbvault/internal/app"
	"github.com/semmidev/dbvault/internal/cmdutil"
	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/scheduler"
	"github.com/semmidev/dbvault/internal/usecase"
)

func newScheduleCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring backups",
		Long:  "Manage recurring backups. Schedules are executed by 'dbvault serve'",
	}
	cmd.AddCommand(newScheduleAddCmd(opts))
	cmd.AddCommand(newScheduleListCmd(opts))
	cmd.AddCommand(newScheduleRemoveCmd(opts))
	cmd.AddCommand(newScheduleToggleCmd(opts, "enable", true))
	cmd.AddCommand(newScheduleToggleCmd(opts, "disable", false))
	return cmd
}

func newScheduleAddCmd(opts *options) *cobra.Command {
	var (
		name       string
		cron       string
		backupType string
		tables     []string
		noCompress bool
		disabled   bool
	)
	cmd := &cobra.Command{
		Use:     "add <connection>",
		Short:   "Add a schedule",
		Example: "dbvault schedule add main --cron '0 0 2 * * *' --name nightly",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := scheduler.ValidateSpec(cron); err != nil {
				return err
			}
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				conn, err := a.Connection(args[0])
				if err != nil {
					return err
				}
				sched, err := a.Manager().CreateSchedule(usecase.ScheduleRequest{
					Name:         name,
					ConnectionID: conn.ID,
					BackupType:   domain.BackupType(backupType),
					Tables:       tables,
					Compress:     a.Config().Backup.Compress && !noCompress,
					Cron:         cron,
					Enabled:      !disabled,
				})
				if err != nil {
					return err
				}
				cmdutil.PrintS(fmt.Sprintf("Created schedule %s", sched.ID))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "scheduled", "Name recorded on each job")
	cmd.Flags().StringVar(&cron, "cron", "", "Cron spec, with optional seconds field, e.g. '0 0 2 * * *' or '@daily'")
	cmd.Flags().StringVarP(&backupType, "type", "t", string(domain.BackupFull), "Backup type: full, schema_only, data_only or tables")
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "Tables or collections for a tables backup")
	cmd.Flags().BoolVar(&noCompress, "no-compress", false, "Keep artifacts uncompressed")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newScheduleListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				schedules, err := a.Manager().GetAllSchedules()
				if err != nil {
					return err
				}
				cmdutil.Print(cmdutil.SchedulesTable(schedules))
				return nil
			})
		},
	}
}

func newScheduleRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <schedule-id>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				ok, err := a.Manager().DeleteSchedule(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, args[0])
				}
				cmdutil.PrintS(fmt.Sprintf("Removed schedule %s", args[0]))
				return nil
			})
		},
	}
}

func newScheduleToggleCmd(opts *options, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <schedule-id>",
		Short: fmt.Sprintf("%s a schedule", map[bool]string{true: "Enable", false: "Disable"}[enabled]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				sched, err := a.Manager().UpdateSchedule(args[0], domain.ScheduleUpdate{Enabled: domain.Ptr(enabled)})
				if err != nil {
					return err
				}
				cmdutil.PrintS(fmt.Sprintf("Schedule %s %sd", sched.ID, use))
				return nil
			})
		},
	}
}
