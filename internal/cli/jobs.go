package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbvault/internal/app"
	"github.com/semmidev/dbvault/internal/cmdutil"
	"github.com/semmidev/dbvault/internal/domain"
)

func newListCmd(opts *options) *cobra.Command {
	var connection string
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List backup jobs",
		Long:    "List backup jobs newest first, you can specify '--connection' to list jobs of one connection",
		Example: "dbvault list --connection main",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				connectionID := ""
				if connection != "" {
					conn, err := a.Connection(connection)
					if err != nil {
						return err
					}
					connectionID = conn.ID
				}
				jobs, err := a.Manager().GetAllBackups(connectionID)
				if err != nil {
					return err
				}
				cmdutil.Print(cmdutil.JobsTable(jobs))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&connection, "connection", "", "Connection id or name")
	return cmd
}

func newRestoreCmd(opts *options) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:     "restore <job-id>",
		Short:   "Restore a backup into a connection",
		Long:    "Restore a backup into its own connection, or into another one with '--to'",
		Example: "dbvault restore 0b7c... --to staging",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				job, err := a.Manager().GetBackup(args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("%w: %s", domain.ErrJobNotFound, args[0])
				}
				if job.Status != domain.StatusCompleted {
					return fmt.Errorf("backup %s is %s, only completed backups can be restored", job.ID, job.Status)
				}

				ref := target
				if ref == "" {
					ref = job.ConnectionID
				}
				conn, err := a.Connection(ref)
				if err != nil {
					return err
				}

				cmdutil.StartLoading(fmt.Sprintf("Restoring into %s...", conn.Name))
				err = a.Manager().RestoreBackup(ctx, *job, conn)
				cmdutil.StopLoading()
				if err != nil {
					return err
				}
				cmdutil.PrintS(fmt.Sprintf("Restored %s into %s", job.ID, conn.Name))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "Target connection id or name (default: the backup's connection)")
	return cmd
}

func newVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <job-id>",
		Short: "Check that a backup file is present and non-empty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				ok, err := a.Manager().VerifyBackup(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("backup %s could not be verified", args[0])
				}
				cmdutil.PrintS(fmt.Sprintf("Backup %s verified", args[0]))
				return nil
			})
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a backup file and its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				ok, err := a.Manager().DeleteBackup(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: %s", domain.ErrJobNotFound, args[0])
				}
				cmdutil.PrintS(fmt.Sprintf("Deleted backup %s", args[0]))
				return nil
			})
		},
	}
}
