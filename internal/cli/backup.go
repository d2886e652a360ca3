package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/semmidev/dbvault/internal/app"
	"github.com/semmidev/dbvault/internal/cmdutil"
	"github.com/semmidev/dbvault/internal/domain"
)

func newBackupCmd(opts *options) *cobra.Command {
	var (
		name       string
		backupType string
		tables     []string
		noCompress bool
	)
	cmd := &cobra.Command{
		Use:   "backup <connection>",
		Short: "Back up a configured connection",
		Long: "Back up a configured connection and wait for the job to finish. " +
			"Use '--type tables --tables a,b' to limit the backup to some tables",
		Example: "dbvault backup main --type schema_only",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				conn, err := a.Connection(args[0])
				if err != nil {
					return err
				}
				compress := a.Config().Backup.Compress && !noCompress
				mgr := a.Manager()

				job, err := mgr.CreateBackup(ctx, conn, name, domain.BackupType(backupType), tables, compress)
				if err != nil {
					return err
				}

				cmdutil.StartLoading(fmt.Sprintf("Backing up %s...", conn.Name))
				if err := mgr.Wait(ctx, job.ID); err != nil {
					mgr.CancelBackup(job.ID)
					_ = mgr.Wait(context.Background(), job.ID)
				}
				cmdutil.StopLoading()

				done, err := mgr.GetBackup(job.ID)
				if err != nil {
					return err
				}
				if done == nil {
					return domain.ErrJobNotFound
				}
				cmdutil.Print(cmdutil.JobDetail(*done))
				if done.Status != domain.StatusCompleted {
					return errors.New("backup failed")
				}
				cmdutil.PrintS(fmt.Sprintf("Backup completed (%s)", humanize.Bytes(uint64(done.FileSize))))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "manual", "Name recorded on the job")
	cmd.Flags().StringVarP(&backupType, "type", "t", string(domain.BackupFull), "Backup type: full, schema_only, data_only or tables")
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "Tables or collections for a tables backup")
	cmd.Flags().BoolVar(&noCompress, "no-compress", false, "Keep the artifact uncompressed")
	return cmd
}
