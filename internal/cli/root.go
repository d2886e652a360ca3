package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbvault/internal/app"
	"github.com/semmidev/dbvault/internal/cmdutil"
	"github.com/semmidev/dbvault/internal/config"
)

const shutdownTimeout = 30 * time.Second

type options struct {
	configPath string
}

func New() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "dbvault",
		Short:         "dbvault - database backup and restore for PostgreSQL, MySQL, SQLite and MongoDB",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			cmdutil.StopLoading()
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: ./dbvault.yaml, ~/.dbvault/dbvault.yaml)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newBackupCmd(opts))
	cmd.AddCommand(newRestoreCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newTestCmd(opts))
	cmd.AddCommand(newConnectionsCmd(opts))
	cmd.AddCommand(newScheduleCmd(opts))
	cmd.AddCommand(newGDriveAuthCmd(opts))

	// errors are printed once here instead of by cobra
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		cmdutil.PrintE(err.Error())
		return err
	})
	wrapErrors(cmd)
	return cmd
}

// wrapErrors prints every RunE error in red.
func wrapErrors(cmd *cobra.Command) {
	for _, c := range cmd.Commands() {
		wrapErrors(c)
	}
	if cmd.RunE == nil {
		return
	}
	run := cmd.RunE
	cmd.RunE = func(c *cobra.Command, args []string) error {
		err := run(c, args)
		if err != nil {
			cmdutil.StopLoading()
			cmdutil.PrintE(err.Error())
		}
		return err
	}
}

func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// withApp builds the application, runs fn and shuts it down. fn receives a
// context cancelled on SIGINT or SIGTERM.
func (o *options) withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		application.Shutdown(shutdownCtx)
	}()

	return fn(ctx, application)
}
