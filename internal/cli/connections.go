package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/semmidev/dbvault/internal/app"
	"github.com/semmidev/dbvault/internal/cmdutil"
)

func newConnectionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List configured connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			tw := table.NewWriter()
			tw.AppendHeader(table.Row{"ID", "Name", "Type", "Host", "Database"})
			for _, c := range cfg.Connections {
				tw.AppendRow(table.Row{c.ID, c.Name, c.Type, c.Host, c.Database})
			}
			tw.SetStyle(table.StyleLight)
			cmdutil.Print(tw.Render())
			return nil
		},
	}
}

func newTestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "test <connection>",
		Short:   "Test a configured connection",
		Example: "dbvault test main",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				conn, err := a.Connection(args[0])
				if err != nil {
					return err
				}
				cmdutil.StartLoading(fmt.Sprintf("Connecting to %s...", conn.Name))
				res := a.Manager().TestConnection(ctx, conn)
				cmdutil.StopLoading()
				if !res.Success {
					return errors.New(res.Message)
				}
				cmdutil.PrintS(res.Message)
				return nil
			})
		},
	}
}
