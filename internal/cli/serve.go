package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbvault/internal/app"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run scheduled backups and the progress server",
		Long:    "Run stored schedules, remote retention cleanup and the HTTP/websocket progress endpoint until interrupted",
		Example: "dbvault serve --config /etc/dbvault/dbvault.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(ctx context.Context, a *app.App) error {
				return a.Run(ctx)
			})
		},
	}
}
