package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbvault/internal/app"
	"github.com/semmidev/dbvault/internal/cmdutil"
	"github.com/semmidev/dbvault/internal/infrastructure/logger"
)

func newGDriveAuthCmd(opts *options) *cobra.Command {
	var (
		clientSecret string
		addr         string
	)
	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Obtain a Google Drive refresh token",
		Long: "Start a local OAuth flow and print a refresh token to put in the " +
			"gdrive upload target as 'refresh_token'",
		Example: "dbvault gdrive-auth --client-secret client_secret.json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New("info", "")
			if err != nil {
				return err
			}
			defer log.Close()

			svc, err := app.NewGoogleOAuthService(log, clientSecret)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := svc.StartAuthServer(ctx, addr); err != nil {
				return err
			}
			defer svc.Shutdown(context.Background())

			cmdutil.Print(fmt.Sprintf("Open http://%s/auth/google/drive in a browser to authorize", addr))

			select {
			case tok := <-svc.Tokens():
				cmdutil.PrintS("Refresh token:")
				cmdutil.Print(tok.RefreshToken)
			case <-ctx.Done():
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&clientSecret, "client-secret", "client_secret.json", "OAuth client secret downloaded from the Google Cloud console")
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "Listen address; must match the client's redirect URI")
	return cmd
}
