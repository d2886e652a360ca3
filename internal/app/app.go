package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/semmidev/dbvault/internal/adapter/compressor"
	"github.com/semmidev/dbvault/internal/adapter/connector"
	"github.com/semmidev/dbvault/internal/adapter/notifier"
	"github.com/semmidev/dbvault/internal/adapter/storage"
	"github.com/semmidev/dbvault/internal/adapter/store"
	"github.com/semmidev/dbvault/internal/adapter/strategy"
	"github.com/semmidev/dbvault/internal/config"
	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/logger"
	"github.com/semmidev/dbvault/internal/infrastructure/scheduler"
	"github.com/semmidev/dbvault/internal/usecase"
)

const (
	cleanupJobKey = "cleanup"
	reloadJobKey  = "reload-schedules"
)

type App struct {
	config        *config.Config
	logger        *logger.Logger
	store         *store.JSONStore
	manager       *usecase.BackupManager
	hub           *notifier.Hub
	scheduler     *scheduler.Scheduler
	schedules     *ScheduleRunner
	cleanupUC     *usecase.Cleanup
	uploadTargets []usecase.UploadTarget
	server        *http.Server
}

func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// a corrupt metadata document is fatal here rather than on first use
	jobStore, err := store.Open(afero.NewOsFs(), cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open job metadata: %w", err)
	}

	hub := notifier.NewHub()
	notifiers := notifier.Multi{hub, notifier.NewLog(log.Named("notify"))}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		telegram, err := notifier.NewTelegram(tg.BotToken, tg.ChatID, log.Named("telegram"))
		if err != nil {
			log.Errorf("Failed to initialize Telegram notifications: %v", err)
		} else {
			notifiers = append(notifiers, telegram)
			log.Infof("✓ Telegram notifications enabled")
		}
	}

	manager := usecase.NewBackupManager(
		jobStore,
		strategy.NewDefaultRegistry(strategy.ExecProbe, log.Named("strategy")),
		compressor.NewPgzip(cfg.Backup.CompressionLevel),
		notifiers,
		connector.New,
		log.Named("backup"),
		cfg.FilesDir(),
	)

	uploadTargets := initializeUploadTargets(cfg, log)
	if len(uploadTargets) > 0 {
		manager.SetReplicator(usecase.NewReplicate(uploadTargets, log.Named("replicate"), cfg.Backup.UploadTimeout))
	}

	sched := scheduler.New(log.Named("scheduler"))

	a := &App{
		config:        cfg,
		logger:        log,
		store:         jobStore,
		manager:       manager,
		hub:           hub,
		scheduler:     sched,
		uploadTargets: uploadTargets,
		cleanupUC:     usecase.NewCleanup(manager, uploadTargets, log.Named("cleanup"), cfg.Backup.RetentionDays),
	}
	a.schedules = NewScheduleRunner(manager, sched, a.Connection, log.Named("schedules"))
	return a, nil
}

func initializeUploadTargets(cfg *config.Config, log *logger.Logger) []usecase.UploadTarget {
	var targets []usecase.UploadTarget
	ctx := context.Background()

	for _, targetCfg := range cfg.GetEnabledUploadTargets() {
		var stor domain.Storage
		var err error

		switch targetCfg.Type {
		case "local":
			stor, err = storage.NewLocal(targetCfg.Path)
			if err != nil {
				log.Errorf("Failed to initialize local mirror: %v", err)
				continue
			}
			log.Infof("✓ Local mirror enabled (%s)", targetCfg.Path)

		case "gdrive":
			stor, err = newGDrive(ctx, targetCfg, log)
			if err != nil {
				log.Errorf("Failed to initialize Google Drive: %v", err)
				continue
			}
			log.Infof("✓ Google Drive upload enabled")

		case "s3":
			stor, err = storage.NewS3(ctx, storage.S3Options{
				Region:    targetCfg.Region,
				Bucket:    targetCfg.Bucket,
				AccessKey: targetCfg.AccessKey,
				SecretKey: targetCfg.SecretKey,
				Prefix:    targetCfg.Prefix,
				Endpoint:  targetCfg.Endpoint,
			})
			if err != nil {
				log.Errorf("Failed to initialize S3: %v", err)
				continue
			}
			log.Infof("✓ AWS S3 upload enabled (bucket: %s)", targetCfg.Bucket)

		default:
			log.Warnf("Unknown upload target type: %s", targetCfg.Type)
			continue
		}

		targets = append(targets, usecase.UploadTarget{
			Name:    targetCfg.Type,
			Storage: stor,
		})
	}

	return targets
}

func newGDrive(ctx context.Context, target config.UploadTarget, log *logger.Logger) (*storage.GDriveStorage, error) {
	if target.CredentialsFile != "" {
		return storage.NewGDrive(ctx, target.CredentialsFile, target.FolderID)
	}
	oauth, err := NewGoogleOAuthService(log, target.ClientSecretFile)
	if err != nil {
		return nil, err
	}
	return storage.NewGDriveWithToken(ctx, oauth.GetConfig(), oauth.TokenFromRefresh(target.RefreshToken), target.FolderID)
}

func (a *App) Manager() *usecase.BackupManager {
	return a.manager
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) Logger() *logger.Logger {
	return a.logger
}

func (a *App) Schedules() *ScheduleRunner {
	return a.schedules
}

// Connection resolves a configured connection by id or name.
func (a *App) Connection(ref string) (domain.ConnectionConfig, error) {
	cc, ok := a.config.FindConnection(ref)
	if !ok {
		return domain.ConnectionConfig{}, fmt.Errorf("connection %q is not configured", ref)
	}
	return cc.Domain()
}

// Run serves scheduled backups, remote cleanup and the progress endpoint
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("Starting %s with %d connection(s)", a.config.App.Name, len(a.config.Connections))

	loaded, err := a.schedules.Reload()
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	a.logger.Infof("Loaded %d enabled schedule(s)", loaded)

	// schedules edited from another process are picked up within a minute
	if err := a.scheduler.AddJob(reloadJobKey, "@every 1m", func(context.Context) error {
		_, err := a.schedules.Reload()
		return err
	}); err != nil {
		return fmt.Errorf("failed to schedule reload: %w", err)
	}

	if len(a.uploadTargets) > 0 {
		a.logger.Infof("Scheduling cleanup: %s", a.config.Backup.CleanupSchedule)
		if err := a.scheduler.AddJob(cleanupJobKey, a.config.Backup.CleanupSchedule, a.cleanupUC.Execute); err != nil {
			return fmt.Errorf("failed to schedule cleanup: %w", err)
		}
	}

	a.scheduler.Start()
	a.logger.Infof("Scheduler started successfully")
	a.logger.Infof("Backup destinations: local + %d remote target(s)", len(a.uploadTargets))

	errCh := make(chan error, 1)
	if a.config.App.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              a.config.App.ListenAddr,
			Handler:           newHandler(a.manager, a.hub, a.logger.Named("http")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Infof("Progress server listening on %s", a.config.App.ListenAddr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("progress server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the scheduler and the server, then cancels running backups.
func (a *App) Shutdown(ctx context.Context) {
	a.logger.Infof("Shutting down application...")
	a.scheduler.Stop()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warnf("Progress server shutdown: %v", err)
		}
	}
	if err := a.manager.Close(ctx); err != nil {
		a.logger.Warnf("Running backups did not stop in time: %v", err)
	}
	a.hub.Close()
	a.logger.Close()
}
