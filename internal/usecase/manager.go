package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/semmidev/dbvault/internal/adapter/strategy"
	"github.com/semmidev/dbvault/internal/domain"
)

// Progress checkpoints reported for every job. Strategies that report
// per-table progress are mapped between progressDispatched and progressDumped.
const (
	progressStarted    = 0
	progressDispatched = 25
	progressDumped     = 75
	progressCompressed = 85
	progressDone       = 100
)

const artifactExt = ".sql"

type JobStore interface {
	AddBackup(job domain.BackupJob) error
	GetBackup(id string) (*domain.BackupJob, error)
	GetAllBackups(connectionID string) ([]domain.BackupJob, error)
	UpdateBackup(id string, upd domain.BackupUpdate) (*domain.BackupJob, error)
	DeleteBackup(id string) (bool, error)

	AddSchedule(sched domain.BackupSchedule) error
	GetSchedule(id string) (*domain.BackupSchedule, error)
	GetAllSchedules() ([]domain.BackupSchedule, error)
	UpdateSchedule(id string, upd domain.ScheduleUpdate) (*domain.BackupSchedule, error)
	DeleteSchedule(id string) (bool, error)
}

type StrategyRegistry interface {
	Get(engine domain.EngineType) (strategy.Strategy, error)
}

// ConnectorFactory builds a fresh connector for an engine.
type ConnectorFactory func(engine domain.EngineType, log domain.Logger) (domain.Connector, error)

// Replicator receives every completed job after the completion notification.
type Replicator interface {
	Replicate(ctx context.Context, job domain.BackupJob)
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// BackupManager owns the lifecycle of backup jobs.
type BackupManager struct {
	store      JobStore
	strategies StrategyRegistry
	compressor domain.Compressor
	notifier   domain.Notifier
	connectors ConnectorFactory
	replicator Replicator
	logger     domain.Logger
	filesDir   string
	now        func() time.Time

	// mu guards file name reservation and the running set.
	mu      sync.Mutex
	running map[string]*running

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewBackupManager(
	store JobStore,
	strategies StrategyRegistry,
	compressor domain.Compressor,
	notifier domain.Notifier,
	connectors ConnectorFactory,
	logger domain.Logger,
	filesDir string,
) *BackupManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &BackupManager{
		store:      store,
		strategies: strategies,
		compressor: compressor,
		notifier:   notifier,
		connectors: connectors,
		logger:     logger,
		filesDir:   filesDir,
		now:        time.Now,
		running:    make(map[string]*running),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// SetReplicator installs the post-completion hook. Call before the first job.
func (m *BackupManager) SetReplicator(r Replicator) {
	m.replicator = r
}

// CreateBackup records a pending job and runs it in the background. The
// returned job is a snapshot taken before the backup starts.
func (m *BackupManager) CreateBackup(
	ctx context.Context,
	cfg domain.ConnectionConfig,
	name string,
	backupType domain.BackupType,
	tables []string,
	compress bool,
) (*domain.BackupJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !backupType.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidBackupType, backupType)
	}
	if backupType == domain.BackupTables && len(tables) == 0 {
		return nil, domain.ErrTablesRequired
	}
	strat, err := m.strategies.Get(cfg.Type)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.filesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.baseCtx.Err() != nil {
		return nil, errors.New("backup manager is closed")
	}
	filePath, err := m.reservePath(cfg.Name, compress)
	if err != nil {
		return nil, err
	}

	job := domain.BackupJob{
		ID:             uuid.NewString(),
		ConnectionID:   cfg.ID,
		ConnectionName: cfg.Name,
		Name:           name,
		BackupType:     backupType,
		FilePath:       filePath,
		Status:         domain.StatusPending,
		Compressed:     compress,
		CreatedAt:      m.now().UTC(),
	}
	if backupType == domain.BackupTables {
		job.Tables = append([]string(nil), tables...)
	}
	if err := m.store.AddBackup(job); err != nil {
		return nil, fmt.Errorf("failed to record backup job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(m.baseCtx)
	r := &running{cancel: cancel, done: make(chan struct{})}
	m.running[job.ID] = r

	m.logger.Infof("[%s] Queued %s backup %s -> %s", cfg.Name, backupType, job.ID, filepath.Base(filePath))

	go func(job domain.BackupJob) {
		defer close(r.done)
		defer m.forget(job.ID)
		defer cancel()
		m.run(jobCtx, job, cfg, strat)
	}(job.Clone())

	out := job.Clone()
	return &out, nil
}

// reservePath derives {name}_{timestamp}.sql[.gz] and appends _2, _3, ...
// until neither a recorded job nor a file on disk uses it. Caller holds mu.
func (m *BackupManager) reservePath(connName string, compress bool) (string, error) {
	stamp := strings.NewReplacer(":", "", ".", "").Replace(
		m.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	base := sanitizeFileName(connName) + "_" + stamp

	jobs, err := m.store.GetAllBackups("")
	if err != nil {
		return "", fmt.Errorf("failed to list backup jobs: %w", err)
	}
	used := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		used[j.FilePath] = struct{}{}
		used[strings.TrimSuffix(j.FilePath, ".gz")] = struct{}{}
	}

	for i := 1; ; i++ {
		stem := base
		if i > 1 {
			stem = fmt.Sprintf("%s_%d", base, i)
		}
		raw := filepath.Join(m.filesDir, stem+artifactExt)
		if taken(used, raw) || taken(used, raw+".gz") {
			continue
		}
		if compress {
			return raw + ".gz", nil
		}
		return raw, nil
	}
}

func taken(used map[string]struct{}, path string) bool {
	if _, ok := used[path]; ok {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "backup"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)
}

func (m *BackupManager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
}

func (m *BackupManager) run(ctx context.Context, job domain.BackupJob, cfg domain.ConnectionConfig, strat strategy.Strategy) {
	start := time.Now()
	rawPath := strings.TrimSuffix(job.FilePath, ".gz")

	finalPath, size, err := m.execute(ctx, job, cfg, strat, rawPath)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %v", context.Canceled, err)
		}
		m.fail(job, cfg, rawPath, err)
		return
	}

	completedAt := m.now().UTC()
	updated, err := m.store.UpdateBackup(job.ID, domain.BackupUpdate{
		Status:      domain.Ptr(domain.StatusCompleted),
		FilePath:    &finalPath,
		CompletedAt: &completedAt,
		FileSize:    &size,
	})
	if err != nil {
		m.logger.Errorf("[%s] Failed to record completion of %s: %v", cfg.Name, job.ID, err)
		m.fail(job, cfg, "", err)
		return
	}

	m.notifier.NotifyBackupUpdate(job.ID, domain.StatusCompleted, domain.ProgressUpdate{
		ConnectionName: cfg.Name,
		Progress:       progressDone,
		FileSize:       size,
	})
	m.logger.Infof("[%s] Backup %s completed in %s: %s (%s)",
		cfg.Name, job.ID, time.Since(start).Round(time.Millisecond), filepath.Base(finalPath), humanize.Bytes(uint64(size)))

	if m.replicator != nil && updated != nil {
		m.replicator.Replicate(ctx, *updated)
	}
}

func (m *BackupManager) execute(
	ctx context.Context,
	job domain.BackupJob,
	cfg domain.ConnectionConfig,
	strat strategy.Strategy,
	rawPath string,
) (string, int64, error) {
	if _, err := m.store.UpdateBackup(job.ID, domain.BackupUpdate{Status: domain.Ptr(domain.StatusInProgress)}); err != nil {
		return "", 0, fmt.Errorf("failed to mark job in progress: %w", err)
	}
	m.progress(job.ID, cfg.Name, progressStarted)
	m.progress(job.ID, cfg.Name, progressDispatched)

	req := strategy.BackupRequest{
		Job:        job,
		Conn:       cfg,
		Tables:     job.Tables,
		OutputPath: rawPath,
		Progress: func(done, total int) {
			if total <= 0 {
				return
			}
			p := progressDispatched + (progressDumped-progressDispatched)*done/total
			if p > progressDispatched && p < progressDumped {
				m.progress(job.ID, cfg.Name, p)
			}
		},
	}
	if err := strat.Backup(ctx, req); err != nil {
		return "", 0, err
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	m.progress(job.ID, cfg.Name, progressDumped)

	if job.Compressed {
		if _, err := m.compressor.CompressFile(rawPath); err != nil {
			return "", 0, fmt.Errorf("compression: %w", err)
		}
		m.progress(job.ID, cfg.Name, progressCompressed)
	}

	finalPath := rawPath
	if _, err := os.Stat(rawPath + ".gz"); err == nil {
		finalPath = rawPath + ".gz"
	}
	info, err := os.Stat(finalPath)
	if err != nil {
		return "", 0, fmt.Errorf("stat backup file: %w", err)
	}
	if info.Size() == 0 {
		return "", 0, errors.New("backup produced an empty file")
	}
	return finalPath, info.Size(), nil
}

func (m *BackupManager) progress(jobID, connName string, p int) {
	m.notifier.NotifyBackupUpdate(jobID, domain.StatusInProgress, domain.ProgressUpdate{
		ConnectionName: connName,
		Progress:       p,
	})
}

// fail records err on the job and removes partial artifacts under rawPath.
func (m *BackupManager) fail(job domain.BackupJob, cfg domain.ConnectionConfig, rawPath string, err error) {
	msg := err.Error()
	m.logger.Errorf("[%s] Backup %s failed: %s", cfg.Name, job.ID, msg)

	if rawPath != "" {
		for _, p := range []string{rawPath, rawPath + ".gz"} {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				m.logger.Warnf("[%s] Failed to remove partial artifact %s: %v", cfg.Name, p, rmErr)
			}
		}
	}

	// a job that never got marked in progress passes through it first so
	// the stored status only moves forward
	if cur, gerr := m.store.GetBackup(job.ID); gerr == nil && cur != nil && cur.Status == domain.StatusPending {
		if _, perr := m.store.UpdateBackup(job.ID, domain.BackupUpdate{Status: domain.Ptr(domain.StatusInProgress)}); perr != nil {
			m.logger.Warnf("[%s] Failed to mark %s in progress before failing it: %v", cfg.Name, job.ID, perr)
		}
	}

	if _, uerr := m.store.UpdateBackup(job.ID, domain.BackupUpdate{
		Status:       domain.Ptr(domain.StatusFailed),
		ErrorMessage: &msg,
	}); uerr != nil {
		m.logger.Errorf("[%s] Failed to record failure of %s: %v", cfg.Name, job.ID, uerr)
	}
	m.notifier.NotifyBackupUpdate(job.ID, domain.StatusFailed, domain.ProgressUpdate{
		ConnectionName: cfg.Name,
		Error:          msg,
	})
}

// CancelBackup aborts a running job. It reports false when the job is not running.
func (m *BackupManager) CancelBackup(id string) bool {
	m.mu.Lock()
	r, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	return true
}

// Wait blocks until the job finishes or ctx is done. Jobs that are not
// running return immediately.
func (m *BackupManager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running lists the ids of jobs still in flight.
func (m *BackupManager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels every running job and waits for them to settle.
func (m *BackupManager) Close(ctx context.Context) error {
	m.cancelBase()
	for _, id := range m.Running() {
		if err := m.Wait(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RestoreBackup loads a job's artifact into target. Restores are not
// recorded as jobs; failures are returned to the caller.
func (m *BackupManager) RestoreBackup(ctx context.Context, job domain.BackupJob, target domain.ConnectionConfig) (err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			m.logger.Errorf("[%s] Restore of %s failed: %v", target.Name, job.ID, err)
		}
	}()

	strat, err := m.strategies.Get(target.Type)
	if err != nil {
		return err
	}
	if _, err := os.Stat(job.FilePath); err != nil {
		return fmt.Errorf("backup file unavailable: %w", err)
	}

	source := job.FilePath
	if job.Compressed || strings.HasSuffix(job.FilePath, ".gz") {
		tmp, err := os.CreateTemp("", "dbvault_restore_"+job.ID+"_*"+artifactExt)
		if err != nil {
			return fmt.Errorf("failed to create restore file: %w", err)
		}
		tmpPath := tmp.Name()
		tmp.Close()
		defer func() {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				m.logger.Warnf("[%s] Failed to remove %s: %v", target.Name, tmpPath, rmErr)
			}
		}()

		if err := m.compressor.DecompressFile(job.FilePath, tmpPath); err != nil {
			return fmt.Errorf("decompression: %w", err)
		}
		source = tmpPath
	}

	m.logger.Infof("[%s] Restoring backup %s (%s)", target.Name, job.ID, filepath.Base(job.FilePath))
	if err := strat.Restore(ctx, source, target); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	m.logger.Infof("[%s] Restore of %s completed in %s", target.Name, job.ID, time.Since(start).Round(time.Millisecond))
	return nil
}

// DeleteBackup removes the artifact and the job record. Unknown ids yield false.
func (m *BackupManager) DeleteBackup(ctx context.Context, id string) (bool, error) {
	job, err := m.store.GetBackup(id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	if m.CancelBackup(id) {
		if err := m.Wait(ctx, id); err != nil {
			return false, err
		}
	}

	for _, p := range []string{job.FilePath, strings.TrimSuffix(job.FilePath, ".gz")} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("failed to remove backup file: %w", err)
		}
	}
	return m.store.DeleteBackup(id)
}

// VerifyBackup checks that the artifact is still present and non-empty.
// It never clears the verified flag and never changes the status.
func (m *BackupManager) VerifyBackup(id string) (bool, error) {
	job, err := m.store.GetBackup(id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	info, err := os.Stat(job.FilePath)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false, nil
	}
	if _, err := m.store.UpdateBackup(id, domain.BackupUpdate{Verified: domain.Ptr(true)}); err != nil {
		return false, err
	}
	return true, nil
}

func (m *BackupManager) GetBackup(id string) (*domain.BackupJob, error) {
	return m.store.GetBackup(id)
}

// GetAllBackups lists jobs newest first; an empty connectionID lists all.
func (m *BackupManager) GetAllBackups(connectionID string) ([]domain.BackupJob, error) {
	return m.store.GetAllBackups(connectionID)
}

// TestConnection runs the engine's probe against cfg on a throwaway session.
func (m *BackupManager) TestConnection(ctx context.Context, cfg domain.ConnectionConfig) domain.TestResult {
	conn, err := m.connectors(cfg.Type, m.logger)
	if err != nil {
		return domain.TestResult{Success: false, Message: err.Error()}
	}
	return conn.TestConnection(ctx, cfg)
}
