package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/semmidev/dbvault/internal/domain"
)

type scheduleManager interface {
	CreateBackup(ctx context.Context, cfg domain.ConnectionConfig, name string, backupType domain.BackupType, tables []string, compress bool) (*domain.BackupJob, error)
	GetAllSchedules() ([]domain.BackupSchedule, error)
	UpdateSchedule(id string, upd domain.ScheduleUpdate) (*domain.BackupSchedule, error)
}

type cronScheduler interface {
	AddJob(key, spec string, job func(context.Context) error) error
	Remove(key string) bool
}

// ScheduleRunner keeps the cron entries in line with the stored schedules
// and turns each activation into a CreateBackup call.
type ScheduleRunner struct {
	manager   scheduleManager
	scheduler cronScheduler
	resolve   func(connectionID string) (domain.ConnectionConfig, error)
	logger    domain.Logger
	now       func() time.Time

	mu sync.Mutex
	// loaded maps schedule ids to the spec they were registered with.
	loaded map[string]string
}

func NewScheduleRunner(
	manager scheduleManager,
	scheduler cronScheduler,
	resolve func(connectionID string) (domain.ConnectionConfig, error),
	logger domain.Logger,
) *ScheduleRunner {
	return &ScheduleRunner{
		manager:   manager,
		scheduler: scheduler,
		resolve:   resolve,
		logger:    logger,
		now:       time.Now,
		loaded:    make(map[string]string),
	}
}

func scheduleKey(id string) string {
	return "schedule:" + id
}

// Reload registers new or changed enabled schedules and drops the rest.
// It returns the number of active schedules.
func (r *ScheduleRunner) Reload() (int, error) {
	schedules, err := r.manager.GetAllSchedules()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]domain.BackupSchedule, len(schedules))
	for _, s := range schedules {
		if s.Enabled {
			wanted[s.ID] = s
		}
	}

	for id := range r.loaded {
		if _, ok := wanted[id]; !ok {
			r.scheduler.Remove(scheduleKey(id))
			delete(r.loaded, id)
			r.logger.Infof("Unscheduled %s", id)
		}
	}

	for id, s := range wanted {
		if spec, ok := r.loaded[id]; ok && spec == s.Cron {
			continue
		}
		scheduleID := id
		if err := r.scheduler.AddJob(scheduleKey(id), s.Cron, func(ctx context.Context) error {
			return r.Run(ctx, scheduleID)
		}); err != nil {
			r.logger.Errorf("Failed to schedule %s (%s): %v", s.Name, s.Cron, err)
			continue
		}
		r.loaded[id] = s.Cron
		r.logger.Infof("✓ Scheduled %s for %s: %s", s.Name, s.ConnectionID, s.Cron)
	}

	return len(r.loaded), nil
}

// Run starts a backup for the schedule and records the run time. The
// schedule is re-read so edits made since loading apply.
func (r *ScheduleRunner) Run(ctx context.Context, scheduleID string) error {
	schedules, err := r.manager.GetAllSchedules()
	if err != nil {
		return err
	}
	var sched *domain.BackupSchedule
	for i := range schedules {
		if schedules[i].ID == scheduleID {
			sched = &schedules[i]
			break
		}
	}
	if sched == nil {
		return fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, scheduleID)
	}
	if !sched.Enabled {
		return nil
	}

	conn, err := r.resolve(sched.ConnectionID)
	if err != nil {
		return err
	}

	name := sched.Name
	if name == "" {
		name = "scheduled"
	}
	r.logger.Infof("=== Triggered scheduled backup %s for %s ===", name, conn.Name)

	job, err := r.manager.CreateBackup(ctx, conn, name, sched.BackupType, sched.Tables, sched.Compress)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", sched.ID, err)
	}

	ranAt := r.now().UTC()
	if _, err := r.manager.UpdateSchedule(sched.ID, domain.ScheduleUpdate{LastRunAt: &ranAt}); err != nil {
		r.logger.Warnf("Failed to record last run of %s: %v", sched.ID, err)
	}
	r.logger.Infof("Scheduled backup %s queued as job %s", name, job.ID)
	return nil
}
