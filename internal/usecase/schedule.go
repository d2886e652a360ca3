package usecase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/semmidev/dbvault/internal/domain"
)

// ScheduleRequest holds the caller-supplied fields of a new schedule.
type ScheduleRequest struct {
	Name         string
	ConnectionID string
	BackupType   domain.BackupType
	Tables       []string
	Compress     bool
	Cron         string
	Enabled      bool
}

func (r ScheduleRequest) validate() error {
	if strings.TrimSpace(r.ConnectionID) == "" {
		return errors.New("schedule requires a connection id")
	}
	if strings.TrimSpace(r.Cron) == "" {
		return errors.New("schedule requires a cron expression")
	}
	if !r.BackupType.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidBackupType, r.BackupType)
	}
	if r.BackupType == domain.BackupTables && len(r.Tables) == 0 {
		return domain.ErrTablesRequired
	}
	return nil
}

// CreateSchedule stores a schedule. Running it is up to the caller.
func (m *BackupManager) CreateSchedule(req ScheduleRequest) (*domain.BackupSchedule, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	sched := domain.BackupSchedule{
		ID:           uuid.NewString(),
		Name:         req.Name,
		ConnectionID: req.ConnectionID,
		BackupType:   req.BackupType,
		Compress:     req.Compress,
		Cron:         strings.TrimSpace(req.Cron),
		Enabled:      req.Enabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.BackupType == domain.BackupTables {
		sched.Tables = append([]string(nil), req.Tables...)
	}
	if err := m.store.AddSchedule(sched); err != nil {
		return nil, fmt.Errorf("failed to record schedule: %w", err)
	}
	m.logger.Infof("Created schedule %s (%s) for connection %s", sched.ID, sched.Cron, sched.ConnectionID)
	return &sched, nil
}

func (m *BackupManager) GetSchedule(id string) (*domain.BackupSchedule, error) {
	return m.store.GetSchedule(id)
}

func (m *BackupManager) GetAllSchedules() ([]domain.BackupSchedule, error) {
	return m.store.GetAllSchedules()
}

// UpdateSchedule applies upd and returns ErrScheduleNotFound for unknown ids.
func (m *BackupManager) UpdateSchedule(id string, upd domain.ScheduleUpdate) (*domain.BackupSchedule, error) {
	if upd.BackupType != nil && !upd.BackupType.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidBackupType, *upd.BackupType)
	}
	sched, err := m.store.UpdateSchedule(id, upd)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
	}
	return sched, nil
}

func (m *BackupManager) DeleteSchedule(id string) (bool, error) {
	return m.store.DeleteSchedule(id)
}
