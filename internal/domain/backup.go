package domain

import (
	"slices"
	"time"
)

type BackupType string

const (
	BackupFull       BackupType = "full"
	BackupSchemaOnly BackupType = "schema_only"
	BackupDataOnly   BackupType = "data_only"
	BackupTables     BackupType = "tables"
)

func (t BackupType) Valid() bool {
	switch t {
	case BackupFull, BackupSchemaOnly, BackupDataOnly, BackupTables:
		return true
	}
	return false
}

// IncludesSchema reports whether DROP/CREATE statements belong in the artifact.
func (t BackupType) IncludesSchema() bool {
	return t == BackupFull || t == BackupSchemaOnly || t == BackupTables
}

// IncludesData reports whether row data belongs in the artifact.
func (t BackupType) IncludesData() bool {
	return t == BackupFull || t == BackupDataOnly || t == BackupTables
}

type BackupStatus string

const (
	StatusPending    BackupStatus = "pending"
	StatusInProgress BackupStatus = "in_progress"
	StatusCompleted  BackupStatus = "completed"
	StatusFailed     BackupStatus = "failed"
)

func (s BackupStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BackupJob is the durable record of one backup attempt.
type BackupJob struct {
	ID             string       `json:"id"`
	ConnectionID   string       `json:"connection_id"`
	ConnectionName string       `json:"connection_name,omitempty"`
	Name           string       `json:"name"`
	BackupType     BackupType   `json:"backup_type"`
	FilePath       string       `json:"file_path"`
	Status         BackupStatus `json:"status"`
	Tables         []string     `json:"tables,omitempty"`
	Compressed     bool         `json:"compressed"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	FileSize       int64        `json:"file_size"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	Verified       bool         `json:"verified"`
}

func (j BackupJob) Clone() BackupJob {
	c := j
	c.Tables = slices.Clone(j.Tables)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// BackupUpdate is a shallow patch: only non-nil fields are applied.
type BackupUpdate struct {
	Status       *BackupStatus
	FilePath     *string
	CompletedAt  *time.Time
	FileSize     *int64
	ErrorMessage *string
	Verified     *bool
}

func (u BackupUpdate) Apply(j *BackupJob) {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.FilePath != nil {
		j.FilePath = *u.FilePath
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		j.CompletedAt = &t
	}
	if u.FileSize != nil {
		j.FileSize = *u.FileSize
	}
	if u.ErrorMessage != nil {
		j.ErrorMessage = *u.ErrorMessage
	}
	if u.Verified != nil {
		j.Verified = *u.Verified
	}
}

// BackupSchedule describes a recurring backup. The core only stores it.
type BackupSchedule struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	ConnectionID string     `json:"connection_id"`
	BackupType   BackupType `json:"backup_type"`
	Tables       []string   `json:"tables,omitempty"`
	Compress     bool       `json:"compress"`
	Cron         string     `json:"cron"`
	Enabled      bool       `json:"enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
}

func (s BackupSchedule) Clone() BackupSchedule {
	c := s
	c.Tables = slices.Clone(s.Tables)
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		c.LastRunAt = &t
	}
	return c
}

type ScheduleUpdate struct {
	Name       *string
	BackupType *BackupType
	Tables     *[]string
	Compress   *bool
	Cron       *string
	Enabled    *bool
	LastRunAt  *time.Time
}

func (u ScheduleUpdate) Apply(s *BackupSchedule) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.BackupType != nil {
		s.BackupType = *u.BackupType
	}
	if u.Tables != nil {
		s.Tables = slices.Clone(*u.Tables)
	}
	if u.Compress != nil {
		s.Compress = *u.Compress
	}
	if u.Cron != nil {
		s.Cron = *u.Cron
	}
	if u.Enabled != nil {
		s.Enabled = *u.Enabled
	}
	if u.LastRunAt != nil {
		t := *u.LastRunAt
		s.LastRunAt = &t
	}
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}
