package domain

import "time"

type ProgressUpdate struct {
	ConnectionName string `json:"connection_name,omitempty"`
	Progress       int    `json:"progress"`
	FileSize       int64  `json:"file_size,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Notifier is the live progress channel. Delivery is best effort; the job
// store remains the source of truth.
type Notifier interface {
	NotifyBackupUpdate(jobID string, status BackupStatus, data ProgressUpdate)
}

type BackupEvent struct {
	JobID  string         `json:"job_id"`
	Status BackupStatus   `json:"status"`
	Data   ProgressUpdate `json:"data"`
	At     time.Time      `json:"at"`
}
