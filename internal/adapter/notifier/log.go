package notifier

import (
	"github.com/dustin/go-humanize"

	"github.com/semmidev/dbvault/internal/domain"
)

// Log writes every update to the logger.
type Log struct {
	log domain.Logger
}

func NewLog(log domain.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) NotifyBackupUpdate(jobID string, status domain.BackupStatus, data domain.ProgressUpdate) {
	switch status {
	case domain.StatusFailed:
		l.log.Errorf("[%s] Backup %s failed: %s", data.ConnectionName, jobID, data.Error)
	case domain.StatusCompleted:
		l.log.Infof("[%s] Backup %s completed (%s)", data.ConnectionName, jobID, humanize.Bytes(uint64(data.FileSize)))
	default:
		l.log.Debugf("[%s] Backup %s %s %d%%", data.ConnectionName, jobID, status, data.Progress)
	}
}

// Multi forwards every update to each notifier in order.
type Multi []domain.Notifier

func (m Multi) NotifyBackupUpdate(jobID string, status domain.BackupStatus, data domain.ProgressUpdate) {
	for _, n := range m {
		n.NotifyBackupUpdate(jobID, status, data)
	}
}
