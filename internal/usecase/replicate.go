package usecase

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/semmidev/dbvault/internal/domain"
)

// UploadTarget is a named offsite copy destination.
type UploadTarget struct {
	Name    string
	Storage domain.Storage
}

// Replicate copies completed artifacts to every target concurrently.
// Failures are logged and never affect the job.
type Replicate struct {
	uploadTargets []UploadTarget
	logger        domain.Logger
	timeout       time.Duration
}

func NewReplicate(uploadTargets []UploadTarget, logger domain.Logger, timeout time.Duration) *Replicate {
	return &Replicate{
		uploadTargets: uploadTargets,
		logger:        logger,
		timeout:       timeout,
	}
}

func (uc *Replicate) Replicate(ctx context.Context, job domain.BackupJob) {
	if len(uc.uploadTargets) == 0 || job.Status != domain.StatusCompleted {
		return
	}
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	filename := filepath.Base(job.FilePath)
	var wg sync.WaitGroup

	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			uc.logger.Infof("[%s] Uploading %s to %s...", job.ConnectionName, filename, t.Name)
			if err := t.Storage.Upload(ctx, job.FilePath, filename); err != nil {
				uc.logger.Errorf("[%s] Failed to upload to %s: %v", job.ConnectionName, t.Name, err)
			} else {
				uc.logger.Infof("[%s] Successfully uploaded to %s", job.ConnectionName, t.Name)
			}
		}(target)
	}

	wg.Wait()
}
