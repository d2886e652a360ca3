package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/semmidev/dbvault/internal/domain"
)

type jobLister interface {
	GetAllBackups(connectionID string) ([]domain.BackupJob, error)
}

// Cleanup prunes offsite copies older than the retention window. Local
// artifacts and job records are never touched.
type Cleanup struct {
	jobs          jobLister
	uploadTargets []UploadTarget
	logger        domain.Logger
	retentionDays int
	now           func() time.Time
}

func NewCleanup(
	jobs jobLister,
	uploadTargets []UploadTarget,
	logger domain.Logger,
	retentionDays int,
) *Cleanup {
	return &Cleanup{
		jobs:          jobs,
		uploadTargets: uploadTargets,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Execute ages copies of recorded jobs by the job's creation time. Files no
// job accounts for are aged by the target, or by the stamp in their name
// when the target cannot tell.
func (uc *Cleanup) Execute(ctx context.Context) error {
	if uc.retentionDays <= 0 {
		uc.logger.Infof("Retention disabled, skipping cleanup")
		return nil
	}
	if len(uc.uploadTargets) == 0 {
		return nil
	}

	jobs, err := uc.jobs.GetAllBackups("")
	if err != nil {
		return fmt.Errorf("list backup jobs: %w", err)
	}
	created := make(map[string]time.Time, len(jobs))
	for _, j := range jobs {
		if j.FilePath != "" {
			created[filepath.Base(j.FilePath)] = j.CreatedAt
		}
	}

	cutoff := uc.now().UTC().AddDate(0, 0, -uc.retentionDays)
	uc.logger.Infof("Starting cleanup of copies created before %s (%d jobs on record)",
		cutoff.Format(time.RFC3339), len(created))

	var wg sync.WaitGroup
	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()
			if err := uc.prune(ctx, t, created, cutoff); err != nil {
				uc.logger.Errorf("Cleanup failed for %s: %v", t.Name, err)
			}
		}(target)
	}
	wg.Wait()

	uc.logger.Infof("Cleanup completed")
	return nil
}

func (uc *Cleanup) prune(ctx context.Context, target UploadTarget, created map[string]time.Time, cutoff time.Time) error {
	names, err := target.Storage.List(ctx)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	var expired, orphans []string
	for _, name := range names {
		if at, ok := created[name]; ok {
			if at.Before(cutoff) {
				expired = append(expired, name)
			}
			continue
		}
		orphans = append(orphans, name)
	}
	if len(orphans) > 0 {
		expired = append(expired, uc.expiredOrphans(ctx, target, orphans, cutoff)...)
	}

	deleted := 0
	for _, name := range expired {
		uc.logger.Infof("Deleting old backup from %s: %s", target.Name, name)
		if err := target.Storage.Delete(ctx, name); err != nil {
			uc.logger.Errorf("Failed to delete %s from %s: %v", name, target.Name, err)
			continue
		}
		deleted++
	}

	uc.logger.Infof("Deleted %d old backup(s) from %s", deleted, target.Name)
	return nil
}

func (uc *Cleanup) expiredOrphans(ctx context.Context, target UploadTarget, orphans []string, cutoff time.Time) []string {
	isOrphan := make(map[string]bool, len(orphans))
	for _, name := range orphans {
		isOrphan[name] = true
	}

	old, err := target.Storage.GetOldFiles(ctx, cutoff)
	if err == nil {
		var out []string
		for _, name := range old {
			if isOrphan[name] {
				out = append(out, name)
			}
		}
		return out
	}
	uc.logger.Debugf("%s cannot age files (%v), reading stamps from names", target.Name, err)

	var out []string
	for _, name := range orphans {
		ts, err := extractTimestamp(name)
		if err != nil {
			uc.logger.Warnf("Could not parse timestamp from %s: %v", name, err)
			continue
		}
		if ts.Before(cutoff) {
			out = append(out, name)
		}
	}
	return out
}

// artifactStamp matches the timestamp in {name}_{2024-01-02T030405678Z}.sql[.gz].
var artifactStamp = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})T(\d{6})\d{3}Z`)

func extractTimestamp(filename string) (time.Time, error) {
	matches := artifactStamp.FindStringSubmatch(filename)
	if len(matches) < 3 {
		return time.Time{}, fmt.Errorf("invalid filename format: no timestamp found")
	}
	return time.Parse("2006-01-02T150405", matches[1]+"T"+matches[2])
}
