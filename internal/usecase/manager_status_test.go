package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/semmidev/dbvault/internal/adapter/compressor"
	"github.com/semmidev/dbvault/internal/adapter/store"
	"github.com/semmidev/dbvault/internal/adapter/strategy"
	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/logger"

	. "github.com/smartystreets/goconvey/convey"
)

// statusJournal records every status a job is stored with and can reject
// a number of in_progress writes.
type statusJournal struct {
	JobStore

	mu             sync.Mutex
	history        map[string][]domain.BackupStatus
	failInProgress int
}

func (s *statusJournal) AddBackup(job domain.BackupJob) error {
	if err := s.JobStore.AddBackup(job); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[job.ID] = append(s.history[job.ID], job.Status)
	return nil
}

func (s *statusJournal) UpdateBackup(id string, upd domain.BackupUpdate) (*domain.BackupJob, error) {
	s.mu.Lock()
	if upd.Status != nil && *upd.Status == domain.StatusInProgress && s.failInProgress > 0 {
		s.failInProgress--
		s.mu.Unlock()
		return nil, errors.New("disk full")
	}
	s.mu.Unlock()

	job, err := s.JobStore.UpdateBackup(id, upd)
	if err == nil && upd.Status != nil {
		s.mu.Lock()
		s.history[id] = append(s.history[id], *upd.Status)
		s.mu.Unlock()
	}
	return job, err
}

func (s *statusJournal) statuses(id string) []domain.BackupStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BackupStatus(nil), s.history[id]...)
}

// observingStrategy reads the stored status while the backup runs.
type observingStrategy struct {
	store JobStore
	seen  domain.BackupStatus
}

func (o *observingStrategy) Backup(_ context.Context, req strategy.BackupRequest) error {
	if job, err := o.store.GetBackup(req.Job.ID); err == nil && job != nil {
		o.seen = job.Status
	}
	return os.WriteFile(req.OutputPath, []byte("CREATE TABLE t (id int);\n"), 0644)
}

func (o *observingStrategy) Restore(context.Context, string, domain.ConnectionConfig) error {
	return nil
}

// storedStatusNotifier snapshots the stored status at every event.
type storedStatusNotifier struct {
	store JobStore

	mu     sync.Mutex
	events []domain.BackupStatus
	stored []domain.BackupStatus
}

func (n *storedStatusNotifier) NotifyBackupUpdate(jobID string, status domain.BackupStatus, _ domain.ProgressUpdate) {
	job, _ := n.store.GetBackup(jobID)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, status)
	if job != nil {
		n.stored = append(n.stored, job.Status)
	}
}

func statusRank(s domain.BackupStatus) int {
	switch s {
	case domain.StatusPending:
		return 0
	case domain.StatusInProgress:
		return 1
	}
	return 2
}

func TestStatusProgression(t *testing.T) {
	Convey("Given a manager whose store journals every status", t, func() {
		journal := &statusJournal{
			JobStore: store.NewJSON(afero.NewMemMapFs(), "/data/backups.json"),
			history:  make(map[string][]domain.BackupStatus),
		}
		strat := &observingStrategy{store: journal}
		reg := strategy.NewRegistry()
		reg.Register(domain.EnginePostgreSQL, strat)
		n := &storedStatusNotifier{store: journal}

		m := NewBackupManager(journal, reg, compressor.NewPgzip(1), n, nil, logger.NewNop(), filepath.Join(t.TempDir(), "files"))
		defer m.Close(context.Background())
		ctx := context.Background()

		Convey("A successful job should be stored as pending, in_progress, completed", func() {
			job, err := m.CreateBackup(ctx, mydb, "nightly", domain.BackupFull, nil, true)
			So(err, ShouldBeNil)
			So(m.Wait(ctx, job.ID), ShouldBeNil)

			So(journal.statuses(job.ID), ShouldResemble,
				[]domain.BackupStatus{domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted})
			So(strat.seen, ShouldEqual, domain.StatusInProgress)

			Convey("and every notification should match the stored status", func() {
				n.mu.Lock()
				defer n.mu.Unlock()
				So(len(n.stored), ShouldEqual, len(n.events))
				for i := range n.events {
					So(n.stored[i], ShouldEqual, n.events[i])
				}
				for i := 1; i < len(n.stored); i++ {
					So(statusRank(n.stored[i]), ShouldBeGreaterThanOrEqualTo, statusRank(n.stored[i-1]))
				}
			})
		})

		Convey("A job whose in_progress write fails should still pass through in_progress", func() {
			journal.failInProgress = 1
			job, err := m.CreateBackup(ctx, mydb, "nightly", domain.BackupFull, nil, false)
			So(err, ShouldBeNil)
			So(m.Wait(ctx, job.ID), ShouldBeNil)

			So(journal.statuses(job.ID), ShouldResemble,
				[]domain.BackupStatus{domain.StatusPending, domain.StatusInProgress, domain.StatusFailed})
			stored, err := m.GetBackup(job.ID)
			So(err, ShouldBeNil)
			So(stored.ErrorMessage, ShouldContainSubstring, "disk full")
		})
	})
}
