package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/semmidev/dbvault/internal/adapter/compressor"
	"github.com/semmidev/dbvault/internal/adapter/store"
	"github.com/semmidev/dbvault/internal/adapter/strategy"
	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/logger"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeStrategy struct {
	mu         sync.Mutex
	content    string
	backupErr  error
	restoreErr error
	block      chan struct{}

	requests      []strategy.BackupRequest
	restoredPath  string
	restoredBody  string
	restoreTarget domain.ConnectionConfig
}

func (f *fakeStrategy) Backup(ctx context.Context, req strategy.BackupRequest) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-block:
		}
	}
	req.Progress(1, 2)
	req.Progress(2, 2)
	if f.backupErr != nil {
		os.WriteFile(req.OutputPath, []byte("partial"), 0644)
		return f.backupErr
	}
	return os.WriteFile(req.OutputPath, []byte(f.content), 0644)
}

func (f *fakeStrategy) Restore(_ context.Context, filePath string, cfg domain.ConnectionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restoredPath = filePath
	f.restoreTarget = cfg
	if data, err := os.ReadFile(filePath); err == nil {
		f.restoredBody = string(data)
	}
	return f.restoreErr
}

type notification struct {
	jobID  string
	status domain.BackupStatus
	data   domain.ProgressUpdate
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) NotifyBackupUpdate(jobID string, status domain.BackupStatus, data domain.ProgressUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{jobID, status, data})
}

func (n *recordingNotifier) progressFor(jobID string) []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []int
	for _, e := range n.events {
		if e.jobID == jobID {
			out = append(out, e.data.Progress)
		}
	}
	return out
}

func (n *recordingNotifier) last(jobID string) notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out notification
	for _, e := range n.events {
		if e.jobID == jobID {
			out = e
		}
	}
	return out
}

type recordingReplicator struct {
	mu   sync.Mutex
	jobs []domain.BackupJob
}

func (r *recordingReplicator) Replicate(_ context.Context, job domain.BackupJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

type managerFixture struct {
	manager  *BackupManager
	strat    *fakeStrategy
	notifier *recordingNotifier
	fs       afero.Fs
	docPath  string
	filesDir string
}

func newManagerFixture(t *testing.T) *managerFixture {
	fs := afero.NewMemMapFs()
	docPath := "/data/backups/backups.json"
	st := store.NewJSON(fs, docPath)

	strat := &fakeStrategy{content: "CREATE TABLE users (id int);\n"}
	reg := strategy.NewRegistry()
	reg.Register(domain.EnginePostgreSQL, strat)

	n := &recordingNotifier{}
	filesDir := filepath.Join(t.TempDir(), "files")
	connectors := func(domain.EngineType, domain.Logger) (domain.Connector, error) {
		return nil, errors.New("no connectors in tests")
	}
	m := NewBackupManager(st, reg, compressor.NewPgzip(1), n, connectors, logger.NewNop(), filesDir)
	t.Cleanup(func() { m.Close(context.Background()) })

	return &managerFixture{manager: m, strat: strat, notifier: n, fs: fs, docPath: docPath, filesDir: filesDir}
}

var mydb = domain.ConnectionConfig{
	ID:       "conn-1",
	Name:     "mydb",
	Type:     domain.EnginePostgreSQL,
	Host:     "localhost",
	Database: "app",
}

func createAndWait(f *managerFixture, typ domain.BackupType, tables []string, compress bool) *domain.BackupJob {
	job, err := f.manager.CreateBackup(context.Background(), mydb, "nightly", typ, tables, compress)
	So(err, ShouldBeNil)
	So(f.manager.Wait(context.Background(), job.ID), ShouldBeNil)
	stored, err := f.manager.GetBackup(job.ID)
	So(err, ShouldBeNil)
	So(stored, ShouldNotBeNil)
	return stored
}

func TestCreateBackup(t *testing.T) {
	Convey("Given a backup manager", t, func() {
		f := newManagerFixture(t)
		ctx := context.Background()

		Convey("A compressed full backup should return a pending job and then complete", func() {
			job, err := f.manager.CreateBackup(ctx, mydb, "nightly", domain.BackupFull, nil, true)
			So(err, ShouldBeNil)
			So(job.Status, ShouldEqual, domain.StatusPending)
			So(job.FilePath, ShouldEndWith, ".sql.gz")
			So(filepath.Base(job.FilePath), ShouldStartWith, "mydb_")
			So(job.ConnectionID, ShouldEqual, "conn-1")

			So(f.manager.Wait(ctx, job.ID), ShouldBeNil)
			stored, err := f.manager.GetBackup(job.ID)
			So(err, ShouldBeNil)
			So(stored.Status, ShouldEqual, domain.StatusCompleted)
			So(stored.FileSize, ShouldBeGreaterThan, 0)
			So(stored.CompletedAt, ShouldNotBeNil)
			So(stored.FilePath, ShouldEqual, job.FilePath)

			_, err = os.Stat(stored.FilePath)
			So(err, ShouldBeNil)
			_, err = os.Stat(strings.TrimSuffix(stored.FilePath, ".gz"))
			So(os.IsNotExist(err), ShouldBeTrue)

			So(f.notifier.progressFor(job.ID), ShouldResemble, []int{0, 25, 50, 75, 85, 100})
			last := f.notifier.last(job.ID)
			So(last.status, ShouldEqual, domain.StatusCompleted)
			So(last.data.FileSize, ShouldEqual, stored.FileSize)
			So(last.data.ConnectionName, ShouldEqual, "mydb")
		})

		Convey("An uncompressed backup should skip the compression checkpoint", func() {
			stored := createAndWait(f, domain.BackupSchemaOnly, nil, false)
			So(stored.Status, ShouldEqual, domain.StatusCompleted)
			So(stored.FilePath, ShouldEndWith, ".sql")
			So(stored.Compressed, ShouldBeFalse)
			So(f.notifier.progressFor(stored.ID), ShouldResemble, []int{0, 25, 50, 75, 100})
		})

		Convey("A tables backup should pass the table list to the strategy", func() {
			stored := createAndWait(f, domain.BackupTables, []string{"users"}, false)
			So(stored.Tables, ShouldResemble, []string{"users"})
			So(f.strat.requests[0].Tables, ShouldResemble, []string{"users"})
			So(f.strat.requests[0].OutputPath, ShouldEqual, stored.FilePath)
		})

		Convey("Two backups in the same instant should get distinct files", func() {
			fixed := time.Date(2024, 3, 1, 10, 20, 30, 456000000, time.UTC)
			f.manager.now = func() time.Time { return fixed }

			first := createAndWait(f, domain.BackupFull, nil, false)
			second := createAndWait(f, domain.BackupFull, nil, false)

			So(filepath.Base(first.FilePath), ShouldEqual, "mydb_2024-03-01T102030456Z.sql")
			So(filepath.Base(second.FilePath), ShouldEqual, "mydb_2024-03-01T102030456Z_2.sql")
			So(first.Status, ShouldEqual, domain.StatusCompleted)
			So(second.Status, ShouldEqual, domain.StatusCompleted)
		})

		Convey("Invalid requests should be rejected without recording a job", func() {
			_, err := f.manager.CreateBackup(ctx, mydb, "x", domain.BackupType("incremental"), nil, false)
			So(errors.Is(err, domain.ErrInvalidBackupType), ShouldBeTrue)

			_, err = f.manager.CreateBackup(ctx, mydb, "x", domain.BackupTables, nil, false)
			So(errors.Is(err, domain.ErrTablesRequired), ShouldBeTrue)

			other := mydb
			other.Type = domain.EngineMongoDB
			_, err = f.manager.CreateBackup(ctx, other, "x", domain.BackupFull, nil, false)
			So(errors.Is(err, domain.ErrUnknownEngine), ShouldBeTrue)

			jobs, err := f.manager.GetAllBackups("")
			So(err, ShouldBeNil)
			So(jobs, ShouldBeEmpty)
		})

		Convey("A failing strategy should mark the job failed and remove the partial file", func() {
			f.strat.backupErr = errors.New("pg_dump failed: exit status 1")
			stored := createAndWait(f, domain.BackupFull, nil, true)

			So(stored.Status, ShouldEqual, domain.StatusFailed)
			So(stored.ErrorMessage, ShouldContainSubstring, "pg_dump failed")
			So(stored.CompletedAt, ShouldBeNil)
			_, err := os.Stat(strings.TrimSuffix(stored.FilePath, ".gz"))
			So(os.IsNotExist(err), ShouldBeTrue)

			last := f.notifier.last(stored.ID)
			So(last.status, ShouldEqual, domain.StatusFailed)
			So(last.data.Error, ShouldContainSubstring, "pg_dump failed")
		})

		Convey("An empty artifact should fail the job", func() {
			f.strat.content = ""
			stored := createAndWait(f, domain.BackupFull, nil, false)
			So(stored.Status, ShouldEqual, domain.StatusFailed)
			So(stored.ErrorMessage, ShouldContainSubstring, "empty")
		})

		Convey("Cancelling a running job should fail it", func() {
			f.strat.block = make(chan struct{})
			job, err := f.manager.CreateBackup(ctx, mydb, "slow", domain.BackupFull, nil, false)
			So(err, ShouldBeNil)

			So(f.manager.CancelBackup(job.ID), ShouldBeTrue)
			So(f.manager.Wait(ctx, job.ID), ShouldBeNil)
			So(f.manager.CancelBackup(job.ID), ShouldBeFalse)

			stored, _ := f.manager.GetBackup(job.ID)
			So(stored.Status, ShouldEqual, domain.StatusFailed)
			So(stored.ErrorMessage, ShouldContainSubstring, "context canceled")
		})

		Convey("Completed jobs should be handed to the replicator", func() {
			rep := &recordingReplicator{}
			f.manager.SetReplicator(rep)
			stored := createAndWait(f, domain.BackupFull, nil, true)
			So(len(rep.jobs), ShouldEqual, 1)
			So(rep.jobs[0].ID, ShouldEqual, stored.ID)
			So(rep.jobs[0].Status, ShouldEqual, domain.StatusCompleted)
		})

		Convey("A closed manager should refuse new jobs", func() {
			So(f.manager.Close(ctx), ShouldBeNil)
			_, err := f.manager.CreateBackup(ctx, mydb, "late", domain.BackupFull, nil, false)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRestoreBackup(t *testing.T) {
	Convey("Given a completed compressed backup", t, func() {
		f := newManagerFixture(t)
		ctx := context.Background()
		job := createAndWait(f, domain.BackupFull, nil, true)
		So(job.Status, ShouldEqual, domain.StatusCompleted)

		target := mydb
		target.Name = "staging"

		Convey("Restore should decompress to a temp file and remove it afterwards", func() {
			So(f.manager.RestoreBackup(ctx, *job, target), ShouldBeNil)
			So(f.strat.restoredPath, ShouldContainSubstring, job.ID)
			So(f.strat.restoredPath, ShouldNotEqual, job.FilePath)
			So(f.strat.restoredBody, ShouldEqual, f.strat.content)
			So(f.strat.restoreTarget.Name, ShouldEqual, "staging")

			_, err := os.Stat(f.strat.restoredPath)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("The temp file should be removed even when the restore fails", func() {
			f.strat.restoreErr = errors.New("psql failed")
			err := f.manager.RestoreBackup(ctx, *job, target)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "psql failed")

			_, statErr := os.Stat(f.strat.restoredPath)
			So(os.IsNotExist(statErr), ShouldBeTrue)

			stored, _ := f.manager.GetBackup(job.ID)
			So(stored.Status, ShouldEqual, domain.StatusCompleted)
		})

		Convey("A missing artifact should be reported", func() {
			So(os.Remove(job.FilePath), ShouldBeNil)
			So(f.manager.RestoreBackup(ctx, *job, target), ShouldNotBeNil)
			So(f.strat.restoredPath, ShouldBeEmpty)
		})
	})

	Convey("An uncompressed backup should be restored in place", t, func() {
		f := newManagerFixture(t)
		job := createAndWait(f, domain.BackupFull, nil, false)
		So(f.manager.RestoreBackup(context.Background(), *job, mydb), ShouldBeNil)
		So(f.strat.restoredPath, ShouldEqual, job.FilePath)
		_, err := os.Stat(job.FilePath)
		So(err, ShouldBeNil)
	})
}

func TestDeleteAndVerifyBackup(t *testing.T) {
	Convey("Given a completed backup", t, func() {
		f := newManagerFixture(t)
		ctx := context.Background()
		job := createAndWait(f, domain.BackupFull, nil, false)

		Convey("Deleting an unknown id should return false and leave the document untouched", func() {
			before, err := afero.ReadFile(f.fs, f.docPath)
			So(err, ShouldBeNil)

			ok, err := f.manager.DeleteBackup(ctx, "nonexistent-id")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			after, err := afero.ReadFile(f.fs, f.docPath)
			So(err, ShouldBeNil)
			So(string(after), ShouldEqual, string(before))
		})

		Convey("Deleting the job should remove the file and the record", func() {
			ok, err := f.manager.DeleteBackup(ctx, job.ID)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			_, err = os.Stat(job.FilePath)
			So(os.IsNotExist(err), ShouldBeTrue)
			stored, _ := f.manager.GetBackup(job.ID)
			So(stored, ShouldBeNil)
		})

		Convey("Deleting a job whose file is gone should still drop the record", func() {
			So(os.Remove(job.FilePath), ShouldBeNil)
			ok, err := f.manager.DeleteBackup(ctx, job.ID)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("Verify should flag a present file", func() {
			ok, err := f.manager.VerifyBackup(job.ID)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			stored, _ := f.manager.GetBackup(job.ID)
			So(stored.Verified, ShouldBeTrue)
			So(stored.Status, ShouldEqual, domain.StatusCompleted)

			Convey("and fail closed once the file disappears", func() {
				So(os.Remove(job.FilePath), ShouldBeNil)
				ok, err := f.manager.VerifyBackup(job.ID)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				stored, _ := f.manager.GetBackup(job.ID)
				So(stored.Verified, ShouldBeTrue)
				So(stored.Status, ShouldEqual, domain.StatusCompleted)
			})
		})

		Convey("Verify should reject an empty file and unknown ids", func() {
			So(os.WriteFile(job.FilePath, nil, 0644), ShouldBeNil)
			ok, err := f.manager.VerifyBackup(job.ID)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			ok, err = f.manager.VerifyBackup("missing")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Listing should filter by connection", func() {
			jobs, err := f.manager.GetAllBackups("conn-1")
			So(err, ShouldBeNil)
			So(len(jobs), ShouldEqual, 1)
			jobs, err = f.manager.GetAllBackups("conn-2")
			So(err, ShouldBeNil)
			So(jobs, ShouldBeEmpty)
		})
	})
}

func TestSchedules(t *testing.T) {
	Convey("Given a backup manager", t, func() {
		f := newManagerFixture(t)

		Convey("A valid schedule should be stored and updatable", func() {
			sched, err := f.manager.CreateSchedule(ScheduleRequest{
				Name:         "nightly",
				ConnectionID: "conn-1",
				BackupType:   domain.BackupFull,
				Compress:     true,
				Cron:         "0 0 2 * * *",
				Enabled:      true,
			})
			So(err, ShouldBeNil)
			So(sched.ID, ShouldNotBeEmpty)

			all, err := f.manager.GetAllSchedules()
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 1)

			updated, err := f.manager.UpdateSchedule(sched.ID, domain.ScheduleUpdate{Enabled: domain.Ptr(false)})
			So(err, ShouldBeNil)
			So(updated.Enabled, ShouldBeFalse)

			ok, err := f.manager.DeleteSchedule(sched.ID)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("Invalid schedules should be rejected", func() {
			_, err := f.manager.CreateSchedule(ScheduleRequest{ConnectionID: "c", BackupType: domain.BackupFull})
			So(err, ShouldNotBeNil)
			_, err = f.manager.CreateSchedule(ScheduleRequest{ConnectionID: "c", Cron: "@daily", BackupType: domain.BackupTables})
			So(errors.Is(err, domain.ErrTablesRequired), ShouldBeTrue)
		})

		Convey("Updating an unknown schedule should report it", func() {
			_, err := f.manager.UpdateSchedule("nope", domain.ScheduleUpdate{Enabled: domain.Ptr(true)})
			So(errors.Is(err, domain.ErrScheduleNotFound), ShouldBeTrue)
		})
	})
}

func TestTestConnection(t *testing.T) {
	Convey("A connector factory error should surface as a failed test", t, func() {
		f := newManagerFixture(t)
		res := f.manager.TestConnection(context.Background(), mydb)
		So(res.Success, ShouldBeFalse)
		So(res.Message, ShouldContainSubstring, "no connectors")
	})
}
