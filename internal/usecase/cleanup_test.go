package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/logger"

	. "github.com/smartystreets/goconvey/convey"
)

type memoryStorage struct {
	mu        sync.Mutex
	files     map[string]string
	oldErr    error
	old       []string
	uploadErr error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{files: map[string]string{}}
}

func (m *memoryStorage) Upload(_ context.Context, localPath, remoteName string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[remoteName] = string(data)
	return nil
}

func (m *memoryStorage) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for n := range m.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memoryStorage) Delete(_ context.Context, remoteName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[remoteName]; !ok {
		return errors.New("not found")
	}
	delete(m.files, remoteName)
	return nil
}

func (m *memoryStorage) GetOldFiles(context.Context, time.Time) ([]string, error) {
	return m.old, m.oldErr
}

type staticJobs struct {
	jobs []domain.BackupJob
	err  error
}

func (s staticJobs) GetAllBackups(string) ([]domain.BackupJob, error) {
	return s.jobs, s.err
}

func TestCleanup(t *testing.T) {
	Convey("Given a remote target holding copies of recorded jobs and orphans", t, func() {
		now := time.Now().UTC()
		stamp := func(at time.Time) string { return at.Format("2006-01-02T150405") + "123Z" }
		monthAgo := now.AddDate(0, 0, -30)

		oldJob := "main_" + stamp(monthAgo) + ".sql.gz"
		freshJob := "main_" + stamp(now) + ".sql.gz"
		// the name says old, the record says it was created today
		renamedJob := "main_" + stamp(monthAgo) + "_2.sql.gz"
		oldOrphan := "gone_" + stamp(monthAgo) + ".sql.gz"
		freshOrphan := "gone_" + stamp(now) + ".sql.gz"

		jobs := staticJobs{jobs: []domain.BackupJob{
			{ID: "1", FilePath: "/data/files/" + oldJob, CreatedAt: monthAgo},
			{ID: "2", FilePath: "/data/files/" + freshJob, CreatedAt: now},
			{ID: "3", FilePath: "/data/files/" + renamedJob, CreatedAt: now},
		}}

		stor := newMemoryStorage()
		for _, name := range []string{oldJob, freshJob, renamedJob, oldOrphan, freshOrphan, "notes.txt"} {
			stor.files[name] = "x"
		}
		targets := []UploadTarget{{Name: "mem", Storage: stor}}
		remaining := func() []string {
			names, _ := stor.List(context.Background())
			return names
		}

		Convey("When the target cannot age files itself", func() {
			stor.oldErr = errors.New("unsupported")
			So(NewCleanup(jobs, targets, logger.NewNop(), 7).Execute(context.Background()), ShouldBeNil)

			Convey("Recorded copies should be aged by their job and orphans by their name", func() {
				names := remaining()
				So(names, ShouldNotContain, oldJob)
				So(names, ShouldNotContain, oldOrphan)
				So(names, ShouldContain, freshJob)
				So(names, ShouldContain, renamedJob)
				So(names, ShouldContain, freshOrphan)
				So(names, ShouldContain, "notes.txt")
			})
		})

		Convey("When the target reports old files", func() {
			stor.old = []string{"notes.txt", renamedJob}
			So(NewCleanup(jobs, targets, logger.NewNop(), 7).Execute(context.Background()), ShouldBeNil)

			Convey("Only orphans among them should be deleted, plus expired recorded copies", func() {
				names := remaining()
				So(names, ShouldNotContain, "notes.txt")
				So(names, ShouldNotContain, oldJob)
				So(names, ShouldContain, renamedJob)
				So(names, ShouldContain, oldOrphan)
				So(len(names), ShouldEqual, 4)
			})
		})

		Convey("When retention is disabled", func() {
			stor.oldErr = errors.New("unsupported")
			So(NewCleanup(jobs, targets, logger.NewNop(), 0).Execute(context.Background()), ShouldBeNil)

			Convey("Nothing should be deleted", func() {
				So(len(remaining()), ShouldEqual, 6)
			})
		})

		Convey("When the job records cannot be read", func() {
			err := NewCleanup(staticJobs{err: errors.New("corrupt")}, targets, logger.NewNop(), 7).Execute(context.Background())

			Convey("Cleanup should fail without deleting anything", func() {
				So(err, ShouldNotBeNil)
				So(len(remaining()), ShouldEqual, 6)
			})
		})
	})

	Convey("extractTimestamp should parse artifact names", t, func() {
		ts, err := extractTimestamp("mydb_2024-03-01T102030456Z_2.sql.gz")
		So(err, ShouldBeNil)
		So(ts.Equal(time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)), ShouldBeTrue)

		_, err = extractTimestamp("random.sql")
		So(err, ShouldNotBeNil)
	})
}

func TestReplicate(t *testing.T) {
	Convey("Given two upload targets", t, func() {
		dir := t.TempDir()
		artifact := filepath.Join(dir, "main_2024-03-01T102030456Z.sql.gz")
		So(os.WriteFile(artifact, []byte("payload"), 0644), ShouldBeNil)

		good, bad := newMemoryStorage(), newMemoryStorage()
		bad.uploadErr = errors.New("network down")
		rep := NewReplicate([]UploadTarget{{Name: "good", Storage: good}, {Name: "bad", Storage: bad}}, logger.NewNop(), time.Minute)

		Convey("A completed job should reach every healthy target", func() {
			rep.Replicate(context.Background(), domain.BackupJob{ID: "j", Status: domain.StatusCompleted, FilePath: artifact})
			So(good.files["main_2024-03-01T102030456Z.sql.gz"], ShouldEqual, "payload")
			So(bad.files, ShouldBeEmpty)
		})

		Convey("Jobs that did not complete should be ignored", func() {
			rep.Replicate(context.Background(), domain.BackupJob{ID: "j", Status: domain.StatusFailed, FilePath: artifact})
			So(good.files, ShouldBeEmpty)
		})
	})
}
