package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"github.com/semmidev/dbvault/internal/domain"
)

const documentVersion = 1

type document struct {
	Version   int                     `json:"version"`
	Backups   []domain.BackupJob      `json:"backups"`
	Schedules []domain.BackupSchedule `json:"schedules"`
}

// JSONStore persists every job and schedule in a single JSON document.
// Each operation is a full read-modify-write of that document. mu serializes
// goroutines; on the OS filesystem an advisory lock on <path>.lock also
// serializes other processes, such as CLI commands run next to serve.
type JSONStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewJSON(fs afero.Fs, path string) *JSONStore {
	s := &JSONStore{fs: fs, path: path}
	if _, ok := fs.(*afero.OsFs); ok {
		s.lock = flock.New(path + ".lock")
	}
	return s
}

// locked runs fn holding both the mutex and, when present, the file lock.
func (s *JSONStore) locked(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("failed to create metadata directory: %w", err)
		}
		if err := s.lock.Lock(); err != nil {
			return fmt.Errorf("failed to lock metadata: %w", err)
		}
		defer s.lock.Unlock()
	}
	return fn()
}

// Open creates the document if absent and checks that an existing one parses.
func Open(fs afero.Fs, path string) (*JSONStore, error) {
	s := NewJSON(fs, path)
	if err := s.read(func(*document) {}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) Path() string {
	return s.path
}

func (s *JSONStore) load() (*document, error) {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		doc := &document{Version: documentVersion}
		if err := s.save(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata %s: %w", s.path, err)
	}
	if doc.Version == 0 {
		doc.Version = documentVersion
	}
	return &doc, nil
}

// save writes to a unique sibling temp file and renames it over the document.
func (s *JSONStore) save(doc *document) error {
	if doc.Backups == nil {
		doc.Backups = []domain.BackupJob{}
	}
	if doc.Schedules == nil {
		doc.Schedules = []domain.BackupSchedule{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, filepath.Dir(s.path), "backups-*.json")
	if err != nil {
		return fmt.Errorf("failed to stage metadata: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to write metadata: %w", werr)
	}
	if err := s.fs.Rename(tmp.Name(), s.path); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to replace metadata: %w", err)
	}
	return nil
}

// mutate runs fn under the locks and persists the document when fn reports a change.
func (s *JSONStore) mutate(fn func(doc *document) bool) error {
	return s.locked(func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		if !fn(doc) {
			return nil
		}
		return s.save(doc)
	})
}

func (s *JSONStore) read(fn func(doc *document)) error {
	return s.locked(func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		fn(doc)
		return nil
	})
}

func (s *JSONStore) AddBackup(job domain.BackupJob) error {
	return s.mutate(func(doc *document) bool {
		doc.Backups = append(doc.Backups, job.Clone())
		return true
	})
}

// GetBackup returns nil when the id is unknown.
func (s *JSONStore) GetBackup(id string) (*domain.BackupJob, error) {
	var doc *document
	if err := s.read(func(d *document) { doc = d }); err != nil {
		return nil, err
	}
	for _, b := range doc.Backups {
		if b.ID == id {
			c := b.Clone()
			return &c, nil
		}
	}
	return nil, nil
}

// GetAllBackups returns jobs newest first, optionally filtered by connection.
func (s *JSONStore) GetAllBackups(connectionID string) ([]domain.BackupJob, error) {
	var doc *document
	if err := s.read(func(d *document) { doc = d }); err != nil {
		return nil, err
	}

	jobs := make([]domain.BackupJob, 0, len(doc.Backups))
	for _, b := range doc.Backups {
		if connectionID == "" || b.ConnectionID == connectionID {
			jobs = append(jobs, b.Clone())
		}
	}
	slices.SortStableFunc(jobs, func(a, b domain.BackupJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return jobs, nil
}

// UpdateBackup merges the non-nil fields of upd. Unknown ids yield (nil, nil).
func (s *JSONStore) UpdateBackup(id string, upd domain.BackupUpdate) (*domain.BackupJob, error) {
	var updated *domain.BackupJob
	err := s.mutate(func(doc *document) bool {
		for i := range doc.Backups {
			if doc.Backups[i].ID == id {
				upd.Apply(&doc.Backups[i])
				c := doc.Backups[i].Clone()
				updated = &c
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *JSONStore) DeleteBackup(id string) (bool, error) {
	var found bool
	err := s.mutate(func(doc *document) bool {
		n := len(doc.Backups)
		doc.Backups = slices.DeleteFunc(doc.Backups, func(b domain.BackupJob) bool { return b.ID == id })
		found = len(doc.Backups) != n
		return found
	})
	return found, err
}

func (s *JSONStore) AddSchedule(sched domain.BackupSchedule) error {
	return s.mutate(func(doc *document) bool {
		doc.Schedules = append(doc.Schedules, sched.Clone())
		return true
	})
}

func (s *JSONStore) GetSchedule(id string) (*domain.BackupSchedule, error) {
	var doc *document
	if err := s.read(func(d *document) { doc = d }); err != nil {
		return nil, err
	}
	for _, sc := range doc.Schedules {
		if sc.ID == id {
			c := sc.Clone()
			return &c, nil
		}
	}
	return nil, nil
}

func (s *JSONStore) GetAllSchedules() ([]domain.BackupSchedule, error) {
	var doc *document
	if err := s.read(func(d *document) { doc = d }); err != nil {
		return nil, err
	}
	out := make([]domain.BackupSchedule, 0, len(doc.Schedules))
	for _, sc := range doc.Schedules {
		out = append(out, sc.Clone())
	}
	return out, nil
}

func (s *JSONStore) UpdateSchedule(id string, upd domain.ScheduleUpdate) (*domain.BackupSchedule, error) {
	var updated *domain.BackupSchedule
	err := s.mutate(func(doc *document) bool {
		for i := range doc.Schedules {
			if doc.Schedules[i].ID == id {
				upd.Apply(&doc.Schedules[i])
				doc.Schedules[i].UpdatedAt = time.Now().UTC()
				c := doc.Schedules[i].Clone()
				updated = &c
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *JSONStore) DeleteSchedule(id string) (bool, error) {
	var found bool
	err := s.mutate(func(doc *document) bool {
		n := len(doc.Schedules)
		doc.Schedules = slices.DeleteFunc(doc.Schedules, func(sc domain.BackupSchedule) bool { return sc.ID == id })
		found = len(doc.Schedules) != n
		return found
	})
	return found, err
}
