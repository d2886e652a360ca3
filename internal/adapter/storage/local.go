package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const partialSuffix = ".part"

// LocalStorage mirrors artifacts into a second directory, typically a
// mounted network share or removable disk.
type LocalStorage struct {
	fs       afero.Fs
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return NewLocalFs(afero.NewBasePathFs(afero.NewOsFs(), basePath), basePath), nil
}

// NewLocalFs uses fs as the mirror root. basePath is only reported back.
func NewLocalFs(fs afero.Fs, basePath string) *LocalStorage {
	return &LocalStorage{fs: fs, basePath: basePath}
}

// Upload copies localPath into the mirror under a temporary name and
// renames it into place once complete.
func (l *LocalStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	source, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	name := l.path(remoteName)
	tmpName := name + partialSuffix
	dest, err := l.fs.Create(tmpName)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}

	_, err = io.Copy(dest, &ctxReader{ctx: ctx, r: source})
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = l.fs.Remove(tmpName)
		return fmt.Errorf("failed to copy: %w", err)
	}

	if err := l.fs.Rename(tmpName, name); err != nil {
		_ = l.fs.Remove(tmpName)
		return fmt.Errorf("failed to finalize copy: %w", err)
	}
	return nil
}

func (l *LocalStorage) List(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(l.fs, "/")
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && !isPartial(entry.Name()) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (l *LocalStorage) Delete(ctx context.Context, remoteName string) error {
	if err := l.fs.Remove(l.path(remoteName)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	entries, err := afero.ReadDir(l.fs, "/")
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var oldFiles []string
	for _, entry := range entries {
		if entry.IsDir() || isPartial(entry.Name()) {
			continue
		}
		if entry.ModTime().Before(cutoffTime) {
			oldFiles = append(oldFiles, entry.Name())
		}
	}
	sort.Strings(oldFiles)
	return oldFiles, nil
}

func (l *LocalStorage) BasePath() string {
	return l.basePath
}

// path keeps remote names flat inside the mirror root.
func (l *LocalStorage) path(remoteName string) string {
	return "/" + filepath.Base(remoteName)
}

func isPartial(name string) bool {
	return strings.HasSuffix(name, partialSuffix)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
