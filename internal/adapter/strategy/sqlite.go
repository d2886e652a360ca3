package strategy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/semmidev/dbvault/internal/domain"
)

// sqlite3CLI drives the sqlite3 shell.
type sqlite3CLI struct{}

func (s *sqlite3CLI) Tool() string { return "sqlite3" }

// Supports excludes data-only backups: the shell's .dump always carries the
// schema. .dump and .schema match their arguments as LIKE patterns, so
// tables whose names contain _ or % are left to the native strategy.
func (s *sqlite3CLI) Supports(req BackupRequest) bool {
	if req.Job.BackupType == domain.BackupDataOnly {
		return false
	}
	for _, t := range req.scope() {
		if strings.ContainsAny(t, "_%") {
			return false
		}
	}
	return true
}

func (s *sqlite3CLI) RestoreTool(kind ArtifactKind) (string, bool) {
	if kind == ArtifactSQL {
		return "sqlite3", true
	}
	return "", false
}

func (s *sqlite3CLI) Backup(ctx context.Context, req BackupRequest) error {
	if err := requireDatabaseFile(req.Conn); err != nil {
		return err
	}
	command := ".dump"
	if req.Job.BackupType == domain.BackupSchemaOnly {
		command = ".schema"
	}
	// the shell takes each dot-command as one argument
	args := []string{"-bail", req.Conn.Database}
	if tables := req.scope(); len(tables) > 0 {
		for _, t := range tables {
			args = append(args, command+" "+quoteDouble(t))
		}
	} else {
		args = append(args, command)
	}

	cmd := toolCmd{name: "sqlite3", args: args}
	if err := cmd.runToFile(ctx, req.OutputPath); err != nil {
		return err
	}
	req.report(1, 1)
	return nil
}

func (s *sqlite3CLI) Restore(ctx context.Context, filePath string, cfg domain.ConnectionConfig) error {
	cmd := toolCmd{name: "sqlite3", args: []string{"-bail", cfg.Database}}
	return cmd.runFromFile(ctx, filePath)
}

func quoteDouble(name string) string {
	return sqliteDialect.quoteIdent(name)
}

// sqliteNative copies the database file for full backups and writes a SQL
// script for every narrower backup type.
type sqliteNative struct {
	*sqlNative
}

func newSQLiteNative(log domain.Logger) *sqliteNative {
	return &sqliteNative{newSQLNative(domain.EngineSQLite, sqliteDialect, sqliteSessions(log), log)}
}

// requireDatabaseFile stops a backup from creating an empty database at a
// mistyped path.
func requireDatabaseFile(cfg domain.ConnectionConfig) error {
	info, err := os.Stat(cfg.Database)
	if err != nil {
		return fmt.Errorf("database file not accessible: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("database path %s is a directory", cfg.Database)
	}
	return nil
}

func (s *sqliteNative) Backup(ctx context.Context, req BackupRequest) error {
	if err := requireDatabaseFile(req.Conn); err != nil {
		return err
	}
	if req.Job.BackupType != domain.BackupFull {
		return s.sqlNative.Backup(ctx, req)
	}

	sess, err := s.open(ctx, req.Conn)
	if err != nil {
		return err
	}
	// fold the WAL into the main file so the copy is complete
	if res := sess.ExecuteQuery(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); !res.Success {
		s.log.Warnf("[%s] WAL checkpoint failed: %s", req.Conn.Name, res.Error)
	}
	sess.Close()

	n, err := copyFile(ctx, req.Conn.Database, req.OutputPath)
	if err != nil {
		return err
	}
	req.report(1, 1)
	s.log.Infof("[%s] Copied SQLite database file (%s)", req.Conn.Name, humanize.Bytes(uint64(n)))
	return nil
}

func (s *sqliteNative) Restore(ctx context.Context, filePath string, cfg domain.ConnectionConfig) error {
	kind, err := Sniff(filePath)
	if err != nil {
		return err
	}
	if kind != ArtifactSQLiteFile {
		return s.sqlNative.Restore(ctx, filePath, cfg)
	}

	// stage next to the target so the final rename stays on one filesystem
	tmp := filepath.Join(filepath.Dir(cfg.Database), "."+filepath.Base(cfg.Database)+".restore")
	if _, err := copyFile(ctx, filePath, tmp); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(cfg.Database + suffix)
	}
	if err := os.Rename(tmp, cfg.Database); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace database file: %w", err)
	}
	s.log.Infof("[%s] Replaced SQLite database file %s", cfg.Name, cfg.Database)
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func copyFile(ctx context.Context, src, dst string) (n int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create dest file: %w", err)
	}
	defer cleanupOnError(dst, &err)

	n, err = io.Copy(out, ctxReader{ctx: ctx, r: in})
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to copy %s: %w", filepath.Base(src), err)
	}
	return n, nil
}
