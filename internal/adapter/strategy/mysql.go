package strategy

import (
	"context"

	"github.com/semmidev/dbvault/internal/domain"
)

// mysqlDump drives mysqldump and the mysql client.
type mysqlDump struct{}

func (m *mysqlDump) Tool() string { return "mysqldump" }

func (m *mysqlDump) Supports(BackupRequest) bool { return true }

func (m *mysqlDump) RestoreTool(kind ArtifactKind) (string, bool) {
	if kind == ArtifactSQL {
		return "mysql", true
	}
	return "", false
}

// password goes through MYSQL_PWD so it never shows up in the process list
func mysqlEnv(cfg domain.ConnectionConfig) []string {
	return []string{"MYSQL_PWD=" + cfg.Password}
}

func mysqlConnArgs(cfg domain.ConnectionConfig) []string {
	args := append(hostPortArgs(cfg), "--protocol=TCP")
	if cfg.Username != "" {
		args = append(args, "--user="+cfg.Username)
	}
	return args
}

func (m *mysqlDump) Backup(ctx context.Context, req BackupRequest) error {
	args := append(mysqlConnArgs(req.Conn),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--default-character-set=utf8mb4",
		"--result-file="+req.OutputPath,
	)

	switch req.Job.BackupType {
	case domain.BackupSchemaOnly:
		args = append(args, "--no-data", "--routines", "--triggers")
	case domain.BackupDataOnly:
		args = append(args, "--no-create-info", "--skip-triggers")
	case domain.BackupFull:
		args = append(args, "--routines", "--triggers", "--events")
	}

	args = append(args, req.Conn.Database)
	args = append(args, req.scope()...)

	cmd := toolCmd{name: "mysqldump", args: args, env: mysqlEnv(req.Conn)}
	if err := cmd.run(ctx); err != nil {
		cleanupOnError(req.OutputPath, &err)
		return err
	}
	req.report(1, 1)
	return nil
}

func (m *mysqlDump) Restore(ctx context.Context, filePath string, cfg domain.ConnectionConfig) error {
	args := append(mysqlConnArgs(cfg), "--default-character-set=utf8mb4", cfg.Database)
	cmd := toolCmd{name: "mysql", args: args, env: mysqlEnv(cfg)}
	return cmd.runFromFile(ctx, filePath)
}
