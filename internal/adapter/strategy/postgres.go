package strategy

import (
	"context"

	"github.com/semmidev/dbvault/internal/domain"
)

// pgDump drives pg_dump, psql and pg_restore.
type pgDump struct{}

func (p *pgDump) Tool() string { return "pg_dump" }

func (p *pgDump) Supports(BackupRequest) bool { return true }

func (p *pgDump) RestoreTool(kind ArtifactKind) (string, bool) {
	switch kind {
	case ArtifactSQL:
		return "psql", true
	case ArtifactPGCustom:
		return "pg_restore", true
	}
	return "", false
}

func pgEnv(cfg domain.ConnectionConfig) []string {
	env := []string{"PGPASSWORD=" + cfg.Password, "PGCONNECT_TIMEOUT=10"}
	if cfg.SSLMode != "" {
		env = append(env, "PGSSLMODE="+cfg.SSLMode)
	}
	return env
}

func pgConnArgs(cfg domain.ConnectionConfig) []string {
	args := hostPortArgs(cfg)
	if cfg.Username != "" {
		args = append(args, "--username="+cfg.Username)
	}
	return append(args, "--no-password")
}

func (p *pgDump) Backup(ctx context.Context, req BackupRequest) error {
	args := append(pgConnArgs(req.Conn),
		"--format=plain",
		"--no-owner",
		"--file="+req.OutputPath,
	)

	switch req.Job.BackupType {
	case domain.BackupSchemaOnly:
		args = append(args, "--schema-only")
	case domain.BackupDataOnly:
		args = append(args, "--data-only")
	}
	// pg_dump refuses --clean together with --data-only
	if req.Job.BackupType.IncludesSchema() {
		args = append(args, "--clean", "--if-exists")
	}
	for _, t := range req.scope() {
		args = append(args, "--table="+t)
	}
	args = append(args, req.Conn.Database)

	cmd := toolCmd{name: "pg_dump", args: args, env: pgEnv(req.Conn)}
	if err := cmd.run(ctx); err != nil {
		cleanupOnError(req.OutputPath, &err)
		return err
	}
	req.report(1, 1)
	return nil
}

func (p *pgDump) Restore(ctx context.Context, filePath string, cfg domain.ConnectionConfig) error {
	kind, err := Sniff(filePath)
	if err != nil {
		return err
	}

	if kind == ArtifactPGCustom {
		args := append(pgConnArgs(cfg),
			"--clean",
			"--if-exists",
			"--no-owner",
			"--exit-on-error",
			"--dbname="+cfg.Database,
			filePath,
		)
		return toolCmd{name: "pg_restore", args: args, env: pgEnv(cfg)}.run(ctx)
	}

	args := append(pgConnArgs(cfg),
		"--no-psqlrc",
		"--quiet",
		"--set=ON_ERROR_STOP=1",
		"--dbname="+cfg.Database,
		"--file="+filePath,
	)
	return toolCmd{name: "psql", args: args, env: pgEnv(cfg)}.run(ctx)
}
