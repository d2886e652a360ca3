package connector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/semmidev/dbvault/internal/domain"
)

type SQLite struct {
	sqlBase
}

func NewSQLite(log domain.Logger) *SQLite {
	return &SQLite{sqlBase{engine: domain.EngineSQLite, log: log, open: openSQLite}}
}

func openSQLite(_ context.Context, cfg domain.ConnectionConfig) (*sql.DB, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	db, err := sql.Open("sqlite", cfg.Database+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return db, nil
}

// TestConnection refuses paths that do not exist instead of creating an empty database.
func (s *SQLite) TestConnection(ctx context.Context, cfg domain.ConnectionConfig) domain.TestResult {
	if _, err := os.Stat(cfg.Database); err != nil {
		return domain.TestResult{Message: fmt.Sprintf("database file not accessible: %v", err)}
	}
	return s.sqlBase.TestConnection(ctx, cfg)
}

func (s *SQLite) GetSchemas(ctx context.Context) ([]string, error) {
	db, _, err := s.session()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "PRAGMA database_list")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			seq        int
			name, file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return nil, err
		}
		names = append(names, name.String)
	}
	return names, rows.Err()
}

func (s *SQLite) GetTables(ctx context.Context, _ string) ([]string, error) {
	return s.queryStrings(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
}

func (s *SQLite) GetColumns(ctx context.Context, _ string, table string) ([]domain.Column, error) {
	db, _, err := s.session()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteDouble(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, dataType   string
			def              sql.NullString
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &def, &pk); err != nil {
			return nil, err
		}
		col := domain.Column{Name: name, DataType: dataType, IsNullable: notNull == 0}
		if def.Valid {
			col.Default = &def.String
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return cols, nil
}

func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
