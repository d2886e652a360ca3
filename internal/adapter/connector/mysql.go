package connector

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/semmidev/dbvault/internal/domain"
)

type MySQL struct {
	sqlBase
}

func NewMySQL(log domain.Logger) *MySQL {
	return &MySQL{sqlBase{engine: domain.EngineMySQL, log: log, open: openMySQL}}
}

// newMySQLWithDB wraps an existing handle; tests use it with sqlmock.
func newMySQLWithDB(db *sql.DB, cfg domain.ConnectionConfig, log domain.Logger) *MySQL {
	m := NewMySQL(log)
	m.db = db
	m.cfg = cfg
	return m
}

func MySQLDSN(cfg domain.ConnectionConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.HostOrDefault(), strconv.Itoa(cfg.PortOrDefault()))
	c.DBName = cfg.Database
	c.Timeout = 10 * time.Second
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

func openMySQL(_ context.Context, cfg domain.ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", MySQLDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	return db, nil
}

func (m *MySQL) GetSchemas(ctx context.Context) ([]string, error) {
	return m.queryStrings(ctx,
		"SELECT schema_name FROM information_schema.schemata ORDER BY schema_name")
}

// GetTables lists base tables of schema, defaulting to the connected database.
func (m *MySQL) GetTables(ctx context.Context, schema string) ([]string, error) {
	if schema == "" {
		_, cfg, err := m.session()
		if err != nil {
			return nil, err
		}
		schema = cfg.Database
	}
	return m.queryStrings(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name",
		schema)
}

func (m *MySQL) GetColumns(ctx context.Context, schema, table string) ([]domain.Column, error) {
	db, cfg, err := m.session()
	if err != nil {
		return nil, err
	}
	if schema == "" {
		schema = cfg.Database
	}

	rows, err := db.QueryContext(ctx,
		"SELECT column_name, column_type, is_nullable, column_default FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position",
		schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var (
			name, dataType, nullable string
			def                      sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &nullable, &def); err != nil {
			return nil, err
		}
		col := domain.Column{Name: name, DataType: dataType, IsNullable: nullable == "YES"}
		if def.Valid {
			col.Default = &def.String
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", schema, table)
	}
	return cols, nil
}
