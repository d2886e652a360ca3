package connector

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/semmidev/dbvault/internal/domain"
)

// PostgreSQL keeps a single pgx connection per session; sessions are never shared between jobs.
type PostgreSQL struct {
	log domain.Logger

	mu   sync.Mutex
	conn *pgx.Conn
}

func NewPostgreSQL(log domain.Logger) *PostgreSQL {
	return &PostgreSQL{log: log}
}

// PostgresConnString builds a keyword/value connection string.
func PostgresConnString(cfg domain.ConnectionConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	parts := []string{
		kv("host", cfg.HostOrDefault()),
		kv("port", strconv.Itoa(cfg.PortOrDefault())),
		kv("dbname", cfg.Database),
		kv("sslmode", sslMode),
		kv("connect_timeout", "10"),
	}
	if cfg.Username != "" {
		parts = append(parts, kv("user", cfg.Username))
	}
	if cfg.Password != "" {
		parts = append(parts, kv("password", cfg.Password))
	}
	return strings.Join(parts, " ")
}

func kv(key, value string) string {
	if value != "" && !strings.ContainsAny(value, ` '\`) {
		return key + "=" + value
	}
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return key + "='" + value + "'"
}

func (p *PostgreSQL) dial(ctx context.Context, cfg domain.ConnectionConfig) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, PostgresConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return conn, nil
}

func (p *PostgreSQL) Open(ctx context.Context, cfg domain.ConnectionConfig) error {
	conn, err := p.dial(ctx, cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close(ctx)
	}
	p.conn = conn
	return nil
}

func (p *PostgreSQL) Connect(ctx context.Context, cfg domain.ConnectionConfig) bool {
	if err := p.Open(ctx, cfg); err != nil {
		p.log.Errorf("[%s] Connect to postgresql failed: %v", cfg.Name, err)
		return false
	}
	return true
}

func (p *PostgreSQL) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.conn.Close(ctx)
	p.conn = nil
	return err
}

func (p *PostgreSQL) Disconnect(ctx context.Context) bool {
	if err := p.Close(); err != nil {
		p.log.Warnf("[postgresql] Disconnect failed: %v", err)
		return false
	}
	return true
}

func (p *PostgreSQL) TestConnection(ctx context.Context, cfg domain.ConnectionConfig) domain.TestResult {
	conn, err := p.dial(ctx, cfg)
	if err != nil {
		return domain.TestResult{Message: err.Error()}
	}
	defer conn.Close(ctx)

	var version string
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return domain.TestResult{Message: fmt.Sprintf("probe query failed: %v", err)}
	}
	return domain.TestResult{Success: true, Message: version}
}

func (p *PostgreSQL) session() (*pgx.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, errNotConnected
	}
	return p.conn, nil
}

func (p *PostgreSQL) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	conn, err := p.session()
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *PostgreSQL) GetSchemas(ctx context.Context) ([]string, error) {
	return p.queryStrings(ctx, `SELECT schema_name FROM information_schema.schemata
		WHERE schema_name NOT LIKE 'pg\_%' AND schema_name <> 'information_schema'
		ORDER BY schema_name`)
}

func (p *PostgreSQL) GetTables(ctx context.Context, schema string) ([]string, error) {
	if schema == "" {
		schema = "public"
	}
	return p.queryStrings(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
}

func (p *PostgreSQL) GetColumns(ctx context.Context, schema, table string) ([]domain.Column, error) {
	conn, err := p.session()
	if err != nil {
		return nil, err
	}
	if schema == "" {
		schema = "public"
	}

	rows, err := conn.Query(ctx, `SELECT column_name, data_type, udt_name, character_maximum_length, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var (
			name, dataType, udtName, nullable string
			maxLen                            *int32
			def                               *string
		)
		if err := rows.Scan(&name, &dataType, &udtName, &maxLen, &nullable, &def); err != nil {
			return nil, err
		}
		cols = append(cols, domain.Column{
			Name:       name,
			DataType:   formatPGType(dataType, udtName, maxLen),
			IsNullable: nullable == "YES",
			Default:    def,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", schema, table)
	}
	return cols, nil
}

func formatPGType(dataType, udtName string, maxLen *int32) string {
	switch dataType {
	case "USER-DEFINED":
		return udtName
	case "ARRAY":
		return strings.TrimPrefix(udtName, "_") + "[]"
	case "character varying":
		if maxLen != nil {
			return fmt.Sprintf("varchar(%d)", *maxLen)
		}
		return "varchar"
	case "character":
		if maxLen != nil {
			return fmt.Sprintf("char(%d)", *maxLen)
		}
	}
	return dataType
}

func (p *PostgreSQL) ExecuteQuery(ctx context.Context, query string) domain.QueryResult {
	conn, err := p.session()
	if err != nil {
		return domain.QueryResult{Error: err.Error()}
	}

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return domain.QueryResult{Error: err.Error()}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	data := [][]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return domain.QueryResult{Error: err.Error()}
		}
		for i, v := range values {
			values[i] = normalizePGValue(v)
		}
		data = append(data, values)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.QueryResult{Error: err.Error()}
	}

	if len(fields) == 0 {
		return domain.QueryResult{Success: true, RowCount: rows.CommandTag().RowsAffected()}
	}
	return domain.QueryResult{Success: true, Columns: columns, Rows: data, RowCount: int64(len(data))}
}

// CopyFrom streams COPY data into the session; copySQL is a full "COPY ... FROM STDIN" statement.
func (p *PostgreSQL) CopyFrom(ctx context.Context, copySQL string, data io.Reader) (int64, error) {
	conn, err := p.session()
	if err != nil {
		return 0, err
	}
	tag, err := conn.PgConn().CopyFrom(ctx, data, copySQL)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func normalizePGValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case driver.Valuer:
		if out, err := val.Value(); err == nil {
			return out
		}
	}
	return v
}
