package connector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/dbvault/internal/domain"
)

var errNotConnected = errors.New("not connected")

type openFunc func(ctx context.Context, cfg domain.ConnectionConfig) (*sql.DB, error)

// sqlBase carries the database/sql session shared by the MySQL and SQLite connectors.
type sqlBase struct {
	engine domain.EngineType
	log    domain.Logger
	open   openFunc

	mu  sync.Mutex
	db  *sql.DB
	cfg domain.ConnectionConfig
}

// Open replaces the current session with a new, pinged one.
func (b *sqlBase) Open(ctx context.Context, cfg domain.ConnectionConfig) error {
	db, err := b.open(ctx, cfg)
	if err != nil {
		return err
	}
	// one connection per session so session-level SET statements stick
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping %s: %w", b.engine, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		_ = b.db.Close()
	}
	b.db = db
	b.cfg = cfg
	return nil
}

func (b *sqlBase) Connect(ctx context.Context, cfg domain.ConnectionConfig) bool {
	if err := b.Open(ctx, cfg); err != nil {
		b.log.Errorf("[%s] Connect to %s failed: %v", cfg.Name, b.engine, err)
		return false
	}
	return true
}

func (b *sqlBase) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *sqlBase) Disconnect(ctx context.Context) bool {
	if err := b.Close(); err != nil {
		b.log.Warnf("[%s] Disconnect failed: %v", b.engine, err)
		return false
	}
	return true
}

func (b *sqlBase) TestConnection(ctx context.Context, cfg domain.ConnectionConfig) domain.TestResult {
	db, err := b.open(ctx, cfg)
	if err != nil {
		return domain.TestResult{Message: err.Error()}
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return domain.TestResult{Message: fmt.Sprintf("probe query failed: %v", err)}
	}
	return domain.TestResult{Success: true, Message: fmt.Sprintf("connected to %s", b.engine)}
}

func (b *sqlBase) session() (*sql.DB, domain.ConnectionConfig, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, b.cfg, errNotConnected
	}
	return b.db, b.cfg, nil
}

func (b *sqlBase) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	db, _, err := b.session()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *sqlBase) ExecuteQuery(ctx context.Context, query string) domain.QueryResult {
	db, _, err := b.session()
	if err != nil {
		return domain.QueryResult{Error: err.Error()}
	}

	if !returnsRows(query) {
		res, err := db.ExecContext(ctx, query)
		if err != nil {
			return domain.QueryResult{Error: err.Error()}
		}
		affected, _ := res.RowsAffected()
		return domain.QueryResult{Success: true, RowCount: affected}
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return domain.QueryResult{Error: err.Error()}
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return domain.QueryResult{Error: err.Error()}
	}
	columns := make([]string, len(types))
	for i, t := range types {
		columns[i] = t.Name()
	}

	result := domain.QueryResult{Success: true, Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return domain.QueryResult{Error: err.Error()}
		}
		for i := range values {
			values[i] = normalizeValue(values[i], types[i].DatabaseTypeName())
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return domain.QueryResult{Error: err.Error()}
	}
	result.RowCount = int64(len(result.Rows))
	return result
}

var rowKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "SHOW": true, "PRAGMA": true,
	"DESCRIBE": true, "DESC": true, "EXPLAIN": true, "VALUES": true, "TABLE": true,
}

// returnsRows guesses from the leading keyword whether a statement yields a result set.
func returnsRows(query string) bool {
	q := strings.TrimSpace(query)
	for strings.HasPrefix(q, "--") || strings.HasPrefix(q, "/*") {
		if strings.HasPrefix(q, "--") {
			idx := strings.IndexByte(q, '\n')
			if idx < 0 {
				return false
			}
			q = strings.TrimSpace(q[idx+1:])
			continue
		}
		idx := strings.Index(q, "*/")
		if idx < 0 {
			return false
		}
		q = strings.TrimSpace(q[idx+2:])
	}
	q = strings.TrimLeft(q, "(")
	end := strings.IndexFunc(q, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '('
	})
	if end >= 0 {
		q = q[:end]
	}
	return rowKeywords[strings.ToUpper(q)]
}

// normalizeValue turns driver output into plain Go values: text as string,
// numbers as int64/float64, binary columns as []byte.
func normalizeValue(v any, dbType string) any {
	if valuer, ok := v.(driver.Valuer); ok {
		if vv, err := valuer.Value(); err == nil {
			v = vv
		}
	}

	raw, ok := v.([]byte)
	if !ok {
		return v
	}
	t := strings.ToUpper(dbType)
	switch {
	case isBinaryType(t):
		return append([]byte(nil), raw...)
	case isIntegerType(t):
		if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			return n
		}
	case isFloatType(t):
		if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
			return f
		}
	}
	return string(raw)
}

func isBinaryType(t string) bool {
	return strings.Contains(t, "BLOB") || strings.Contains(t, "BINARY") || t == "BYTEA" || t == "BIT"
}

func isIntegerType(t string) bool {
	switch strings.TrimPrefix(t, "UNSIGNED ") {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT", "YEAR":
		return true
	}
	return false
}

func isFloatType(t string) bool {
	switch t {
	case "FLOAT", "DOUBLE", "REAL":
		return true
	}
	return false
}
