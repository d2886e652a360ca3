package domain

import "context"

// Column is the engine-neutral column descriptor.
type Column struct {
	Name       string  `json:"column_name"`
	DataType   string  `json:"data_type"`
	IsNullable bool    `json:"is_nullable"`
	Default    *string `json:"column_default"`
}

type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// QueryResult has the same shape for every engine. SELECT-like statements
// fill Columns and Rows; other statements only set RowCount.
type QueryResult struct {
	Success  bool     `json:"success"`
	Columns  []string `json:"columns,omitempty"`
	Rows     [][]any  `json:"data,omitempty"`
	RowCount int64    `json:"row_count"`
	Error    string   `json:"error,omitempty"`
}

// Connector is the per-engine adapter. Connection-level failures are
// reported through return values, never as panics.
type Connector interface {
	Connect(ctx context.Context, cfg ConnectionConfig) bool
	Disconnect(ctx context.Context) bool
	TestConnection(ctx context.Context, cfg ConnectionConfig) TestResult
	GetSchemas(ctx context.Context) ([]string, error)
	GetTables(ctx context.Context, schema string) ([]string, error)
	GetColumns(ctx context.Context, schema, table string) ([]Column, error)
	ExecuteQuery(ctx context.Context, query string) QueryResult
}
