package strategy

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/semmidev/dbvault/internal/domain"
)

// dialect holds the quoting rules of one SQL engine.
type dialect struct {
	name string
	// identQuote wraps identifiers; embedded quotes are doubled.
	identQuote string
	// backslashEscapes marks engines where backslash escapes inside string literals.
	backslashEscapes bool
	// dollarQuotes enables $tag$ ... $tag$ literals in the statement reader.
	dollarQuotes bool
	boolLiteral  func(bool) string
	bytesLiteral func([]byte) string
	timeLayout   string
	// selectColumn renders a column in the data SELECT.
	selectColumn func(quoted string) string
	// columnDefault renders an introspected default for CREATE TABLE.
	columnDefault func(col domain.Column) (dataType, def string)
	preamble      []string
	postamble     []string
}

var postgresDialect = dialect{
	name:          "postgresql",
	identQuote:    `"`,
	dollarQuotes:  true,
	boolLiteral:   func(b bool) string { return strings.ToUpper(strconv.FormatBool(b)) },
	bytesLiteral:  func(b []byte) string { return `'\x` + hex.EncodeToString(b) + `'` },
	timeLayout:    "2006-01-02 15:04:05.999999Z07:00",
	selectColumn:  func(q string) string { return q + "::text" },
	columnDefault: pgColumnDefault,
	preamble:      []string{"SET client_encoding = 'UTF8';", "SET standard_conforming_strings = on;"},
}

var mysqlDialect = dialect{
	name:             "mysql",
	identQuote:       "`",
	backslashEscapes: true,
	boolLiteral:      intBool,
	bytesLiteral:     hexBytes,
	timeLayout:       "2006-01-02 15:04:05.999999",
	selectColumn:     func(q string) string { return q },
	columnDefault:    mysqlColumnDefault,
	preamble:         []string{"SET NAMES utf8mb4;", "SET FOREIGN_KEY_CHECKS=0;"},
	postamble:        []string{"SET FOREIGN_KEY_CHECKS=1;"},
}

var sqliteDialect = dialect{
	name:          "sqlite",
	identQuote:    `"`,
	boolLiteral:   intBool,
	bytesLiteral:  hexBytes,
	timeLayout:    "2006-01-02 15:04:05.999999999-07:00",
	selectColumn:  func(q string) string { return q },
	columnDefault: verbatimDefault,
	preamble:      []string{"PRAGMA foreign_keys=OFF;"},
}

func intBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func hexBytes(b []byte) string {
	return "X'" + hex.EncodeToString(b) + "'"
}

func verbatimDefault(col domain.Column) (string, string) {
	if col.Default == nil {
		return col.DataType, ""
	}
	return col.DataType, *col.Default
}

var pgSerialTypes = map[string]string{
	"smallint": "smallserial",
	"integer":  "serial",
	"bigint":   "bigserial",
}

// pgColumnDefault turns sequence-backed integer columns into serial types:
// the owning sequence is dropped together with the table.
func pgColumnDefault(col domain.Column) (string, string) {
	if col.Default == nil {
		return col.DataType, ""
	}
	if strings.HasPrefix(*col.Default, "nextval(") {
		if serial, ok := pgSerialTypes[col.DataType]; ok {
			return serial, ""
		}
	}
	return col.DataType, *col.Default
}

// mysqlColumnDefault quotes literal defaults; information_schema reports them unquoted.
func mysqlColumnDefault(col domain.Column) (string, string) {
	if col.Default == nil {
		return col.DataType, ""
	}
	def := *col.Default
	upper := strings.ToUpper(def)
	switch {
	case upper == "NULL",
		strings.HasPrefix(upper, "CURRENT_TIMESTAMP"),
		strings.HasPrefix(def, "'"),
		strings.HasPrefix(def, "("):
		return col.DataType, def
	}
	if _, err := strconv.ParseFloat(def, 64); err == nil {
		return col.DataType, def
	}
	return col.DataType, dialect{backslashEscapes: true}.quoteString(def)
}

func (d dialect) quoteIdent(name string) string {
	return d.identQuote + strings.ReplaceAll(name, d.identQuote, d.identQuote+d.identQuote) + d.identQuote
}

func (d dialect) quoteString(s string) string {
	if d.backslashEscapes {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// literal renders v as a SQL literal for this dialect.
func (d dialect) literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return d.quoteString(val)
	case []byte:
		return d.bytesLiteral(val)
	case bool:
		return d.boolLiteral(val)
	case int:
		return strconv.Itoa(val)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32:
		return d.float(float64(val))
	case float64:
		return d.float(val)
	case time.Time:
		return "'" + val.Format(d.timeLayout) + "'"
	case fmt.Stringer:
		return d.quoteString(val.String())
	}
	return d.quoteString(fmt.Sprint(v))
}

func (d dialect) float(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "NULL"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// scriptWriter emits a plain SQL dump.
type scriptWriter struct {
	w *bufio.Writer
	d dialect
}

func newScriptWriter(w *bufio.Writer, d dialect) *scriptWriter {
	return &scriptWriter{w: w, d: d}
}

func (s *scriptWriter) header(job domain.BackupJob, cfg domain.ConnectionConfig) error {
	fmt.Fprintf(s.w, "-- dbvault native %s dump\n", s.d.name)
	fmt.Fprintf(s.w, "-- database: %s\n", cfg.Database)
	fmt.Fprintf(s.w, "-- backup type: %s\n", job.BackupType)
	fmt.Fprintf(s.w, "-- created at: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	for _, stmt := range s.d.preamble {
		fmt.Fprintln(s.w, stmt)
	}
	_, err := fmt.Fprintln(s.w)
	return err
}

func (s *scriptWriter) footer() error {
	for _, stmt := range s.d.postamble {
		fmt.Fprintln(s.w, stmt)
	}
	return s.w.Flush()
}

func (s *scriptWriter) createTable(table string, cols []domain.Column) error {
	name := s.d.quoteIdent(table)
	fmt.Fprintf(s.w, "--\n-- Table structure for %s\n--\n\n", table)
	fmt.Fprintf(s.w, "DROP TABLE IF EXISTS %s;\n", name)
	fmt.Fprintf(s.w, "CREATE TABLE %s (\n", name)
	for i, col := range cols {
		dataType, def := s.d.columnDefault(col)
		line := "  " + s.d.quoteIdent(col.Name)
		if dataType != "" {
			line += " " + dataType
		}
		if !col.IsNullable {
			line += " NOT NULL"
		}
		if def != "" {
			line += " DEFAULT " + def
		}
		if i < len(cols)-1 {
			line += ","
		}
		fmt.Fprintln(s.w, line)
	}
	_, err := fmt.Fprint(s.w, ");\n\n")
	return err
}

func (s *scriptWriter) insert(table string, columns []string, row []any) error {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.d.quoteIdent(c)
	}
	values := make([]string, len(row))
	for i, v := range row {
		values[i] = s.d.literal(v)
	}
	_, err := fmt.Fprintf(s.w, "INSERT INTO %s (%s) VALUES (%s);\n",
		s.d.quoteIdent(table), strings.Join(quoted, ", "), strings.Join(values, ", "))
	return err
}

// selectAll builds the data query for a table.
func (d dialect) selectAll(table string, cols []domain.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = d.selectColumn(d.quoteIdent(c.Name))
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(parts, ", "), d.quoteIdent(table))
}
