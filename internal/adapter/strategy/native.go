package strategy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/semmidev/dbvault/internal/adapter/connector"
	"github.com/semmidev/dbvault/internal/domain"
)

// sqlSession is the connector surface the native SQL strategies drive.
// Every backup or restore opens its own session.
type sqlSession interface {
	domain.Connector
	Open(ctx context.Context, cfg domain.ConnectionConfig) error
	Close() error
}

// copier is implemented by sessions that accept COPY FROM stdin data.
type copier interface {
	CopyFrom(ctx context.Context, copySQL string, data io.Reader) (int64, error)
}

type sessionFactory func() sqlSession

func pgSessions(log domain.Logger) sessionFactory {
	return func() sqlSession { return connector.NewPostgreSQL(log) }
}

func mysqlSessions(log domain.Logger) sessionFactory {
	return func() sqlSession { return connector.NewMySQL(log) }
}

func sqliteSessions(log domain.Logger) sessionFactory {
	return func() sqlSession { return connector.NewSQLite(log) }
}

// sqlNative dumps through the in-process driver as a plain SQL script.
type sqlNative struct {
	engine   domain.EngineType
	d        dialect
	sessions sessionFactory
	log      domain.Logger
}

func newSQLNative(engine domain.EngineType, d dialect, sessions sessionFactory, log domain.Logger) *sqlNative {
	return &sqlNative{engine: engine, d: d, sessions: sessions, log: log}
}

func (n *sqlNative) open(ctx context.Context, cfg domain.ConnectionConfig) (sqlSession, error) {
	sess := n.sessions()
	if err := sess.Open(ctx, cfg); err != nil {
		return nil, err
	}
	return sess, nil
}

func (n *sqlNative) Backup(ctx context.Context, req BackupRequest) error {
	sess, err := n.open(ctx, req.Conn)
	if err != nil {
		return err
	}
	defer sess.Close()
	return n.dump(ctx, sess, req)
}

func (n *sqlNative) dump(ctx context.Context, sess sqlSession, req BackupRequest) (err error) {
	tables := req.scope()
	if tables == nil {
		if tables, err = sess.GetTables(ctx, ""); err != nil {
			return fmt.Errorf("failed to list tables: %w", err)
		}
	}

	f, err := os.Create(req.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer cleanupOnError(req.OutputPath, &err)
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to write backup file: %w", closeErr)
		}
	}()

	sw := newScriptWriter(bufio.NewWriterSize(f, 1<<20), n.d)
	if err = sw.header(req.Job, req.Conn); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}

	var rows int64
	for i, table := range tables {
		if err = ctx.Err(); err != nil {
			return err
		}

		cols, colErr := sess.GetColumns(ctx, "", table)
		if colErr != nil {
			return fmt.Errorf("failed to describe table %s: %w", table, colErr)
		}
		if req.Job.BackupType.IncludesSchema() {
			if err = sw.createTable(table, cols); err != nil {
				return fmt.Errorf("failed to write backup file: %w", err)
			}
		}
		if req.Job.BackupType.IncludesData() {
			count, dumpErr := n.dumpRows(ctx, sess, sw, table, cols)
			if dumpErr != nil {
				return dumpErr
			}
			rows += count
		}
		req.report(i+1, len(tables))
	}

	if err = sw.footer(); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	n.log.Infof("[%s] Native %s dump wrote %d tables, %s rows",
		req.Conn.Name, n.engine, len(tables), humanize.Comma(rows))
	return nil
}

func (n *sqlNative) dumpRows(ctx context.Context, sess sqlSession, sw *scriptWriter, table string, cols []domain.Column) (int64, error) {
	res := sess.ExecuteQuery(ctx, n.d.selectAll(table, cols))
	if !res.Success {
		return 0, fmt.Errorf("failed to read rows of %s: %s", table, res.Error)
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	fmt.Fprintf(sw.w, "--\n-- Data for %s\n--\n\n", table)
	for _, row := range res.Rows {
		if err := sw.insert(table, names, row); err != nil {
			return 0, fmt.Errorf("failed to write backup file: %w", err)
		}
	}
	_, err := fmt.Fprintln(sw.w)
	return int64(len(res.Rows)), err
}

func (n *sqlNative) Restore(ctx context.Context, filePath string, cfg domain.ConnectionConfig) error {
	kind, err := Sniff(filePath)
	if err != nil {
		return err
	}
	if kind != ArtifactSQL {
		return fmt.Errorf("cannot restore a %s artifact into %s without the engine's command-line tools", kind, n.engine)
	}

	sess, err := n.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()
	return n.apply(ctx, sess, filePath, cfg)
}

// apply executes a SQL script statement by statement.
func (n *sqlNative) apply(ctx context.Context, sess sqlSession, filePath string, cfg domain.ConnectionConfig) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	r := newStatementReader(f, n.d)
	var count int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stmt, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if stmt.IsCopy {
			c, ok := sess.(copier)
			if !ok {
				return fmt.Errorf("line %d: COPY data cannot be loaded into %s", stmt.Line, n.engine)
			}
			if _, err := c.CopyFrom(ctx, stmt.SQL, bytes.NewReader(stmt.Copy)); err != nil {
				return fmt.Errorf("line %d: copy failed: %w", stmt.Line, err)
			}
		} else if res := sess.ExecuteQuery(ctx, stmt.SQL); !res.Success {
			return fmt.Errorf("line %d: statement failed: %s", stmt.Line, res.Error)
		}
		count++
	}

	n.log.Infof("[%s] Native %s restore applied %d statements", cfg.Name, n.engine, count)
	return nil
}
