package strategy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/semmidev/dbvault/internal/adapter/connector"
	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/logger"

	. "github.com/smartystreets/goconvey/convey"
)

func seedSQLite(path string) {
	c := connector.NewSQLite(logger.NewNop())
	ctx := context.Background()
	So(c.Open(ctx, domain.ConnectionConfig{Type: domain.EngineSQLite, Database: path}), ShouldBeNil)
	defer c.Close()

	for _, q := range []string{
		`CREATE TABLE users (id INTEGER NOT NULL, name TEXT NOT NULL, note TEXT DEFAULT 'none')`,
		`CREATE TABLE orders (id INTEGER NOT NULL, user_id INTEGER, total REAL)`,
		`CREATE TABLE empty_table (id INTEGER)`,
		`INSERT INTO users (id, name, note) VALUES (1, 'alice', 'it''s fine'), (2, 'bob', NULL)`,
		`INSERT INTO orders (id, user_id, total) VALUES (10, 1, 9.5)`,
	} {
		res := c.ExecuteQuery(ctx, q)
		So(res.Error, ShouldBeEmpty)
	}
}

func countRows(path, table string) int64 {
	c := connector.NewSQLite(logger.NewNop())
	ctx := context.Background()
	So(c.Open(ctx, domain.ConnectionConfig{Type: domain.EngineSQLite, Database: path}), ShouldBeNil)
	defer c.Close()
	res := c.ExecuteQuery(ctx, "SELECT COUNT(*) FROM "+table)
	So(res.Error, ShouldBeEmpty)
	return res.Rows[0][0].(int64)
}

func TestSQLiteNative(t *testing.T) {
	Convey("Given a SQLite database and no sqlite3 binary", t, func() {
		dir := t.TempDir()
		dbPath := filepath.Join(dir, "app.db")
		seedSQLite(dbPath)

		registry := NewDefaultRegistry(ProbeFunc(func(string) bool { return false }), logger.NewNop())
		s, err := registry.Get(domain.EngineSQLite)
		So(err, ShouldBeNil)

		ctx := context.Background()
		conn := domain.ConnectionConfig{Name: "app", Type: domain.EngineSQLite, Database: dbPath}
		out := filepath.Join(dir, "app_backup.sql")

		Convey("A tables backup should only contain the requested table", func() {
			var progress [][2]int
			req := BackupRequest{
				Job:        domain.BackupJob{BackupType: domain.BackupTables, Tables: []string{"users"}},
				Conn:       conn,
				Tables:     []string{"users"},
				OutputPath: out,
				Progress:   func(done, total int) { progress = append(progress, [2]int{done, total}) },
			}
			So(s.Backup(ctx, req), ShouldBeNil)

			data, err := os.ReadFile(out)
			So(err, ShouldBeNil)
			script := string(data)
			So(script, ShouldContainSubstring, `CREATE TABLE "users"`)
			So(strings.Count(script, "CREATE TABLE"), ShouldEqual, 1)
			So(script, ShouldContainSubstring, `'it''s fine'`)
			So(script, ShouldContainSubstring, `DEFAULT 'none'`)
			So(progress, ShouldResemble, [][2]int{{1, 1}})
		})

		Convey("Tables should be ignored for other backup types", func() {
			req := BackupRequest{
				Job:        domain.BackupJob{BackupType: domain.BackupSchemaOnly},
				Conn:       conn,
				Tables:     []string{"users"},
				OutputPath: out,
			}
			So(s.Backup(ctx, req), ShouldBeNil)

			data, _ := os.ReadFile(out)
			So(strings.Count(string(data), "CREATE TABLE"), ShouldEqual, 3)
			So(string(data), ShouldNotContainSubstring, "INSERT INTO")
		})

		Convey("A zero-row table should get its schema but no INSERT block", func() {
			req := BackupRequest{
				Job:        domain.BackupJob{BackupType: domain.BackupTables},
				Conn:       conn,
				Tables:     []string{"empty_table"},
				OutputPath: out,
			}
			So(s.Backup(ctx, req), ShouldBeNil)

			data, _ := os.ReadFile(out)
			So(string(data), ShouldContainSubstring, `CREATE TABLE "empty_table"`)
			So(string(data), ShouldNotContainSubstring, "INSERT INTO")
		})

		Convey("A full backup should be a copy of the database file that restores in place", func() {
			req := BackupRequest{Job: domain.BackupJob{BackupType: domain.BackupFull}, Conn: conn, OutputPath: out}
			So(s.Backup(ctx, req), ShouldBeNil)

			kind, err := Sniff(out)
			So(err, ShouldBeNil)
			So(kind, ShouldEqual, ArtifactSQLiteFile)

			target := conn
			target.Database = filepath.Join(dir, "restored.db")
			So(s.Restore(ctx, out, target), ShouldBeNil)
			So(countRows(target.Database, "users"), ShouldEqual, 2)
			So(countRows(target.Database, "orders"), ShouldEqual, 1)
		})

		Convey("A SQL script backup should restore into another database", func() {
			req := BackupRequest{
				Job:        domain.BackupJob{BackupType: domain.BackupTables},
				Conn:       conn,
				Tables:     []string{"users", "orders"},
				OutputPath: out,
			}
			So(s.Backup(ctx, req), ShouldBeNil)

			target := conn
			target.Database = filepath.Join(dir, "copy.db")
			So(s.Restore(ctx, out, target), ShouldBeNil)
			So(countRows(target.Database, "users"), ShouldEqual, 2)
			So(countRows(target.Database, "orders"), ShouldEqual, 1)
		})

		Convey("A failed backup should not leave a partial file", func() {
			req := BackupRequest{
				Job:        domain.BackupJob{BackupType: domain.BackupTables},
				Conn:       conn,
				Tables:     []string{"users", "missing_table"},
				OutputPath: out,
			}
			err := s.Backup(ctx, req)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "missing_table")

			_, statErr := os.Stat(out)
			So(os.IsNotExist(statErr), ShouldBeTrue)
		})

		Convey("A cancelled context should stop the dump", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			req := BackupRequest{Job: domain.BackupJob{BackupType: domain.BackupSchemaOnly}, Conn: conn, OutputPath: out}
			So(s.Backup(cctx, req), ShouldNotBeNil)
		})
	})
}

func TestSQLiteMissingDatabase(t *testing.T) {
	Convey("Given a connection pointing at a file that does not exist", t, func() {
		dir := t.TempDir()
		missing := filepath.Join(dir, "typo.db")
		conn := domain.ConnectionConfig{Name: "typo", Type: domain.EngineSQLite, Database: missing}
		native := newSQLiteNative(logger.NewNop())

		for _, typ := range []domain.BackupType{domain.BackupFull, domain.BackupSchemaOnly, domain.BackupDataOnly} {
			req := BackupRequest{
				Job:        domain.BackupJob{BackupType: typ},
				Conn:       conn,
				OutputPath: filepath.Join(dir, "out_"+string(typ)+".sql"),
			}
			err := native.Backup(context.Background(), req)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "database file not accessible")
		}

		Convey("No database should be created as a side effect", func() {
			_, err := os.Stat(missing)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("The sqlite3 shell strategy should refuse it too", func() {
			err := (&sqlite3CLI{}).Backup(context.Background(), BackupRequest{
				Job:        domain.BackupJob{BackupType: domain.BackupFull},
				Conn:       conn,
				OutputPath: filepath.Join(dir, "cli.sql"),
			})
			So(err, ShouldNotBeNil)
			_, statErr := os.Stat(missing)
			So(os.IsNotExist(statErr), ShouldBeTrue)
		})
	})
}

func TestSQLiteShellSupports(t *testing.T) {
	Convey("The sqlite3 shell strategy", t, func() {
		cli := &sqlite3CLI{}
		tables := func(names ...string) BackupRequest {
			return BackupRequest{Job: domain.BackupJob{BackupType: domain.BackupTables, Tables: names}, Tables: names}
		}

		Convey("should serve plain table names", func() {
			So(cli.Supports(tables("users", "orders")), ShouldBeTrue)
		})

		Convey("should leave names that are LIKE wildcards to the native strategy", func() {
			So(cli.Supports(tables("a_b")), ShouldBeFalse)
			So(cli.Supports(tables("users", "100%")), ShouldBeFalse)
		})

		Convey("should not serve data-only backups", func() {
			So(cli.Supports(BackupRequest{Job: domain.BackupJob{BackupType: domain.BackupDataOnly}}), ShouldBeFalse)
		})
	})

	Convey("Given a database with tables a_b and axb and no sqlite3 binary", t, func() {
		dir := t.TempDir()
		dbPath := filepath.Join(dir, "like.db")
		c := connector.NewSQLite(logger.NewNop())
		ctx := context.Background()
		So(c.Open(ctx, domain.ConnectionConfig{Type: domain.EngineSQLite, Database: dbPath}), ShouldBeNil)
		So(c.ExecuteQuery(ctx, "CREATE TABLE a_b (id INTEGER)").Error, ShouldBeEmpty)
		So(c.ExecuteQuery(ctx, "CREATE TABLE axb (id INTEGER)").Error, ShouldBeEmpty)
		c.Close()

		registry := NewDefaultRegistry(ProbeFunc(func(name string) bool { return name == "sqlite3" }), logger.NewNop())
		s, err := registry.Get(domain.EngineSQLite)
		So(err, ShouldBeNil)

		Convey("A tables backup of a_b should not pick up axb", func() {
			out := filepath.Join(dir, "like.sql")
			So(s.Backup(ctx, BackupRequest{
				Job:        domain.BackupJob{BackupType: domain.BackupTables, Tables: []string{"a_b"}},
				Conn:       domain.ConnectionConfig{Name: "like", Type: domain.EngineSQLite, Database: dbPath},
				Tables:     []string{"a_b"},
				OutputPath: out,
			}), ShouldBeNil)

			data, err := os.ReadFile(out)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, `"a_b"`)
			So(string(data), ShouldNotContainSubstring, `"axb"`)
		})
	})
}
