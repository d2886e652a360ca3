package connector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/logger"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSQLiteConnector(t *testing.T) {
	Convey("Given a SQLite database file", t, func() {
		ctx := context.Background()
		cfg := domain.ConnectionConfig{
			Name:     "local",
			Type:     domain.EngineSQLite,
			Database: filepath.Join(t.TempDir(), "app.db"),
		}

		s := NewSQLite(logger.NewNop())
		So(s.Connect(ctx, cfg), ShouldBeTrue)
		defer s.Disconnect(ctx)

		res := s.ExecuteQuery(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, role TEXT DEFAULT 'member', avatar BLOB)`)
		So(res.Error, ShouldBeEmpty)
		res = s.ExecuteQuery(ctx, `INSERT INTO users (name, avatar) VALUES ('alice', x'CAFE'), ('bob', NULL)`)
		So(res.Success, ShouldBeTrue)
		So(res.RowCount, ShouldEqual, 2)

		Convey("TestConnection should succeed on the existing file", func() {
			r := s.TestConnection(ctx, cfg)
			So(r.Success, ShouldBeTrue)
		})

		Convey("TestConnection should not create a missing file", func() {
			missing := cfg
			missing.Database = filepath.Join(t.TempDir(), "nope.db")
			r := s.TestConnection(ctx, missing)
			So(r.Success, ShouldBeFalse)
			So(r.Message, ShouldContainSubstring, "not accessible")
		})

		Convey("GetSchemas should include main", func() {
			schemas, err := s.GetSchemas(ctx)
			So(err, ShouldBeNil)
			So(schemas, ShouldContain, "main")
		})

		Convey("GetTables should list user tables only", func() {
			tables, err := s.GetTables(ctx, "")
			So(err, ShouldBeNil)
			So(tables, ShouldResemble, []string{"users"})
		})

		Convey("GetColumns should describe the table", func() {
			cols, err := s.GetColumns(ctx, "", "users")
			So(err, ShouldBeNil)
			So(len(cols), ShouldEqual, 4)
			So(cols[1].Name, ShouldEqual, "name")
			So(cols[1].IsNullable, ShouldBeFalse)
			So(*cols[2].Default, ShouldEqual, "'member'")

			_, err = s.GetColumns(ctx, "", "ghost")
			So(err, ShouldNotBeNil)
		})

		Convey("ExecuteQuery should return plain values", func() {
			r := s.ExecuteQuery(ctx, "SELECT id, name, avatar FROM users ORDER BY id")
			So(r.Success, ShouldBeTrue)
			So(r.RowCount, ShouldEqual, 2)
			So(r.Rows[0][1], ShouldEqual, "alice")
			So(r.Rows[0][2], ShouldResemble, []byte{0xCA, 0xFE})
			So(r.Rows[1][2], ShouldBeNil)
		})

		Convey("ExecuteQuery should report SQL errors", func() {
			r := s.ExecuteQuery(ctx, "SELECT * FROM ghost")
			So(r.Success, ShouldBeFalse)
			So(r.Error, ShouldContainSubstring, "ghost")
		})
	})
}
