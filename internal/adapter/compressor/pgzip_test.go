package compressor

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPgzip(t *testing.T) {
	Convey("Given a Pgzip codec", t, func() {
		codec := NewPgzip(6)
		dir := t.TempDir()

		Convey("CompressFile", func() {
			content := []byte(strings.Repeat("INSERT INTO \"users\" VALUES (1, 'a');\n", 500))
			raw := filepath.Join(dir, "mydb_2026-10-19T101010000Z.sql")
			So(os.WriteFile(raw, content, 0644), ShouldBeNil)

			Convey("It should produce a stdlib-readable .gz and remove the raw file", func() {
				out, err := codec.CompressFile(raw)
				So(err, ShouldBeNil)
				So(out, ShouldEqual, raw+".gz")

				_, err = os.Stat(raw)
				So(os.IsNotExist(err), ShouldBeTrue)

				f, err := os.Open(out)
				So(err, ShouldBeNil)
				defer f.Close()
				r, err := gzip.NewReader(f)
				So(err, ShouldBeNil)
				var got bytes.Buffer
				_, err = got.ReadFrom(r)
				So(err, ShouldBeNil)
				So(got.Bytes(), ShouldResemble, content)
			})

			Convey("When the source file does not exist", func() {
				_, err := codec.CompressFile(filepath.Join(dir, "missing.sql"))

				Convey("It should return an error and leave no .gz behind", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to open source file")
					_, statErr := os.Stat(filepath.Join(dir, "missing.sql.gz"))
					So(os.IsNotExist(statErr), ShouldBeTrue)
				})
			})
		})

		Convey("DecompressFile", func() {
			Convey("When decompressing a valid archive", func() {
				content := []byte("CREATE TABLE \"users\" (\"id\" INTEGER);\n")
				src := filepath.Join(dir, "in.sql")
				So(os.WriteFile(src, content, 0644), ShouldBeNil)
				gz, err := codec.CompressFile(src)
				So(err, ShouldBeNil)

				dest := filepath.Join(dir, "out.sql")
				err = codec.DecompressFile(gz, dest)

				Convey("It should restore the original bytes", func() {
					So(err, ShouldBeNil)
					got, err := os.ReadFile(dest)
					So(err, ShouldBeNil)
					So(got, ShouldResemble, content)
				})
			})

			Convey("When the source is not gzip data", func() {
				src := filepath.Join(dir, "plain.txt")
				So(os.WriteFile(src, []byte("not a gzip file"), 0644), ShouldBeNil)
				dest := filepath.Join(dir, "plain.out")

				err := codec.DecompressFile(src, dest)

				Convey("It should fail before creating the destination", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to create gzip reader")
					_, statErr := os.Stat(dest)
					So(os.IsNotExist(statErr), ShouldBeTrue)
				})
			})

			Convey("When the destination directory is missing", func() {
				src := filepath.Join(dir, "ok.sql")
				So(os.WriteFile(src, []byte("x"), 0644), ShouldBeNil)
				gz, err := codec.CompressFile(src)
				So(err, ShouldBeNil)

				err = codec.DecompressFile(gz, filepath.Join(dir, "nope", "out.sql"))

				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to create dest file")
				})
			})
		})

		Convey("NewPgzip with an out-of-range level", func() {
			So(NewPgzip(42).level, ShouldEqual, -1)
		})
	})
}
