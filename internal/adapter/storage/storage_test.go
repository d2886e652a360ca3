package storage

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRemoteNames(t *testing.T) {
	Convey("S3 keys should honour the prefix", t, func() {
		s := &S3Storage{prefix: "nightly"}
		So(s.key("main.sql.gz"), ShouldEqual, "nightly/main.sql.gz")
		So(s.name("nightly/main.sql.gz"), ShouldEqual, "main.sql.gz")

		bare := &S3Storage{}
		So(bare.key("main.sql.gz"), ShouldEqual, "main.sql.gz")
		So(bare.name("main.sql.gz"), ShouldEqual, "main.sql.gz")
	})

	Convey("Drive queries should escape quotes", t, func() {
		So(escapeQuery(`it's`), ShouldEqual, `it\'s`)
		So(escapeQuery(`a\b`), ShouldEqual, `a\\b`)
	})
}
