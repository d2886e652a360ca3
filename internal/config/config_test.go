package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/semmidev/dbvault/internal/domain"

	. "github.com/smartystreets/goconvey/convey"
)

const sampleConfig = `
app:
  log_level: debug
  data_dir: /var/lib/dbvault
connections:
  - name: main
    type: postgres
    host: db.internal
    database: app
    username: backup
    password_env: TEST_DBVAULT_MAIN_PASSWORD
    ssl_mode: require
  - id: local-db
    name: notes
    type: sqlite
    database: /srv/notes.db
backup:
  compression_level: 3
  upload_targets:
    - type: local
      enabled: true
      path: /mnt/mirror
    - type: s3
      enabled: false
notify:
  telegram:
    enabled: true
    bot_token: "123:abc"
    chat_id: "42"
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "dbvault.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("Given a config file", t, func() {
		t.Setenv("TEST_DBVAULT_MAIN_PASSWORD", "s3cret")
		path := writeConfig(t, sampleConfig)

		Convey("It should load values and defaults", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.App.Name, ShouldEqual, "dbvault")
			So(cfg.App.LogLevel, ShouldEqual, "debug")
			So(cfg.Backup.Compress, ShouldBeTrue)
			So(cfg.Backup.CompressionLevel, ShouldEqual, 3)
			So(cfg.Backup.RetentionDays, ShouldEqual, 7)
			So(cfg.Backup.UploadTimeout, ShouldEqual, 30*time.Minute)
			So(cfg.StorePath(), ShouldEqual, filepath.Join("/var/lib/dbvault", "backups", "backups.json"))
			So(cfg.FilesDir(), ShouldEqual, filepath.Join("/var/lib/dbvault", "backups", "files"))
			So(len(cfg.GetEnabledUploadTargets()), ShouldEqual, 1)
			So(cfg.Notify.Telegram.ChatID, ShouldEqual, "42")
		})

		Convey("Connections should convert to the domain form", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)

			main, ok := cfg.FindConnection("main")
			So(ok, ShouldBeTrue)
			conn, err := main.Domain()
			So(err, ShouldBeNil)
			So(conn.ID, ShouldEqual, "main")
			So(conn.Type, ShouldEqual, domain.EnginePostgreSQL)
			So(conn.Password, ShouldEqual, "s3cret")
			So(conn.SSLMode, ShouldEqual, "require")

			notes, ok := cfg.FindConnection("local-db")
			So(ok, ShouldBeTrue)
			So(notes.Name, ShouldEqual, "notes")

			_, ok = cfg.FindConnection("missing")
			So(ok, ShouldBeFalse)
		})

		Convey("Environment variables should override file values", func() {
			t.Setenv("DBVAULT_APP_LOG_LEVEL", "warn")
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.App.LogLevel, ShouldEqual, "warn")
		})
	})

	Convey("A missing explicit file should be an error", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		So(err, ShouldNotBeNil)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:    AppConfig{DataDir: "/tmp/dbvault"},
			Backup: BackupConfig{CompressionLevel: 6},
		}
	}

	Convey("Validate", t, func() {
		Convey("An empty connection list is valid", func() {
			So(base().Validate(), ShouldBeNil)
		})

		Convey("Unknown engines are rejected", func() {
			cfg := base()
			cfg.Connections = []ConnectionConfig{{Name: "x", Type: "oracle", Host: "h", Database: "d"}}
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("Server engines need a host", func() {
			cfg := base()
			cfg.Connections = []ConnectionConfig{{Name: "x", Type: "mysql", Database: "d"}}
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("Duplicate ids are rejected", func() {
			cfg := base()
			cfg.Connections = []ConnectionConfig{
				{Name: "a", Type: "sqlite", Database: "a.db"},
				{Name: "a", Type: "sqlite", Database: "b.db"},
			}
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("Compression level must be in range", func() {
			cfg := base()
			cfg.Backup.CompressionLevel = 12
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("Enabled upload targets need their settings", func() {
			cfg := base()
			cfg.Backup.UploadTargets = []UploadTarget{{Type: "s3", Enabled: true}}
			So(cfg.Validate(), ShouldNotBeNil)

			cfg.Backup.UploadTargets = []UploadTarget{{Type: "ftp", Enabled: true}}
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("Telegram needs a token and chat id", func() {
			cfg := base()
			cfg.Notify.Telegram.Enabled = true
			So(cfg.Validate(), ShouldNotBeNil)
		})
	})
}
