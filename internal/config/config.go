package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/semmidev/dbvault/internal/domain"
)

const envPrefix = "DBVAULT"

type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Connections []ConnectionConfig `mapstructure:"connections"`
	Backup      BackupConfig       `mapstructure:"backup"`
	Notify      NotifyConfig       `mapstructure:"notify"`
}

type AppConfig struct {
	Name       string `mapstructure:"name"`
	LogLevel   string `mapstructure:"log_level"`
	LogFile    string `mapstructure:"log_file"`
	DataDir    string `mapstructure:"data_dir"`
	ListenAddr string `mapstructure:"listen_addr"`
}

type ConnectionConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// PasswordEnv names an environment variable holding the password.
	PasswordEnv string `mapstructure:"password_env"`
	Database    string `mapstructure:"database"`

	// PostgreSQL specific
	SSLMode string `mapstructure:"ssl_mode"`

	// MongoDB specific
	AuthDatabase string `mapstructure:"auth_database"`
}

type BackupConfig struct {
	Compress         bool           `mapstructure:"compress"`
	CompressionLevel int            `mapstructure:"compression_level"`
	RetentionDays    int            `mapstructure:"retention_days"`
	CleanupSchedule  string         `mapstructure:"cleanup_schedule"`
	UploadTimeout    time.Duration  `mapstructure:"upload_timeout"`
	UploadTargets    []UploadTarget `mapstructure:"upload_targets"`
}

type UploadTarget struct {
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	// Local mirror
	Path string `mapstructure:"path"`

	// Google Drive: a credentials file, or a client secret plus the
	// refresh token printed by gdrive-auth.
	CredentialsFile  string `mapstructure:"credentials_file"`
	ClientSecretFile string `mapstructure:"client_secret_file"`
	RefreshToken     string `mapstructure:"refresh_token"`
	FolderID         string `mapstructure:"folder_id"`

	// AWS S3
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Load reads the YAML file at path. With an empty path it looks for
// dbvault.yaml in the working directory and ~/.dbvault, and falls back to
// defaults when none exists. DBVAULT_* variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dbvault")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".dbvault"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dbvault")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.data_dir", defaultDataDir())
	v.SetDefault("app.listen_addr", "127.0.0.1:8740")
	v.SetDefault("backup.compress", true)
	v.SetDefault("backup.compression_level", 6)
	v.SetDefault("backup.retention_days", 7)
	v.SetDefault("backup.cleanup_schedule", "0 0 3 * * *")
	v.SetDefault("backup.upload_timeout", "30m")
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "dbvault")
	}
	return ".dbvault"
}

func (c *Config) Validate() error {
	if c.App.DataDir == "" {
		return fmt.Errorf("app.data_dir is required")
	}
	if c.Backup.CompressionLevel < 1 || c.Backup.CompressionLevel > 9 {
		return fmt.Errorf("backup.compression_level must be between 1 and 9")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days cannot be negative")
	}

	seen := make(map[string]bool)
	for i := range c.Connections {
		conn := &c.Connections[i]
		if conn.Name == "" {
			return fmt.Errorf("connections[%d]: name is required", i)
		}
		if conn.ID == "" {
			conn.ID = conn.Name
		}
		if seen[conn.ID] {
			return fmt.Errorf("connections[%d]: duplicate id %q", i, conn.ID)
		}
		seen[conn.ID] = true

		engine, err := domain.ParseEngineType(conn.Type)
		if err != nil {
			return fmt.Errorf("connections[%d]: %w", i, err)
		}
		if conn.Database == "" {
			return fmt.Errorf("connections[%d]: database is required", i)
		}
		if engine != domain.EngineSQLite && conn.Host == "" {
			return fmt.Errorf("connections[%d]: host is required", i)
		}
	}

	for i, target := range c.Backup.UploadTargets {
		if !target.Enabled {
			continue
		}
		switch target.Type {
		case "local":
			if target.Path == "" {
				return fmt.Errorf("upload_targets[%d]: path is required for local", i)
			}
		case "s3":
			if target.Bucket == "" || target.Region == "" {
				return fmt.Errorf("upload_targets[%d]: bucket and region are required for s3", i)
			}
		case "gdrive":
			if target.FolderID == "" {
				return fmt.Errorf("upload_targets[%d]: folder_id is required for gdrive", i)
			}
			if target.CredentialsFile == "" && (target.ClientSecretFile == "" || target.RefreshToken == "") {
				return fmt.Errorf("upload_targets[%d]: credentials_file or client_secret_file with refresh_token is required for gdrive", i)
			}
		default:
			return fmt.Errorf("upload_targets[%d]: unknown type %q", i, target.Type)
		}
	}

	if t := c.Notify.Telegram; t.Enabled && (t.BotToken == "" || t.ChatID == "") {
		return fmt.Errorf("notify.telegram: bot_token and chat_id are required when enabled")
	}

	return nil
}

// StorePath is the job metadata document.
func (c *Config) StorePath() string {
	return filepath.Join(c.App.DataDir, "backups", "backups.json")
}

// FilesDir holds backup artifacts.
func (c *Config) FilesDir() string {
	return filepath.Join(c.App.DataDir, "backups", "files")
}

// FindConnection looks a connection up by id, then by name.
func (c *Config) FindConnection(ref string) (ConnectionConfig, bool) {
	for _, conn := range c.Connections {
		if conn.ID == ref {
			return conn, true
		}
	}
	for _, conn := range c.Connections {
		if conn.Name == ref {
			return conn, true
		}
	}
	return ConnectionConfig{}, false
}

func (c *Config) GetEnabledUploadTargets() []UploadTarget {
	var enabled []UploadTarget
	for _, target := range c.Backup.UploadTargets {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}
	return enabled
}

// Domain converts the connection to the engine-neutral form.
func (cc ConnectionConfig) Domain() (domain.ConnectionConfig, error) {
	engine, err := domain.ParseEngineType(cc.Type)
	if err != nil {
		return domain.ConnectionConfig{}, err
	}
	password := cc.Password
	if cc.PasswordEnv != "" {
		password = os.Getenv(cc.PasswordEnv)
	}
	id := cc.ID
	if id == "" {
		id = cc.Name
	}
	return domain.ConnectionConfig{
		ID:           id,
		Name:         cc.Name,
		Type:         engine,
		Host:         cc.Host,
		Port:         cc.Port,
		Database:     cc.Database,
		Username:     cc.Username,
		Password:     password,
		SSLMode:      cc.SSLMode,
		AuthDatabase: cc.AuthDatabase,
	}, nil
}
