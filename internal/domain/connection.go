package domain

import (
	"fmt"
	"strings"
)

type EngineType string

const (
	EnginePostgreSQL EngineType = "postgresql"
	EngineMySQL      EngineType = "mysql"
	EngineSQLite     EngineType = "sqlite"
	EngineMongoDB    EngineType = "mongodb"
)

func ParseEngineType(s string) (EngineType, error) {
	switch t := EngineType(strings.ToLower(strings.TrimSpace(s))); t {
	case EnginePostgreSQL, EngineMySQL, EngineSQLite, EngineMongoDB:
		return t, nil
	case "postgres":
		return EnginePostgreSQL, nil
	case "mongo":
		return EngineMongoDB, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEngine, s)
}

// DefaultPort returns the engine's well-known port, 0 for file-based engines.
func (e EngineType) DefaultPort() int {
	switch e {
	case EnginePostgreSQL:
		return 5432
	case EngineMySQL:
		return 3306
	case EngineMongoDB:
		return 27017
	}
	return 0
}

// ConnectionConfig identifies a target database. It is owned by the caller
// and treated as read-only for the duration of a job.
type ConnectionConfig struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     EngineType `json:"type"`
	Host     string     `json:"host,omitempty"`
	Port     int        `json:"port,omitempty"`
	Database string     `json:"database"`
	Username string     `json:"username,omitempty"`
	Password string     `json:"-"`

	SSLMode      string `json:"ssl_mode,omitempty"`
	AuthDatabase string `json:"auth_database,omitempty"`
}

func (c ConnectionConfig) PortOrDefault() int {
	if c.Port > 0 {
		return c.Port
	}
	return c.Type.DefaultPort()
}

func (c ConnectionConfig) HostOrDefault() string {
	if c.Host != "" {
		return c.Host
	}
	return "localhost"
}
