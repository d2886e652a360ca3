package connector

import (
	"fmt"

	"github.com/semmidev/dbvault/internal/domain"
)

// New returns a fresh, unconnected connector for engine.
func New(engine domain.EngineType, log domain.Logger) (domain.Connector, error) {
	switch engine {
	case domain.EnginePostgreSQL:
		return NewPostgreSQL(log), nil
	case domain.EngineMySQL:
		return NewMySQL(log), nil
	case domain.EngineSQLite:
		return NewSQLite(log), nil
	case domain.EngineMongoDB:
		return NewMongoDB(log), nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEngine, engine)
}
