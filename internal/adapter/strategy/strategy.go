package strategy

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/semmidev/dbvault/internal/domain"
)

// BackupRequest carries everything a strategy needs to write one artifact.
type BackupRequest struct {
	Job  domain.BackupJob
	Conn domain.ConnectionConfig
	// Tables is only consulted for domain.BackupTables jobs.
	Tables []string
	// OutputPath is the uncompressed target, the job's file path without ".gz".
	OutputPath string
	// Progress, when set, is called after each table or collection.
	Progress func(done, total int)
}

func (r BackupRequest) report(done, total int) {
	if r.Progress != nil {
		r.Progress(done, total)
	}
}

// scope returns the explicit table list for table-scoped jobs, nil otherwise.
func (r BackupRequest) scope() []string {
	if r.Job.BackupType == domain.BackupTables {
		return r.Tables
	}
	return nil
}

type Strategy interface {
	Backup(ctx context.Context, req BackupRequest) error
	Restore(ctx context.Context, filePath string, cfg domain.ConnectionConfig) error
}

// ToolProbe reports whether an external binary can be executed.
type ToolProbe interface {
	Available(name string) bool
}

type ProbeFunc func(name string) bool

func (f ProbeFunc) Available(name string) bool { return f(name) }

// ExecProbe looks binaries up on PATH on every call so tools installed
// while the process runs are picked up.
var ExecProbe ProbeFunc = func(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// external is a strategy backed by an engine's command-line tools.
type external interface {
	Strategy
	// Tool is the binary used for backups.
	Tool() string
	// Supports reports whether the tool can produce the requested backup.
	Supports(req BackupRequest) bool
	// RestoreTool names the binary able to restore an artifact of kind,
	// false when the tools cannot read it.
	RestoreTool(kind ArtifactKind) (string, bool)
}

// dual picks the external strategy when its tool is installed and able to
// serve the request, the native one otherwise.
type dual struct {
	engine domain.EngineType
	ext    external
	native Strategy
	probe  ToolProbe
	log    domain.Logger
}

func (d *dual) Backup(ctx context.Context, req BackupRequest) error {
	if d.ext.Supports(req) && d.probe.Available(d.ext.Tool()) {
		d.log.Debugf("[%s] Backing up %s with %s", req.Conn.Name, d.engine, d.ext.Tool())
		return d.ext.Backup(ctx, req)
	}
	d.log.Debugf("[%s] Backing up %s with the native strategy", req.Conn.Name, d.engine)
	return d.native.Backup(ctx, req)
}

func (d *dual) Restore(ctx context.Context, filePath string, cfg domain.ConnectionConfig) error {
	kind, err := Sniff(filePath)
	if err != nil {
		return err
	}
	if tool, ok := d.ext.RestoreTool(kind); ok && d.probe.Available(tool) {
		d.log.Debugf("[%s] Restoring %s artifact with %s", cfg.Name, kind, tool)
		return d.ext.Restore(ctx, filePath, cfg)
	}
	d.log.Debugf("[%s] Restoring %s artifact with the native strategy", cfg.Name, kind)
	return d.native.Restore(ctx, filePath, cfg)
}

// Registry maps engines to their strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.EngineType]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[domain.EngineType]Strategy)}
}

func (r *Registry) Register(engine domain.EngineType, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[engine] = s
}

func (r *Registry) Get(engine domain.EngineType) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[engine]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEngine, engine)
	}
	return s, nil
}

// NewDefaultRegistry wires the four supported engines.
func NewDefaultRegistry(probe ToolProbe, log domain.Logger) *Registry {
	r := NewRegistry()
	r.Register(domain.EnginePostgreSQL, &dual{
		engine: domain.EnginePostgreSQL,
		ext:    &pgDump{},
		native: newSQLNative(domain.EnginePostgreSQL, postgresDialect, pgSessions(log), log),
		probe:  probe,
		log:    log,
	})
	r.Register(domain.EngineMySQL, &dual{
		engine: domain.EngineMySQL,
		ext:    &mysqlDump{},
		native: newSQLNative(domain.EngineMySQL, mysqlDialect, mysqlSessions(log), log),
		probe:  probe,
		log:    log,
	})
	r.Register(domain.EngineSQLite, &dual{
		engine: domain.EngineSQLite,
		ext:    &sqlite3CLI{},
		native: newSQLiteNative(log),
		probe:  probe,
		log:    log,
	})
	r.Register(domain.EngineMongoDB, &dual{
		engine: domain.EngineMongoDB,
		ext:    &mongoDump{},
		native: newMongoNative(mongoSessions(log), log),
		probe:  probe,
		log:    log,
	})
	return r
}
