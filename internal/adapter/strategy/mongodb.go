package strategy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"

	"github.com/semmidev/dbvault/internal/adapter/connector"
	"github.com/semmidev/dbvault/internal/domain"
)

// mongoDump drives mongodump and mongorestore with archive files.
type mongoDump struct{}

func (m *mongoDump) Tool() string { return "mongodump" }

// Supports excludes schema-only backups, which mongodump has no mode for.
func (m *mongoDump) Supports(req BackupRequest) bool {
	return req.Job.BackupType != domain.BackupSchemaOnly
}

func (m *mongoDump) RestoreTool(kind ArtifactKind) (string, bool) {
	if kind == ArtifactMongoArchive {
		return "mongorestore", true
	}
	return "", false
}

func (m *mongoDump) Backup(ctx context.Context, req BackupRequest) error {
	configPath, err := writeMongoToolConfig(req.Conn)
	if err != nil {
		return err
	}
	defer os.Remove(configPath)

	if err := mongoDumpCmd(req, configPath).run(ctx); err != nil {
		cleanupOnError(req.OutputPath, &err)
		return err
	}
	req.report(1, 1)
	return nil
}

func mongoDumpCmd(req BackupRequest, configPath string) toolCmd {
	args := []string{
		"--config=" + configPath,
		"--archive=" + req.OutputPath,
	}
	for _, coll := range req.scope() {
		args = append(args, fmt.Sprintf("--nsInclude=%s.%s", req.Conn.Database, coll))
	}
	return toolCmd{name: "mongodump", args: args}
}

func (m *mongoDump) Restore(ctx context.Context, filePath string, cfg domain.ConnectionConfig) error {
	configPath, err := writeMongoToolConfig(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(configPath)

	args := []string{
		"--config=" + configPath,
		"--archive=" + filePath,
		"--drop",
	}
	return toolCmd{name: "mongorestore", args: args}.run(ctx)
}

// writeMongoToolConfig puts the connection URI in a 0600 YAML file for the
// tools' --config flag so credentials stay out of the process list.
func writeMongoToolConfig(cfg domain.ConnectionConfig) (string, error) {
	data, err := yaml.Marshal(map[string]string{"uri": connector.MongoURI(cfg)})
	if err != nil {
		return "", fmt.Errorf("failed to encode mongo tool config: %w", err)
	}
	f, err := os.CreateTemp("", "dbvault_mongo_*.yaml")
	if err != nil {
		return "", fmt.Errorf("failed to create mongo tool config: %w", err)
	}
	path := f.Name()
	if err := f.Chmod(0600); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to protect mongo tool config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write mongo tool config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write mongo tool config: %w", err)
	}
	return path, nil
}

// documentSession is the connector surface the native MongoDB strategy drives.
type documentSession interface {
	Open(ctx context.Context, cfg domain.ConnectionConfig) error
	Close() error
	GetTables(ctx context.Context, schema string) ([]string, error)
	Documents(ctx context.Context, collection string) ([]bson.M, error)
	ReplaceCollection(ctx context.Context, collection string, docs []any) error
}

func mongoSessions(log domain.Logger) func() documentSession {
	return func() documentSession { return connector.NewMongoDB(log) }
}

// mongoNative writes {"database": ..., "collections": {name: [docs]}}.
type mongoNative struct {
	sessions func() documentSession
	log      domain.Logger
}

func newMongoNative(sessions func() documentSession, log domain.Logger) *mongoNative {
	return &mongoNative{sessions: sessions, log: log}
}

// mongoArtifact is the native JSON document layout.
type mongoArtifact struct {
	Database    string                       `json:"database"`
	Collections map[string][]json.RawMessage `json:"collections"`
}

func (m *mongoNative) Backup(ctx context.Context, req BackupRequest) (err error) {
	sess := m.sessions()
	if err := sess.Open(ctx, req.Conn); err != nil {
		return err
	}
	defer sess.Close()

	collections := req.scope()
	if collections == nil {
		if collections, err = sess.GetTables(ctx, ""); err != nil {
			return fmt.Errorf("failed to list collections: %w", err)
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

	w := bufio.NewWriterSize(f, 1<<20)
	name, _ := json.Marshal(req.Conn.Database)
	fmt.Fprintf(w, `{"database":%s,"collections":{`, name)

	var total int
	for i, coll := range collections {
		if err = ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			w.WriteByte(',')
		}
		key, _ := json.Marshal(coll)
		fmt.Fprintf(w, "\n%s:[", key)

		if req.Job.BackupType.IncludesData() {
			docs, docErr := sess.Documents(ctx, coll)
			if docErr != nil {
				return docErr
			}
			for j, doc := range docs {
				raw, mErr := json.Marshal(connector.ToJSONValue(doc))
				if mErr != nil {
					return fmt.Errorf("failed to encode document in %s: %w", coll, mErr)
				}
				if j > 0 {
					w.WriteByte(',')
				}
				w.Write(raw)
			}
			total += len(docs)
		}
		w.WriteByte(']')
		req.report(i+1, len(collections))
	}
	w.WriteString("\n}}\n")

	if err = w.Flush(); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	m.log.Infof("[%s] Native mongodb dump wrote %d collections, %s documents",
		req.Conn.Name, len(collections), humanize.Comma(int64(total)))
	return nil
}

func (m *mongoNative) Restore(ctx context.Context, filePath string, cfg domain.ConnectionConfig) error {
	kind, err := Sniff(filePath)
	if err != nil {
		return err
	}
	if kind != ArtifactJSON {
		return fmt.Errorf("cannot restore a %s artifact into mongodb without mongorestore", kind)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	var artifact mongoArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return fmt.Errorf("failed to parse backup file: %w", err)
	}

	sess := m.sessions()
	if err := sess.Open(ctx, cfg); err != nil {
		return err
	}
	defer sess.Close()

	names := make([]string, 0, len(artifact.Collections))
	for name := range artifact.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs, err := decodeDocuments(artifact.Collections[name])
		if err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		if err := sess.ReplaceCollection(ctx, name, docs); err != nil {
			return err
		}
	}

	m.log.Infof("[%s] Native mongodb restore replaced %d collections", cfg.Name, len(names))
	return nil
}

func decodeDocuments(raw []json.RawMessage) ([]any, error) {
	docs := make([]any, 0, len(raw))
	for _, r := range raw {
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid document: %w", err)
		}
		docs = append(docs, fromJSONDocument(doc))
	}
	return docs, nil
}

// fromJSONDocument reverses the stringification of the dump: 24-hex _id
// values become ObjectIDs again and numbers regain integer types.
func fromJSONDocument(doc map[string]any) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = fromJSONValue(v)
	}
	if s, ok := doc["_id"].(string); ok {
		if oid, err := bson.ObjectIDFromHex(s); err == nil {
			out["_id"] = oid
		}
	}
	return out
}

func fromJSONValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		return fromJSONDocument(val)
	case []any:
		out := make(bson.A, len(val))
		for i, e := range val {
			out[i] = fromJSONValue(e)
		}
		return out
	}
	return v
}
