package connector

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/semmidev/dbvault/internal/domain"
)

type MongoDB struct {
	log domain.Logger

	mu     sync.Mutex
	client *mongo.Client
	cfg    domain.ConnectionConfig
}

func NewMongoDB(log domain.Logger) *MongoDB {
	return &MongoDB{log: log}
}

// MongoURI builds the connection URI. A host that already is a mongodb:// or
// mongodb+srv:// URI is used as is.
func MongoURI(cfg domain.ConnectionConfig) string {
	if strings.HasPrefix(cfg.Host, "mongodb://") || strings.HasPrefix(cfg.Host, "mongodb+srv://") {
		return cfg.Host
	}

	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(cfg.HostOrDefault(), strconv.Itoa(cfg.PortOrDefault())),
		Path:   "/" + cfg.Database,
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	if cfg.AuthDatabase != "" {
		u.RawQuery = url.Values{"authSource": {cfg.AuthDatabase}}.Encode()
	}
	return u.String()
}

func (m *MongoDB) dial(ctx context.Context, cfg domain.ConnectionConfig) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(MongoURI(cfg)).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

func (m *MongoDB) Open(ctx context.Context, cfg domain.ConnectionConfig) error {
	client, err := m.dial(ctx, cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(ctx)
	}
	m.client = client
	m.cfg = cfg
	return nil
}

func (m *MongoDB) Connect(ctx context.Context, cfg domain.ConnectionConfig) bool {
	if err := m.Open(ctx, cfg); err != nil {
		m.log.Errorf("[%s] Connect to mongodb failed: %v", cfg.Name, err)
		return false
	}
	return true
}

func (m *MongoDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.client.Disconnect(ctx)
	m.client = nil
	return err
}

func (m *MongoDB) Disconnect(ctx context.Context) bool {
	if err := m.Close(); err != nil {
		m.log.Warnf("[mongodb] Disconnect failed: %v", err)
		return false
	}
	return true
}

func (m *MongoDB) TestConnection(ctx context.Context, cfg domain.ConnectionConfig) domain.TestResult {
	client, err := m.dial(ctx, cfg)
	if err != nil {
		return domain.TestResult{Message: err.Error()}
	}
	defer client.Disconnect(ctx)
	return domain.TestResult{Success: true, Message: "connected to mongodb"}
}

func (m *MongoDB) session() (*mongo.Client, domain.ConnectionConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil, m.cfg, errNotConnected
	}
	return m.client, m.cfg, nil
}

func (m *MongoDB) database() (*mongo.Database, error) {
	client, cfg, err := m.session()
	if err != nil {
		return nil, err
	}
	return client.Database(cfg.Database), nil
}

// DatabaseName is the database the session is bound to.
func (m *MongoDB) DatabaseName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Database
}

func (m *MongoDB) GetSchemas(ctx context.Context) ([]string, error) {
	client, _, err := m.session()
	if err != nil {
		return nil, err
	}
	return client.ListDatabaseNames(ctx, bson.D{})
}

// GetTables lists collections of the session database; the schema argument is ignored.
func (m *MongoDB) GetTables(ctx context.Context, _ string) ([]string, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// GetColumns infers fields from one sample document.
func (m *MongoDB) GetColumns(ctx context.Context, _ string, collection string) ([]domain.Column, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}

	var sample bson.D
	err = db.Collection(collection).FindOne(ctx, bson.D{}).Decode(&sample)
	if err == mongo.ErrNoDocuments {
		return []domain.Column{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", collection, err)
	}

	cols := make([]domain.Column, 0, len(sample))
	for _, e := range sample {
		cols = append(cols, domain.Column{
			Name:       e.Key,
			DataType:   bsonTypeName(e.Value),
			IsNullable: e.Key != "_id",
		})
	}
	return cols, nil
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case bson.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int32, int64:
		return "int"
	case float64:
		return "double"
	case bool:
		return "bool"
	case bson.DateTime:
		return "date"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

// ExecuteQuery runs a database command given as Extended JSON, e.g. {"find": "users", "limit": 10}.
func (m *MongoDB) ExecuteQuery(ctx context.Context, query string) domain.QueryResult {
	db, err := m.database()
	if err != nil {
		return domain.QueryResult{Error: err.Error()}
	}

	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(query), false, &cmd); err != nil {
		return domain.QueryResult{Error: fmt.Sprintf("invalid command: %v", err)}
	}

	var res bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&res); err != nil {
		return domain.QueryResult{Error: err.Error()}
	}

	docs := []bson.M{res}
	if cur := asDocument(res["cursor"]); cur != nil {
		docs = docs[:0]
		if batch, ok := cur["firstBatch"].(bson.A); ok {
			for _, d := range batch {
				if doc := asDocument(d); doc != nil {
					docs = append(docs, doc)
				}
			}
		}
	}

	columns := documentKeys(docs)
	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = ToJSONValue(doc[c])
		}
		rows = append(rows, row)
	}
	return domain.QueryResult{Success: true, Columns: columns, Rows: rows, RowCount: int64(len(rows))}
}

// asDocument accepts both decoded document shapes.
func asDocument(v any) bson.M {
	switch d := v.(type) {
	case bson.M:
		return d
	case bson.D:
		out := make(bson.M, len(d))
		for _, e := range d {
			out[e.Key] = e.Value
		}
		return out
	}
	return nil
}

func documentKeys(docs []bson.M) []string {
	seen := map[string]bool{}
	var keys []string
	for _, d := range docs {
		for k := range d {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "_id" || keys[j] == "_id" {
			return keys[i] == "_id"
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Documents returns every document in collection.
func (m *MongoDB) Documents(ctx context.Context, collection string) ([]bson.M, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	cur, err := db.Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}
	docs := []bson.M{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}
	return docs, nil
}

// ReplaceCollection removes every document of collection and inserts docs.
func (m *MongoDB) ReplaceCollection(ctx context.Context, collection string, docs []any) error {
	db, err := m.database()
	if err != nil {
		return err
	}
	coll := db.Collection(collection)
	if _, err := coll.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}
	if len(docs) == 0 {
		return nil
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return nil
}

// ToJSONValue converts BSON values into plain JSON-encodable values.
// ObjectIDs become their hex string and dates become RFC 3339 times.
func ToJSONValue(v any) any {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case bson.M:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = ToJSONValue(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = ToJSONValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToJSONValue(e)
		}
		return out
	case bson.Decimal128:
		return val.String()
	case bson.Binary:
		return val.Data
	}
	return v
}
