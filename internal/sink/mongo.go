package sink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// MongoSink inserts one document per row. Null values are omitted from the
// document; other values keep their native BSON type.
type MongoSink struct {
	client *mongo.Client
	owned  bool
	coll   *mongo.Collection
	opts   Options

	header core.Header
	batch  []any
}

// OpenMongo connects to uri. The database is taken from the URI path and
// defaults to "openpdi"; the collection is opts.Table.
func OpenMongo(ctx context.Context, uri string, opts Options) (*MongoSink, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := NewMongo(client.Database(mongoDatabase(uri)), opts)
	s.client = client
	s.owned = true
	return s, nil
}

// NewMongo returns a sink writing into db.
func NewMongo(db *mongo.Database, opts Options) *MongoSink {
	s := &MongoSink{opts: opts}
	if opts.Table != "" {
		s.coll = db.Collection(opts.Table)
	}
	return s
}

func mongoDatabase(uri string) string {
	if u, err := url.Parse(uri); err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return "openpdi"
}

func (s *MongoSink) WriteHeader(ctx context.Context, header core.Header) error {
	if s.coll == nil {
		return errors.New("mongo sink: collection name required")
	}
	if s.opts.Replace {
		if err := s.coll.Drop(ctx); err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
	}
	s.header = append(core.Header(nil), header...)
	s.batch = make([]any, 0, s.opts.batchSize())
	return nil
}

func (s *MongoSink) WriteRow(ctx context.Context, row core.Row) error {
	if s.header == nil {
		return errors.New("mongo sink: header not written")
	}
	doc := make(bson.D, 0, len(row))
	for i, v := range row {
		if v.IsNull() || i >= len(s.header) {
			continue
		}
		doc = append(doc, bson.E{Key: s.header[i], Value: v.Any()})
	}
	s.batch = append(s.batch, doc)
	if len(s.batch) >= s.opts.batchSize() {
		return s.insertBatch(ctx)
	}
	return nil
}

func (s *MongoSink) insertBatch(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	if _, err := s.coll.InsertMany(ctx, s.batch); err != nil {
		return fmt.Errorf("insert %d documents: %w", len(s.batch), err)
	}
	s.batch = s.batch[:0]
	return nil
}

func (s *MongoSink) Flush(ctx context.Context) error { return s.insertBatch(ctx) }

// Close disconnects an owned client. Unflushed documents are dropped.
func (s *MongoSink) Close() error {
	s.batch = nil
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
