package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/solarops/activity/pkg/logger"
)

// MongoConfig selects the MongoDB deployment and database.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// MongoStore serves live queries from MongoDB: the query runs once, then again every time
// the collection's change stream reports an event.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

// NewMongoStore connects to MongoDB and verifies the primary is reachable.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("docstore: mongo uri is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("docstore: mongo database is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("docstore: connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("docstore: ping mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		db:     client.Database(cfg.Database),
		log:    logger.WithModule("docstore.mongo"),
	}, nil
}

// Listen implements LiveQuerier.
func (m *MongoStore) Listen(ctx context.Context, q Query, sink Sink) (Listener, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return startListener(ctx, sink, func(ctx context.Context, emit Sink) {
		attempt := 0
		for {
			err := m.watchOnce(ctx, q, emit, func() { attempt = 0 })
			if ctx.Err() != nil {
				return
			}
			emit(Snapshot{Err: err})

			wait := backoff(attempt, 500*time.Millisecond, 30*time.Second)
			m.log.Debug("change stream broken; retrying",
				zap.String("collection", q.Collection),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
			if !sleep(ctx, wait) {
				return
			}
			attempt++
		}
	}), nil
}

func (m *MongoStore) watchOnce(ctx context.Context, q Query, emit Sink, healthy func()) error {
	coll := m.db.Collection(q.Collection)

	// Open the stream before the first read so no change between the two is missed.
	stream, err := coll.Watch(ctx, mongo.Pipeline{}, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return fmt.Errorf("docstore: watch %s: %w", q.Collection, err)
	}
	defer stream.Close(context.Background())

	refresh := func() error {
		docs, err := m.Fetch(ctx, q)
		if err != nil {
			return err
		}
		healthy()
		emit(Snapshot{Documents: docs})
		return nil
	}

	if err := refresh(); err != nil {
		return err
	}
	for stream.Next(ctx) {
		if err := refresh(); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return errors.New("docstore: change stream closed")
}

// Fetch runs q once.
func (m *MongoStore) Fetch(ctx context.Context, q Query) ([]Document, error) {
	filter := bson.M{
		q.TenantField:    q.TenantID,
		q.TimestampField: bson.M{"$gte": q.Since.UTC()},
	}
	opts := options.Find().SetSort(bson.D{{Key: q.TimestampField, Value: -1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := m.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("docstore: find %s: %w", q.Collection, err)
	}
	defer cursor.Close(ctx)

	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("docstore: decode %s: %w", q.Collection, err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, mongoDocument(row))
	}
	return docs, nil
}

func mongoDocument(row bson.M) Document {
	fields := make(map[string]any, len(row))
	for key, value := range row {
		switch v := value.(type) {
		case primitive.DateTime:
			fields[key] = v.Time().UTC()
		case primitive.ObjectID:
			fields[key] = v.Hex()
		default:
			fields[key] = v
		}
	}
	id := AsString(fields["_id"])
	if id == "" {
		id = AsString(fields["id"])
	}
	return Document{ID: id, Fields: fields}
}

// Ping checks the deployment is reachable.
func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
