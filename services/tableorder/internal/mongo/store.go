// Package mongo serves the backend capabilities from MongoDB. Record ids are
// kept in _id; change streams feed the ChangeFeed.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

const (
	defaultURL  = "mongodb://localhost:27017"
	defaultName = "tableorder"
)

type Store struct {
	url    string
	name   string
	logger aqm.Logger
	now    func() time.Time

	client *mongo.Client
	db     *mongo.Database
}

func NewStore(config *aqm.Config, logger aqm.Logger) *Store {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	s := &Store{url: defaultURL, name: defaultName, logger: logger, now: time.Now}
	if config != nil {
		if url, _ := config.GetString("db.mongo.url"); url != "" {
			s.url = url
		}
		if name, _ := config.GetString("db.mongo.name"); name != "" {
			s.name = name
		}
	}
	return s
}

func (s *Store) Start(ctx context.Context) error {
	clientOptions := options.Client().ApplyURI(s.url).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	s.client = client
	s.db = client.Database(s.name)

	if err := s.ensureIndexes(ctx); err != nil {
		return err
	}

	s.logger.Infof("Connected to MongoDB database %s", s.name)
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
	}
	s.client, s.db = nil, nil
	s.logger.Info("Disconnected from MongoDB")
	return nil
}

// Database exposes the connected database to the change feed.
func (s *Store) Database() *mongo.Database {
	return s.db
}

// ensureIndexes keeps table numbers unique among active tables.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(backend.Tables).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "table_no", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"is_active": true}),
	})
	if err != nil {
		return fmt.Errorf("cannot create tables index: %w", err)
	}
	_, err = s.db.Collection(backend.Staff).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("cannot create staff index: %w", err)
	}
	return nil
}

func (s *Store) collection(op, name string) (*mongo.Collection, error) {
	if s.db == nil {
		return nil, backend.Wrap(op, name, backend.ErrUnavailable)
	}
	return s.db.Collection(name), nil
}

func (s *Store) Fetch(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
	coll, err := s.collection("fetch", collection)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if sort := buildSort(order); len(sort) > 0 {
		opts.SetSort(sort)
	}

	cursor, err := coll.Find(ctx, buildFilter(filters), opts)
	if err != nil {
		return nil, backend.Wrap("fetch", collection, classify(err))
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, backend.Wrap("fetch", collection, classify(err))
	}

	out := make([]backend.Record, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toRecord(doc))
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, collection string, record backend.Record) (backend.Record, error) {
	coll, err := s.collection("insert", collection)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, backend.Wrap("insert", collection, backend.ErrInvalid)
	}

	rec := record.Clone()
	if rec.ID() == "" {
		rec["id"] = uuid.NewString()
	}
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = s.now().UTC()
	}

	if _, err := coll.InsertOne(ctx, toDocument(rec)); err != nil {
		return nil, backend.Wrap("insert", collection, classify(err))
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error {
	coll, err := s.collection("update", collection)
	if err != nil {
		return err
	}

	set := bson.M{}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		set[k] = v
	}
	if len(set) == 0 {
		return nil
	}

	if _, err := coll.UpdateMany(ctx, buildFilter(filters), bson.M{"$set": set}); err != nil {
		return backend.Wrap("update", collection, classify(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection string, filters []backend.Filter) error {
	coll, err := s.collection("delete", collection)
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		return backend.Wrap("delete", collection, backend.ErrInvalid)
	}

	if _, err := coll.DeleteMany(ctx, buildFilter(filters)); err != nil {
		return backend.Wrap("delete", collection, classify(err))
	}
	return nil
}

func classify(err error) error {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", backend.ErrConflict, err)
	case errors.Is(err, mongo.ErrNoDocuments):
		return backend.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
}
