package mongo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

// Feed watches the database change stream. It needs a replica set.
type Feed struct {
	store   *Store
	logger  aqm.Logger
	backoff time.Duration

	*backend.Hub

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFeed(store *Store, logger aqm.Logger) *Feed {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Feed{store: store, logger: logger, backoff: 2 * time.Second, Hub: backend.NewHub()}
}

func (f *Feed) Start(ctx context.Context) error {
	if f.store.Database() == nil {
		return fmt.Errorf("cannot watch MongoDB: store not started")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.cancel = cancel
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	go func() {
		defer close(done)
		f.run(runCtx)
	}()
	f.logger.Info("mongo change feed started")
	return nil
}

func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func (f *Feed) run(ctx context.Context) {
	for {
		err := f.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		f.logger.Error("mongo change stream interrupted", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.backoff):
		}
	}
}

func (f *Feed) watch(ctx context.Context) error {
	db := f.store.Database()
	if db == nil {
		return fmt.Errorf("store stopped")
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := db.Watch(ctx, pipeline, opts)
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var raw changeDoc
		if err := stream.Decode(&raw); err != nil {
			f.logger.Error("skipping undecodable change", "error", err)
			continue
		}
		ev, ok := raw.event()
		if !ok {
			continue
		}
		f.Dispatch(ev)
	}
	return stream.Err()
}

type changeDoc struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey  bson.M `bson:"documentKey"`
	FullDocument bson.M `bson:"fullDocument"`
}

func (c changeDoc) event() (backend.ChangeEvent, bool) {
	var kind backend.EventKind
	switch c.OperationType {
	case "insert":
		kind = backend.EventInsert
	case "update", "replace":
		kind = backend.EventUpdate
	case "delete":
		kind = backend.EventDelete
	default:
		return backend.ChangeEvent{}, false
	}

	doc := c.FullDocument
	if doc == nil {
		// Deletes, and updates whose document is already gone, carry only the key.
		doc = c.DocumentKey
	}
	if doc == nil || c.NS.Coll == "" {
		return backend.ChangeEvent{}, false
	}
	return backend.ChangeEvent{Kind: kind, Collection: c.NS.Coll, Record: toRecord(doc)}, true
}
