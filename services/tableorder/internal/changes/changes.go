// Package changes bridges stores without a native change source to message
// brokers: writes are published as row change messages and consumed
// messages are dispatched as change events.
package changes

import (
	"context"
	"time"

	"github.com/aquamarinepk/aqm"

	"github.com/appetiteclub/tableorder/pkg"
	"github.com/appetiteclub/tableorder/pkg/event"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

// Store is a backend that can be both read and written.
type Store interface {
	backend.Querier
	backend.Mutator
}

// PublishingStore publishes a change message for every row written through
// it. Publish failures are logged; the write itself already succeeded.
type PublishingStore struct {
	Store
	publisher pkg.Publisher
	source    string
	logger    aqm.Logger
	now       func() time.Time
}

func NewPublishingStore(store Store, publisher pkg.Publisher, source string, logger aqm.Logger) *PublishingStore {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &PublishingStore{Store: store, publisher: publisher, source: source, logger: logger, now: time.Now}
}

func (s *PublishingStore) Insert(ctx context.Context, collection string, record backend.Record) (backend.Record, error) {
	rec, err := s.Store.Insert(ctx, collection, record)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, collection, backend.EventInsert, rec)
	return rec, nil
}

// Update re-reads the affected rows so subscribers receive whole records.
// Rows are located by id before the patch since the patch may change the
// filtered fields.
func (s *PublishingStore) Update(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error {
	ids, err := s.matchingIDs(ctx, collection, filters)
	if err != nil {
		return err
	}
	if err := s.Store.Update(ctx, collection, filters, patch); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	recs, err := s.Store.Fetch(ctx, collection, []backend.Filter{backend.In("id", ids)}, nil)
	if err != nil {
		s.logger.Error("cannot re-read updated rows", "collection", collection, "error", err)
		return nil
	}
	for _, rec := range recs {
		s.publish(ctx, collection, backend.EventUpdate, rec)
	}
	return nil
}

func (s *PublishingStore) Delete(ctx context.Context, collection string, filters []backend.Filter) error {
	recs, err := s.Store.Fetch(ctx, collection, filters, nil)
	if err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, collection, filters); err != nil {
		return err
	}
	for _, rec := range recs {
		s.publish(ctx, collection, backend.EventDelete, rec)
	}
	return nil
}

func (s *PublishingStore) matchingIDs(ctx context.Context, collection string, filters []backend.Filter) ([]string, error) {
	recs, err := s.Store.Fetch(ctx, collection, filters, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		if id := rec.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *PublishingStore) publish(ctx context.Context, collection string, kind backend.EventKind, rec backend.Record) {
	msg := event.ChangeEvent{
		EventType:  event.EventType(string(kind)),
		OccurredAt: s.now().UTC(),
		Collection: collection,
		Kind:       string(kind),
		Record:     rec,
		Source:     s.source,
	}
	data, err := msg.Marshal()
	if err != nil {
		s.logger.Error("cannot encode change", "collection", collection, "id", rec.ID(), "error", err)
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event.Subject(collection, string(kind)), data); err != nil {
		s.logger.Error("cannot publish change", "collection", collection, "id", rec.ID(), "error", err)
	}
}

// Decode turns a consumed change message into a backend event.
func Decode(data []byte) (backend.ChangeEvent, error) {
	msg, err := event.UnmarshalChange(data)
	if err != nil {
		return backend.ChangeEvent{}, err
	}
	kind := backend.EventKind(msg.Kind)
	switch kind {
	case backend.EventInsert, backend.EventUpdate, backend.EventDelete:
	default:
		return backend.ChangeEvent{}, backend.Wrap("decode", msg.Collection, backend.ErrInvalid)
	}
	return backend.ChangeEvent{Kind: kind, Collection: msg.Collection, Record: backend.Record(msg.Record)}, nil
}

// Dispatcher returns a handler that decodes messages into hub.
// Malformed messages are logged and acknowledged.
func Dispatcher(hub *backend.Hub, logger aqm.Logger) pkg.HandlerFunc {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return func(ctx context.Context, data []byte) error {
		ev, err := Decode(data)
		if err != nil {
			logger.Error("skipping malformed change message", "error", err)
			return nil
		}
		hub.Dispatch(ev)
		return nil
	}
}

// Loopback is an in-process feed: changes published through it reach the
// subscribers of the same process only.
type Loopback struct {
	*backend.Hub
}

func NewLoopback() *Loopback {
	return &Loopback{Hub: backend.NewHub()}
}

func (l *Loopback) Publish(ctx context.Context, topic string, msg []byte) error {
	ev, err := Decode(msg)
	if err != nil {
		return err
	}
	l.Dispatch(ev)
	return nil
}
