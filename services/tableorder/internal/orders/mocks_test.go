package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/memory"
)

// MockBackend delegates to an in-memory store unless a Func field is set.
type MockBackend struct {
	store *memory.Store

	FetchFunc       func(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error)
	InsertFunc      func(ctx context.Context, collection string, record backend.Record) (backend.Record, error)
	UpdateFunc      func(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error
	DeleteFunc      func(ctx context.Context, collection string, filters []backend.Filter) error
	SubscribeFunc   func(ctx context.Context, collection string, kinds []backend.EventKind, fn func(backend.ChangeEvent)) (backend.Handle, error)
	UnsubscribeFunc func(h backend.Handle) error
}

func NewMockBackend() *MockBackend {
	return &MockBackend{store: memory.NewStore(nil)}
}

func (m *MockBackend) Fetch(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, collection, filters, order)
	}
	return m.store.Fetch(ctx, collection, filters, order)
}

func (m *MockBackend) Insert(ctx context.Context, collection string, record backend.Record) (backend.Record, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, collection, record)
	}
	return m.store.Insert(ctx, collection, record)
}

func (m *MockBackend) Update(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, collection, filters, patch)
	}
	return m.store.Update(ctx, collection, filters, patch)
}

func (m *MockBackend) Delete(ctx context.Context, collection string, filters []backend.Filter) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, collection, filters)
	}
	return m.store.Delete(ctx, collection, filters)
}

func (m *MockBackend) Subscribe(ctx context.Context, collection string, kinds []backend.EventKind, fn func(backend.ChangeEvent)) (backend.Handle, error) {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, collection, kinds, fn)
	}
	return m.store.Subscribe(ctx, collection, kinds, fn)
}

func (m *MockBackend) Unsubscribe(h backend.Handle) error {
	if m.UnsubscribeFunc != nil {
		return m.UnsubscribeFunc(h)
	}
	return m.store.Unsubscribe(h)
}

// MockFeed records subscriptions and lets tests push events by hand.
type MockFeed struct {
	mu      sync.Mutex
	next    int
	subs    map[backend.Handle]func(backend.ChangeEvent)
	colls   map[backend.Handle]string
	Removed int
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		subs:  make(map[backend.Handle]func(backend.ChangeEvent)),
		colls: make(map[backend.Handle]string),
	}
}

func (f *MockFeed) Subscribe(ctx context.Context, collection string, kinds []backend.EventKind, fn func(backend.ChangeEvent)) (backend.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	h := backend.Handle(fmt.Sprintf("%s-%d", collection, f.next))
	f.subs[h] = fn
	f.colls[h] = collection
	return h, nil
}

func (f *MockFeed) Unsubscribe(h backend.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[h]; ok {
		delete(f.subs, h)
		delete(f.colls, h)
		f.Removed++
	}
	return nil
}

func (f *MockFeed) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *MockFeed) Emit(ev backend.ChangeEvent) {
	f.mu.Lock()
	var targets []func(backend.ChangeEvent)
	for h, fn := range f.subs {
		if f.colls[h] == ev.Collection {
			targets = append(targets, fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range targets {
		fn(ev)
	}
}
