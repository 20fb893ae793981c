package catalog

import (
	"context"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

type MockQuerier struct {
	FetchFunc func(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error)
}

func (m *MockQuerier) Fetch(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, collection, filters, order)
	}
	return nil, nil
}

type MockMutator struct {
	InsertFunc func(ctx context.Context, collection string, record backend.Record) (backend.Record, error)
	UpdateFunc func(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error
	DeleteFunc func(ctx context.Context, collection string, filters []backend.Filter) error
}

func (m *MockMutator) Insert(ctx context.Context, collection string, record backend.Record) (backend.Record, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, collection, record)
	}
	return record, nil
}

func (m *MockMutator) Update(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, collection, filters, patch)
	}
	return nil
}

func (m *MockMutator) Delete(ctx context.Context, collection string, filters []backend.Filter) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, collection, filters)
	}
	return nil
}
