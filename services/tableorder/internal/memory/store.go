package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

// Store is an in-process backend. It keeps every collection in memory,
// optionally persisting a JSON snapshot on Stop and restoring it on Start.
type Store struct {
	*backend.Hub

	mu          sync.RWMutex
	collections map[string][]backend.Record

	snapshotPath string
	now          func() time.Time
	logger       aqm.Logger
}

type Option func(*Store)

// WithSnapshot persists collections to path across restarts.
func WithSnapshot(path string) Option {
	return func(s *Store) {
		s.snapshotPath = path
	}
}

// WithClock overrides the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(logger aqm.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	s := &Store{
		Hub:         backend.NewHub(),
		collections: make(map[string][]backend.Record),
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Start(ctx context.Context) error {
	if s.snapshotPath == "" {
		return nil
	}

	data, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no memory snapshot found, starting empty", "path", s.snapshotPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot read memory snapshot: %w", err)
	}

	var snap map[string][]backend.Record
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("cannot decode memory snapshot: %w", err)
	}

	s.mu.Lock()
	for name, recs := range snap {
		s.collections[name] = recs
	}
	s.mu.Unlock()

	s.logger.Info("memory snapshot restored", "path", s.snapshotPath, "collections", len(snap))
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	if s.snapshotPath == "" {
		return nil
	}

	s.mu.RLock()
	data, err := json.MarshalIndent(s.collections, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("cannot encode memory snapshot: %w", err)
	}

	if dir := filepath.Dir(s.snapshotPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create snapshot dir: %w", err)
		}
	}

	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cannot write memory snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return fmt.Errorf("cannot replace memory snapshot: %w", err)
	}

	s.logger.Info("memory snapshot written", "path", s.snapshotPath)
	return nil
}

func (s *Store) Fetch(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, backend.Wrap("fetch", collection, err)
	}

	s.mu.RLock()
	var out []backend.Record
	for _, rec := range s.collections[collection] {
		if backend.Match(rec, filters) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	backend.SortRecords(out, order)
	return out, nil
}

func (s *Store) Insert(ctx context.Context, collection string, record backend.Record) (backend.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, backend.Wrap("insert", collection, err)
	}
	if record == nil {
		return nil, backend.Wrap("insert", collection, backend.ErrInvalid)
	}

	rec := record.Clone()
	if _, ok := rec["id"]; !ok {
		rec["id"] = uuid.NewString()
	}
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = s.now().UTC()
	}

	s.mu.Lock()
	for _, existing := range s.collections[collection] {
		if backend.Match(existing, []backend.Filter{backend.Eq("id", rec["id"])}) {
			s.mu.Unlock()
			return nil, backend.Wrap("insert", collection, backend.ErrConflict)
		}
	}
	s.collections[collection] = append(s.collections[collection], rec)
	s.mu.Unlock()

	s.Dispatch(backend.ChangeEvent{Kind: backend.EventInsert, Collection: collection, Record: rec.Clone()})
	return rec.Clone(), nil
}

func (s *Store) Update(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error {
	if err := ctx.Err(); err != nil {
		return backend.Wrap("update", collection, err)
	}

	var changed []backend.Record
	s.mu.Lock()
	for i, rec := range s.collections[collection] {
		if !backend.Match(rec, filters) {
			continue
		}
		next := rec.Clone()
		for k, v := range patch {
			if k == "id" {
				continue
			}
			next[k] = v
		}
		s.collections[collection][i] = next
		changed = append(changed, next.Clone())
	}
	s.mu.Unlock()

	for _, rec := range changed {
		s.Dispatch(backend.ChangeEvent{Kind: backend.EventUpdate, Collection: collection, Record: rec})
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection string, filters []backend.Filter) error {
	if err := ctx.Err(); err != nil {
		return backend.Wrap("delete", collection, err)
	}

	var removed []backend.Record
	s.mu.Lock()
	kept := s.collections[collection][:0]
	for _, rec := range s.collections[collection] {
		if backend.Match(rec, filters) {
			removed = append(removed, rec)
			continue
		}
		kept = append(kept, rec)
	}
	s.collections[collection] = kept
	s.mu.Unlock()

	for _, rec := range removed {
		s.Dispatch(backend.ChangeEvent{Kind: backend.EventDelete, Collection: collection, Record: rec})
	}
	return nil
}
