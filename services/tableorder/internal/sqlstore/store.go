// Package sqlstore keeps the restaurant collections in PostgreSQL or MySQL
// tables named after the collections.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	// database/sql drivers selected by Dialect.DriverName.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store implements backend.Querier and backend.Mutator on database/sql.
type Store struct {
	dsn     string
	dialect Dialect
	logger  aqm.Logger
	migrate bool
	now     func() time.Time

	db *sql.DB
}

type Option func(*Store)

// WithSchema creates missing tables on Start.
func WithSchema() Option {
	return func(s *Store) {
		s.migrate = true
	}
}

// WithDB uses an already opened database instead of dialing dsn.
func WithDB(db *sql.DB) Option {
	return func(s *Store) {
		s.db = db
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(dialect Dialect, dsn string, logger aqm.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	s := &Store{dsn: dsn, dialect: dialect, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the database, retrying until it answers a ping or ctx ends.
func (s *Store) Start(ctx context.Context) error {
	if s.db == nil {
		db, err := connect(ctx, s.dialect.DriverName(), s.dsn)
		if err != nil {
			return fmt.Errorf("cannot connect to %s: %w", s.dialect.Name(), err)
		}
		s.db = db
	}

	if s.migrate {
		if err := s.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	s.logger.Infof("%s store connected", s.dialect.Name())
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cannot apply schema: %w", err)
		}
	}
	return nil
}

func connect(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	const (
		maxRetries = 10
		retryDelay = 2 * time.Second
		pingTTL    = 5 * time.Second
	)

	var lastErr error
	for i := 1; i <= maxRetries; i++ {
		db, err := sql.Open(driver, dsn)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, pingTTL)
			err = db.PingContext(pctx)
			cancel()
			if err == nil {
				return db, nil
			}
			_ = db.Close()
		}
		lastErr = err

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("unreachable after %d attempts: %w", maxRetries, lastErr)
}

func (s *Store) Fetch(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
	if s.db == nil {
		return nil, backend.Wrap("fetch", collection, backend.ErrUnavailable)
	}
	q, args, err := buildSelect(s.dialect, collection, filters, order)
	if err != nil {
		return nil, backend.Wrap("fetch", collection, err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, backend.Wrap("fetch", collection, s.classify(err))
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, backend.Wrap("fetch", collection, s.classify(err))
	}
	return recs, nil
}

// Insert fills in id and created_at when absent.
func (s *Store) Insert(ctx context.Context, collection string, record backend.Record) (backend.Record, error) {
	if s.db == nil {
		return nil, backend.Wrap("insert", collection, backend.ErrUnavailable)
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

	q, args, err := buildInsert(s.dialect, collection, rec)
	if err != nil {
		return nil, backend.Wrap("insert", collection, err)
	}

	if s.dialect.Returning() {
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, backend.Wrap("insert", collection, s.classify(err))
		}
		defer rows.Close()
		recs, err := scanRecords(rows)
		if err != nil {
			return nil, backend.Wrap("insert", collection, s.classify(err))
		}
		if len(recs) == 0 {
			return rec, nil
		}
		return recs[0], nil
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, backend.Wrap("insert", collection, s.classify(err))
	}
	recs, err := s.Fetch(ctx, collection, []backend.Filter{backend.Eq("id", rec["id"])}, nil)
	if err != nil || len(recs) == 0 {
		return rec, nil
	}
	return recs[0], nil
}

func (s *Store) Update(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error {
	if s.db == nil {
		return backend.Wrap("update", collection, backend.ErrUnavailable)
	}
	q, args, err := buildUpdate(s.dialect, collection, filters, patch)
	if err != nil {
		return backend.Wrap("update", collection, err)
	}
	if q == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return backend.Wrap("update", collection, s.classify(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection string, filters []backend.Filter) error {
	if s.db == nil {
		return backend.Wrap("delete", collection, backend.ErrUnavailable)
	}
	q, args, err := buildDelete(s.dialect, collection, filters)
	if err != nil {
		return backend.Wrap("delete", collection, err)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return backend.Wrap("delete", collection, s.classify(err))
	}
	return nil
}

func (s *Store) classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case s.dialect.IsDuplicate(err):
		return fmt.Errorf("%w: %v", backend.ErrConflict, err)
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %v", backend.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
}

func scanRecords(rows *sql.Rows) ([]backend.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []backend.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(backend.Record, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type builder struct {
	d    Dialect
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func (b *builder) ident(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("%w: bad identifier %q", backend.ErrInvalid, name)
	}
	return b.d.Quote(name), nil
}

func (b *builder) where(filters []backend.Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		col, err := b.ident(f.Field)
		if err != nil {
			return "", err
		}
		switch f.Op {
		case backend.OpEq:
			if f.Value == nil {
				parts = append(parts, col+" IS NULL")
				continue
			}
			parts = append(parts, col+" = "+b.arg(f.Value))
		case backend.OpNeq:
			if f.Value == nil {
				parts = append(parts, col+" IS NOT NULL")
				continue
			}
			parts = append(parts, col+" <> "+b.arg(f.Value))
		case backend.OpIn:
			vals, ok := f.Value.([]any)
			if !ok {
				return "", fmt.Errorf("%w: in filter on %s needs a list", backend.ErrInvalid, f.Field)
			}
			if len(vals) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			ph := make([]string, 0, len(vals))
			for _, v := range vals {
				ph = append(ph, b.arg(v))
			}
			parts = append(parts, col+" IN ("+strings.Join(ph, ", ")+")")
		default:
			return "", fmt.Errorf("%w: unsupported filter op %q", backend.ErrInvalid, f.Op)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func buildSelect(d Dialect, collection string, filters []backend.Filter, order []backend.Sort) (string, []any, error) {
	b := &builder{d: d}
	table, err := b.ident(collection)
	if err != nil {
		return "", nil, err
	}
	where, err := b.where(filters)
	if err != nil {
		return "", nil, err
	}

	q := "SELECT * FROM " + table + where
	if len(order) > 0 {
		parts := make([]string, 0, len(order))
		for _, o := range order {
			col, err := b.ident(o.Field)
			if err != nil {
				return "", nil, err
			}
			if o.Desc {
				col += " DESC"
			} else {
				col += " ASC"
			}
			parts = append(parts, col)
		}
		q += " ORDER BY " + strings.Join(parts, ", ")
	}
	return q, b.args, nil
}

func buildInsert(d Dialect, collection string, rec backend.Record) (string, []any, error) {
	b := &builder{d: d}
	table, err := b.ident(collection)
	if err != nil {
		return "", nil, err
	}

	cols := sortedKeys(rec)
	quoted := make([]string, 0, len(cols))
	ph := make([]string, 0, len(cols))
	for _, c := range cols {
		col, err := b.ident(c)
		if err != nil {
			return "", nil, err
		}
		quoted = append(quoted, col)
		ph = append(ph, b.arg(rec[c]))
	}

	q := "INSERT INTO " + table + " (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(ph, ", ") + ")"
	if d.Returning() {
		q += " RETURNING *"
	}
	return q, b.args, nil
}

// buildUpdate returns an empty query when the patch has nothing to set.
func buildUpdate(d Dialect, collection string, filters []backend.Filter, patch backend.Record) (string, []any, error) {
	b := &builder{d: d}
	table, err := b.ident(collection)
	if err != nil {
		return "", nil, err
	}

	var sets []string
	for _, c := range sortedKeys(patch) {
		if c == "id" {
			continue
		}
		col, err := b.ident(c)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, col+" = "+b.arg(patch[c]))
	}
	if len(sets) == 0 {
		return "", nil, nil
	}

	where, err := b.where(filters)
	if err != nil {
		return "", nil, err
	}
	return "UPDATE " + table + " SET " + strings.Join(sets, ", ") + where, b.args, nil
}

func buildDelete(d Dialect, collection string, filters []backend.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("%w: refusing unfiltered delete", backend.ErrInvalid)
	}
	b := &builder{d: d}
	table, err := b.ident(collection)
	if err != nil {
		return "", nil, err
	}
	where, err := b.where(filters)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM " + table + where, b.args, nil
}

func sortedKeys(rec backend.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
