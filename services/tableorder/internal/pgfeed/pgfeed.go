// Package pgfeed turns PostgreSQL NOTIFY payloads written by the row
// triggers into change events.
package pgfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

// Feed implements backend.ChangeFeed on a dedicated LISTEN connection.
type Feed struct {
	dsn     string
	channel string
	logger  aqm.Logger
	backoff time.Duration

	*backend.Hub

	mu     sync.Mutex
	pool   *pgxpool.Pool
	cancel context.CancelFunc
	done   chan struct{}
}

func New(dsn, channel string, logger aqm.Logger) *Feed {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Feed{
		dsn:     dsn,
		channel: channel,
		logger:  logger,
		backoff: 2 * time.Second,
		Hub:     backend.NewHub(),
	}
}

func (f *Feed) Start(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, f.dsn)
	if err != nil {
		return fmt.Errorf("cannot create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("cannot reach postgres: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.pool = pool
	f.cancel = cancel
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	go func() {
		defer close(done)
		f.run(runCtx, pool)
	}()

	f.logger.Infof("pg change feed listening on %s", f.channel)
	return nil
}

func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	cancel, done, pool := f.cancel, f.done, f.pool
	f.cancel, f.done, f.pool = nil, nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	pool.Close()
	return nil
}

// run keeps a LISTEN connection open, reconnecting after failures.
func (f *Feed) run(ctx context.Context, pool *pgxpool.Pool) {
	for {
		err := f.listen(ctx, pool)
		if ctx.Err() != nil {
			return
		}
		f.logger.Error("pg change feed interrupted", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.backoff):
		}
	}
}

func (f *Feed) listen(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return err
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := decodeNotification([]byte(n.Payload))
		if err != nil {
			f.logger.Error("skipping malformed notification", "error", err)
			continue
		}
		f.Dispatch(ev)
	}
}

type notification struct {
	Kind       string         `json:"kind"`
	Collection string         `json:"collection"`
	Record     map[string]any `json:"record"`
}

func decodeNotification(payload []byte) (backend.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return backend.ChangeEvent{}, err
	}
	kind := backend.EventKind(n.Kind)
	switch kind {
	case backend.EventInsert, backend.EventUpdate, backend.EventDelete:
	default:
		return backend.ChangeEvent{}, fmt.Errorf("unknown event kind %q", n.Kind)
	}
	if n.Collection == "" || n.Record == nil {
		return backend.ChangeEvent{}, errors.New("notification without collection or record")
	}
	return backend.ChangeEvent{Kind: kind, Collection: n.Collection, Record: backend.Record(n.Record)}, nil
}
