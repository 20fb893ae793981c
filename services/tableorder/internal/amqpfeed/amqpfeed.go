// Package amqpfeed carries row changes over a RabbitMQ topic exchange. Every
// instance binds its own exclusive queue so all live views see all changes.
package amqpfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/appetiteclub/tableorder/pkg"
	"github.com/appetiteclub/tableorder/pkg/event"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/changes"
)

const defaultExchange = "tableorder_changes"

type Feed struct {
	url      string
	exchange string
	logger   aqm.Logger

	*backend.Hub

	mu      sync.Mutex
	conn    *amqp.Connection
	pubCh   *amqp.Channel
	acks    <-chan amqp.Confirmation
	cancel  context.CancelFunc
	done    chan struct{}
	handler pkg.HandlerFunc
}

func New(url, exchange string, logger aqm.Logger) *Feed {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if exchange == "" {
		exchange = defaultExchange
	}
	f := &Feed{url: url, exchange: exchange, logger: logger, Hub: backend.NewHub()}
	f.handler = changes.Dispatcher(f.Hub, logger)
	return f
}

func (f *Feed) Start(ctx context.Context) error {
	conn, err := amqp.Dial(f.url)
	if err != nil {
		return fmt.Errorf("cannot connect to RabbitMQ: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("cannot open publish channel: %w", err)
	}
	if err := pubCh.ExchangeDeclare(f.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("cannot declare exchange %s: %w", f.exchange, err)
	}
	if err := pubCh.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("cannot enable publisher confirms: %w", err)
	}
	acks := pubCh.NotifyPublish(make(chan amqp.Confirmation, 1))

	subCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("cannot open consume channel: %w", err)
	}
	q, err := subCh.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("cannot declare queue: %w", err)
	}
	if err := subCh.QueueBind(q.Name, event.ChangesTopic+".#", f.exchange, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("cannot bind queue: %w", err)
	}
	if err := subCh.Qos(32, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("cannot set prefetch: %w", err)
	}
	deliveries, err := subCh.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("cannot consume %s: %w", q.Name, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	f.mu.Lock()
	f.conn, f.pubCh, f.acks = conn, pubCh, acks
	f.cancel, f.done = cancel, done
	f.mu.Unlock()

	go func() {
		defer close(done)
		f.consume(runCtx, deliveries)
	}()

	f.logger.Info("AMQP change feed started", "exchange", f.exchange, "queue", q.Name)
	return nil
}

func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	conn, cancel, done := f.conn, f.cancel, f.done
	f.conn, f.pubCh, f.acks, f.cancel, f.done = nil, nil, nil, nil, nil
	f.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Close()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("cannot close RabbitMQ connection: %w", err)
	}
	return nil
}

// Publish sends a change and waits for the broker confirm.
func (f *Feed) Publish(ctx context.Context, topic string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pubCh == nil {
		return fmt.Errorf("AMQP change feed not started")
	}

	err := f.pubCh.PublishWithContext(ctx, f.exchange, topic, false, false, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         msg,
	})
	if err != nil {
		return fmt.Errorf("cannot publish %s: %w", topic, err)
	}

	select {
	case conf := <-f.acks:
		if !conf.Ack {
			return fmt.Errorf("broker rejected %s", topic)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() == nil {
					f.logger.Error("AMQP delivery channel closed")
				}
				return
			}
			if err := f.handler(ctx, d.Body); err != nil {
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
