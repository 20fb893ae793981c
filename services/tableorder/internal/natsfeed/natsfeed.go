// Package natsfeed carries row changes over NATS, optionally through a
// JetStream stream for at-least-once delivery.
package natsfeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"

	"github.com/appetiteclub/tableorder/pkg"
	"github.com/appetiteclub/tableorder/pkg/event"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/changes"
)

type Config struct {
	URL      string
	Stream   string // JetStream stream name; empty uses core NATS
	Consumer string
	MaxAge   time.Duration
}

// transport is what the feed needs from a NATS connection.
type transport interface {
	pkg.Publisher
	Subscribe(ctx context.Context, topic string, handler pkg.HandlerFunc) error
	Close() error
}

type Feed struct {
	cfg    Config
	logger aqm.Logger
	dial   func(Config, aqm.Logger) (transport, error)

	*backend.Hub

	mu sync.Mutex
	tr transport
}

func New(cfg Config, logger aqm.Logger) *Feed {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	return &Feed{cfg: cfg, logger: logger, dial: dial, Hub: backend.NewHub()}
}

func (f *Feed) Start(ctx context.Context) error {
	tr, err := f.dial(f.cfg, f.logger)
	if err != nil {
		return err
	}
	if err := tr.Subscribe(ctx, event.ChangesTopic+".>", changes.Dispatcher(f.Hub, f.logger)); err != nil {
		_ = tr.Close()
		return err
	}

	f.mu.Lock()
	f.tr = tr
	f.mu.Unlock()

	f.logger.Info("NATS change feed started", "url", f.cfg.URL, "stream", f.cfg.Stream)
	return nil
}

func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	tr := f.tr
	f.tr = nil
	f.mu.Unlock()

	if tr == nil {
		return nil
	}
	return tr.Close()
}

// Publish sends a change message on the feed's connection.
func (f *Feed) Publish(ctx context.Context, topic string, msg []byte) error {
	f.mu.Lock()
	tr := f.tr
	f.mu.Unlock()

	if tr == nil {
		return fmt.Errorf("NATS change feed not started")
	}
	return tr.Publish(ctx, topic, msg)
}

func dial(cfg Config, logger aqm.Logger) (transport, error) {
	if cfg.Stream != "" {
		stream, err := pkg.NewNATSStream(pkg.NATSStreamConfig{
			URL:          cfg.URL,
			StreamName:   cfg.Stream,
			Topic:        event.ChangesTopic + ".>",
			ConsumerName: cfg.Consumer,
			MaxAge:       cfg.MaxAge,
		}, logger)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}

	pub, err := pkg.NewNATSPublisher(cfg.URL)
	if err != nil {
		return nil, err
	}
	sub, err := pkg.NewNATSSubscriber(cfg.URL, logger)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	return &coreTransport{NATSPublisher: pub, sub: sub}, nil
}

type coreTransport struct {
	*pkg.NATSPublisher
	sub *pkg.NATSSubscriber
}

func (t *coreTransport) Subscribe(ctx context.Context, topic string, handler pkg.HandlerFunc) error {
	return t.sub.Subscribe(ctx, topic, handler)
}

func (t *coreTransport) Close() error {
	_ = t.sub.Close()
	return t.NATSPublisher.Close()
}
