package pkg

import "context"

// HandlerFunc processes one message payload. A non-nil error asks stream
// transports for redelivery.
type HandlerFunc func(ctx context.Context, data []byte) error

type Publisher interface {
	Publish(ctx context.Context, topic string, msg []byte) error
}

// StreamMessage is a replayed stream entry.
type StreamMessage struct {
	Data      []byte
	Subject   string
	Sequence  uint64
	Timestamp int64
}
