package backend

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Hub is a subscription registry for ChangeFeed implementations that
// receive events from an external source and fan them out locally.
type Hub struct {
	mu   sync.RWMutex
	subs map[Handle]*hubSub
}

type hubSub struct {
	collection string
	kinds      []EventKind
	fn         func(ChangeEvent)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[Handle]*hubSub)}
}

func (h *Hub) Subscribe(ctx context.Context, collection string, kinds []EventKind, fn func(ChangeEvent)) (Handle, error) {
	if fn == nil {
		return "", Wrap("subscribe", collection, ErrInvalid)
	}
	handle := Handle(uuid.NewString())
	h.mu.Lock()
	h.subs[handle] = &hubSub{collection: collection, kinds: kinds, fn: fn}
	h.mu.Unlock()
	return handle, nil
}

func (h *Hub) Unsubscribe(handle Handle) error {
	h.mu.Lock()
	delete(h.subs, handle)
	h.mu.Unlock()
	return nil
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dispatch delivers ev to every matching subscriber, each with its own copy
// of the record. Callbacks run on the caller's goroutine.
func (h *Hub) Dispatch(ev ChangeEvent) {
	h.mu.RLock()
	var targets []func(ChangeEvent)
	for _, s := range h.subs {
		if s.collection == ev.Collection && Wants(s.kinds, ev.Kind) {
			targets = append(targets, s.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		fn(ChangeEvent{Kind: ev.Kind, Collection: ev.Collection, Record: ev.Record.Clone()})
	}
}
