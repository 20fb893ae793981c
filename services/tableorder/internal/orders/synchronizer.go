package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aquamarinepk/aqm"

	"github.com/appetiteclub/tableorder/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

var (
	ErrSuperseded      = errors.New("superseded by a newer load")
	ErrAlreadyAttached = errors.New("change feed already attached")
	ErrNotAttachable   = errors.New("change feed not configured")
	ErrInvalidStatus   = errors.New("invalid order status")
	ErrEmptyOrder      = errors.New("order has no line items")
	ErrMissingTable    = errors.New("missing table")
)

// Entry is an order as the view shows it. Pending marks an optimistic status
// change that the backend has not confirmed yet.
type Entry struct {
	Order   restaurant.Order
	Pending bool
}

type entry struct {
	// order.Status is the last confirmed status.
	order   restaurant.Order
	pending *pendingChange
}

type pendingChange struct {
	status orderstatus.Status
	seq    uint64
}

func (e *entry) view() Entry {
	o := e.order.Clone()
	if e.pending != nil {
		o.Status = e.pending.status
	}
	return Entry{Order: o, Pending: e.pending != nil}
}

// Placement is the outcome of PlaceOrUpdateOrder.
type Placement struct {
	Order   restaurant.Order
	Created bool
}

type Deps struct {
	Query  backend.Querier
	Mutate backend.Mutator
	Feed   backend.ChangeFeed
	Locker ScopeLocker
	Logger aqm.Logger
}

// Synchronizer holds the view-facing order list of one scope, reconciling an
// initial load, change feed events and local mutations.
type Synchronizer struct {
	scope  Scope
	query  backend.Querier
	mutate backend.Mutator
	feed   backend.ChangeFeed
	locker ScopeLocker
	logger aqm.Logger

	mu      sync.Mutex
	entries map[string]*entry
	ordered []*entry
	latest  uint64
	seq     uint64

	// replay holds changes applied while a load is in flight, so the loaded
	// state can catch up with them.
	loading int
	replay  []func() bool

	attached  bool
	attachGen uint64
	handles   []backend.Handle

	changes chan struct{}
}

func NewSynchronizer(scope Scope, deps Deps) *Synchronizer {
	logger := deps.Logger
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Synchronizer{
		scope:   scope,
		query:   deps.Query,
		mutate:  deps.Mutate,
		feed:    deps.Feed,
		locker:  locker,
		logger:  logger.With("scope", scope.Key()),
		entries: make(map[string]*entry),
		changes: make(chan struct{}, 1),
	}
}

func (s *Synchronizer) Scope() Scope {
	return s.scope
}

// Changes signals after every visible change. Signals coalesce.
func (s *Synchronizer) Changes() <-chan struct{} {
	return s.changes
}

func (s *Synchronizer) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Snapshot returns the entries newest first.
func (s *Synchronizer) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.ordered))
	for _, e := range s.ordered {
		out = append(out, e.view())
	}
	return out
}

func (s *Synchronizer) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.view(), true
}

func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ordered)
}

// LoadInitial replaces local state with the scope's orders and their line
// items. Events and confirmed writes that land while the fetch is in flight
// are applied again on top of the loaded orders. A load overtaken by a newer
// one is discarded with ErrSuperseded.
func (s *Synchronizer) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	s.latest++
	token := s.latest
	if s.loading == 0 {
		s.replay = nil
	}
	s.loading++
	s.mu.Unlock()

	loaded, err := s.fetch(ctx)

	s.mu.Lock()
	s.loading--
	if token != s.latest {
		s.endLoadLocked()
		s.mu.Unlock()
		s.logger.Debug("discarding stale order load", "token", token)
		return ErrSuperseded
	}
	if err != nil {
		s.endLoadLocked()
		s.mu.Unlock()
		return err
	}

	entries := make(map[string]*entry, len(loaded))
	ordered := make([]*entry, 0, len(loaded))
	for _, o := range loaded {
		if _, dup := entries[o.ID]; dup {
			continue
		}
		e := &entry{order: o}
		if prev, ok := s.entries[o.ID]; ok && prev.pending != nil {
			e.pending = prev.pending
		}
		entries[o.ID] = e
		ordered = append(ordered, e)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return before(ordered[i].order, ordered[j].order)
	})
	s.entries = entries
	s.ordered = ordered
	replayed := len(s.replay)
	for _, op := range s.replay {
		op()
	}
	count := len(s.ordered)
	s.endLoadLocked()
	s.mu.Unlock()

	s.logger.Debug("orders loaded", "count", count, "replayed", replayed)
	s.notify()
	return nil
}

// applyLocked runs op on the current state and keeps it for replay when a
// load is in flight.
func (s *Synchronizer) applyLocked(op func() bool) bool {
	if s.loading > 0 {
		s.replay = append(s.replay, op)
	}
	return op()
}

func (s *Synchronizer) endLoadLocked() {
	if s.loading == 0 {
		s.replay = nil
	}
}

func (s *Synchronizer) fetch(ctx context.Context) ([]restaurant.Order, error) {
	if s.query == nil {
		return nil, errors.New("order query not configured")
	}

	recs, err := s.query.Fetch(ctx, backend.Orders, s.scope.filters(), []backend.Sort{backend.Desc("created_at")})
	if err != nil {
		return nil, fmt.Errorf("cannot load orders: %w", err)
	}

	orders, rejected := restaurant.DecodeAll(recs, restaurant.DecodeOrder)
	s.quarantine(rejected)
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}

	itemRecs, err := s.query.Fetch(ctx, backend.OrderItems,
		[]backend.Filter{backend.In("order_id", ids)},
		[]backend.Sort{backend.Asc("created_at")})
	if err != nil {
		return nil, fmt.Errorf("cannot load order items: %w", err)
	}

	items, rejected := restaurant.DecodeAll(itemRecs, restaurant.DecodeOrderItem)
	s.quarantine(rejected)

	byOrder := make(map[string][]restaurant.OrderItem, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for i := range orders {
		if extra := byOrder[orders[i].ID]; len(extra) > 0 {
			orders[i].Items = mergeItems(orders[i].Items, extra)
		}
	}
	return orders, nil
}

// OnRemoteEvent applies one change feed notification.
func (s *Synchronizer) OnRemoteEvent(ev backend.ChangeEvent) {
	var changed bool

	switch ev.Collection {
	case backend.Orders:
		changed = s.applyOrderEvent(ev)
	case backend.OrderItems:
		changed = s.applyItemEvent(ev)
	}

	if changed {
		s.notify()
	}
}

func (s *Synchronizer) applyOrderEvent(ev backend.ChangeEvent) bool {
	if ev.Kind == backend.EventDelete {
		id := ev.Record.ID()
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.applyLocked(func() bool { return s.removeLocked(id) })
	}

	o, err := restaurant.DecodeOrder(ev.Record)
	if err != nil {
		s.quarantine([]error{err})
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(func() bool { return s.upsertLocked(o) })
}

func (s *Synchronizer) applyItemEvent(ev backend.ChangeEvent) bool {
	if ev.Kind == backend.EventDelete {
		orderID, _ := ev.Record["order_id"].(string)
		itemID := ev.Record.ID()
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.applyLocked(func() bool { return s.removeItemLocked(orderID, itemID) })
	}

	it, err := restaurant.DecodeOrderItem(ev.Record)
	if err != nil {
		s.quarantine([]error{err})
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(func() bool {
		e, ok := s.entries[it.OrderID]
		if !ok {
			return false
		}
		e.order.Items = mergeItems(e.order.Items, []restaurant.OrderItem{it})
		return true
	})
}

// upsertLocked replaces an entry in place or inserts it at its sorted
// position. Orders leaving the scope are dropped.
func (s *Synchronizer) upsertLocked(o restaurant.Order) bool {
	if !s.scope.Contains(o) {
		return s.removeLocked(o.ID)
	}

	if e, ok := s.entries[o.ID]; ok {
		if o.Items == nil {
			o.Items = e.order.Items
		}
		e.order = o
		return true
	}

	e := &entry{order: o}
	idx := sort.Search(len(s.ordered), func(i int) bool {
		return before(o, s.ordered[i].order)
	})
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[idx+1:], s.ordered[idx:])
	s.ordered[idx] = e
	s.entries[o.ID] = e
	return true
}

func (s *Synchronizer) removeLocked(id string) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	for i, cur := range s.ordered {
		if cur == e {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	return true
}

func (s *Synchronizer) removeItemLocked(orderID, itemID string) bool {
	for _, e := range s.ordered {
		if orderID != "" && e.order.ID != orderID {
			continue
		}
		for i, it := range e.order.Items {
			if it.ID == itemID {
				e.order.Items = append(e.order.Items[:i:i], e.order.Items[i+1:]...)
				return true
			}
		}
	}
	return false
}

// SetStatus patches the local entry optimistically, then writes the status.
// When the write fails the entry reverts to its last confirmed status and the
// error is returned.
func (s *Synchronizer) SetStatus(ctx context.Context, orderID string, status orderstatus.Status) error {
	if orderstatus.ByName(status.Name) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status.Name)
	}
	if s.mutate == nil {
		return errors.New("order mutator not configured")
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	e, patched := s.entries[orderID]
	if patched {
		e.pending = &pendingChange{status: status, seq: seq}
	}
	s.mu.Unlock()
	if patched {
		s.notify()
	}

	err := s.mutate.Update(ctx, backend.Orders,
		[]backend.Filter{backend.Eq("id", orderID)},
		backend.Record{"status": status.Code()})

	s.mu.Lock()
	changed := false
	if err == nil {
		changed = s.applyLocked(func() bool {
			e, ok := s.entries[orderID]
			if !ok || e.order.Status == status {
				return false
			}
			e.order.Status = status
			return true
		})
	}
	if e, ok := s.entries[orderID]; ok && e.pending != nil && e.pending.seq == seq {
		e.pending = nil
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}

	if err != nil {
		s.logger.Info("order status change reverted", "order_id", orderID, "status", status.Code(), "error", err)
		return fmt.Errorf("cannot set order %s to %s: %w", orderID, status.Code(), err)
	}
	return nil
}

// PlaceOrUpdateOrder appends lines to the table's open order, or opens a new
// one. Calls for the same table are serialized, so concurrent submissions end
// up in a single open order.
func (s *Synchronizer) PlaceOrUpdateOrder(ctx context.Context, tableID string, lines []restaurant.OrderItem) (Placement, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return Placement{}, ErrMissingTable
	}
	lines = validLines(lines)
	if len(lines) == 0 {
		return Placement{}, ErrEmptyOrder
	}
	if s.query == nil || s.mutate == nil {
		return Placement{}, errors.New("order backend not configured")
	}

	unlock, err := s.locker.Lock(ctx, TableScope(tableID).Key())
	if err != nil {
		return Placement{}, fmt.Errorf("cannot lock table %s: %w", tableID, err)
	}
	defer unlock()

	open, err := s.findOpen(ctx, tableID)
	if err != nil {
		return Placement{}, err
	}

	var order restaurant.Order
	created := open == nil
	if created {
		rec, err := s.mutate.Insert(ctx, backend.Orders, backend.Record{
			"table_id": tableID,
			"status":   orderstatus.Statuses.Pending.Code(),
		})
		if err != nil {
			return Placement{}, fmt.Errorf("cannot create order: %w", err)
		}
		order, err = restaurant.DecodeOrder(rec)
		if err != nil {
			s.compensate(ctx, rec.ID(), true, nil)
			return Placement{}, fmt.Errorf("cannot read created order: %w", err)
		}
	} else {
		order = *open
	}

	var added []restaurant.OrderItem
	for _, l := range lines {
		rec := backend.Record{
			"order_id":     order.ID,
			"menu_item_id": l.MenuItemID,
			"qty":          l.Qty,
		}
		if l.Note != "" {
			rec["note"] = l.Note
		}
		saved, err := s.mutate.Insert(ctx, backend.OrderItems, rec)
		if err != nil {
			s.compensate(ctx, order.ID, created, added)
			return Placement{}, fmt.Errorf("cannot add items to order %s: %w", order.ID, err)
		}
		it, derr := restaurant.DecodeOrderItem(saved)
		if derr != nil {
			it = l
			it.ID = saved.ID()
		}
		it.OrderID = order.ID
		added = append(added, it)
	}

	order.Items = mergeItems(order.Items, added)
	s.mu.Lock()
	s.applyLocked(func() bool {
		o := order
		if e, ok := s.entries[o.ID]; ok {
			o.Items = mergeItems(e.order.Items, o.Items)
		}
		return s.upsertLocked(o)
	})
	s.mu.Unlock()
	s.notify()

	s.logger.Info("order placed", "order_id", order.ID, "table_id", tableID, "created", created, "lines", len(added))
	return Placement{Order: order.Clone(), Created: created}, nil
}

// findOpen returns the newest open order of the table, with its items.
func (s *Synchronizer) findOpen(ctx context.Context, tableID string) (*restaurant.Order, error) {
	recs, err := s.query.Fetch(ctx, backend.Orders,
		TableScope(tableID).filters(),
		[]backend.Sort{backend.Desc("created_at")})
	if err != nil {
		return nil, fmt.Errorf("cannot look up open order: %w", err)
	}

	found, rejected := restaurant.DecodeAll(recs, restaurant.DecodeOrder)
	s.quarantine(rejected)
	if len(found) == 0 {
		return nil, nil
	}

	o := found[0]
	itemRecs, err := s.query.Fetch(ctx, backend.OrderItems,
		[]backend.Filter{backend.Eq("order_id", o.ID)},
		[]backend.Sort{backend.Asc("created_at")})
	if err != nil {
		return nil, fmt.Errorf("cannot load order items: %w", err)
	}
	items, rejected := restaurant.DecodeAll(itemRecs, restaurant.DecodeOrderItem)
	s.quarantine(rejected)
	o.Items = mergeItems(o.Items, items)
	return &o, nil
}

// compensate removes what a failed placement wrote.
func (s *Synchronizer) compensate(ctx context.Context, orderID string, created bool, added []restaurant.OrderItem) {
	ctx = context.WithoutCancel(ctx)

	if len(added) > 0 {
		ids := make([]string, 0, len(added))
		for _, it := range added {
			if it.ID != "" {
				ids = append(ids, it.ID)
			}
		}
		if len(ids) > 0 {
			if err := s.mutate.Delete(ctx, backend.OrderItems, []backend.Filter{backend.In("id", ids)}); err != nil {
				s.logger.Error("cannot roll back order items", "order_id", orderID, "error", err)
			}
		}
	}

	if created && orderID != "" {
		if err := s.mutate.Delete(ctx, backend.Orders, []backend.Filter{backend.Eq("id", orderID)}); err != nil {
			s.logger.Error("cannot roll back order", "order_id", orderID, "error", err)
		}
	}
}

// Attach subscribes to order and order item changes. Only one attachment
// may be held at a time.
func (s *Synchronizer) Attach(ctx context.Context) error {
	if s.feed == nil {
		return ErrNotAttachable
	}

	s.mu.Lock()
	if s.attached {
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.attached = true
	s.attachGen++
	gen := s.attachGen
	s.mu.Unlock()

	var handles []backend.Handle
	subscribe := func(collection string, kinds ...backend.EventKind) error {
		h, err := s.feed.Subscribe(ctx, collection, kinds, s.OnRemoteEvent)
		if err != nil {
			return fmt.Errorf("cannot subscribe to %s: %w", collection, err)
		}
		handles = append(handles, h)
		return nil
	}

	err := subscribe(backend.Orders, backend.EventInsert, backend.EventUpdate)
	if err == nil {
		err = subscribe(backend.OrderItems, backend.EventInsert, backend.EventUpdate, backend.EventDelete)
	}

	s.mu.Lock()
	current := s.attached && s.attachGen == gen
	if err == nil && current {
		s.handles = handles
		s.mu.Unlock()
		s.logger.Debug("change feed attached")
		return nil
	}
	if err != nil && current {
		s.attached = false
	}
	s.mu.Unlock()

	s.release(handles)
	return err
}

// Detach releases the change feed subscription. It is safe to call when
// never attached or already detached.
func (s *Synchronizer) Detach() error {
	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return nil
	}
	handles := s.handles
	s.handles = nil
	s.attached = false
	s.mu.Unlock()

	err := s.release(handles)
	s.logger.Debug("change feed detached")
	return err
}

func (s *Synchronizer) release(handles []backend.Handle) error {
	var errs []error
	for _, h := range handles {
		if err := s.feed.Unsubscribe(h); err != nil {
			s.logger.Error("cannot unsubscribe change feed", "handle", h, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Activate attaches to the change feed and loads the scope. The returned
// release detaches exactly once and is meant to be deferred by the view.
func (s *Synchronizer) Activate(ctx context.Context) (func(), error) {
	if err := s.Attach(ctx); err != nil {
		return nil, err
	}

	if err := s.LoadInitial(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		_ = s.Detach()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = s.Detach()
		})
	}, nil
}

func (s *Synchronizer) quarantine(errs []error) {
	for _, err := range errs {
		s.logger.Error("skipping malformed record", "error", err)
	}
}

// before orders newest first, ties broken by id.
func before(a, b restaurant.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func mergeItems(existing, incoming []restaurant.OrderItem) []restaurant.OrderItem {
	out := append([]restaurant.OrderItem(nil), existing...)
	for _, it := range incoming {
		replaced := false
		if it.ID != "" {
			for i := range out {
				if out[i].ID == it.ID {
					out[i] = it
					replaced = true
					break
				}
			}
		}
		if !replaced {
			out = append(out, it)
		}
	}
	return out
}

func validLines(lines []restaurant.OrderItem) []restaurant.OrderItem {
	out := make([]restaurant.OrderItem, 0, len(lines))
	for _, l := range lines {
		if l.Qty <= 0 || strings.TrimSpace(l.MenuItemID) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}
