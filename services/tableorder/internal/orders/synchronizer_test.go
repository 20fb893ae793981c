package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/appetiteclub/tableorder/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedOrder(t *testing.T, m *MockBackend, id, tableID, status string, minute int) {
	t.Helper()
	_, err := m.store.Insert(context.Background(), backend.Orders, backend.Record{
		"id":         id,
		"table_id":   tableID,
		"status":     status,
		"created_at": baseTime.Add(time.Duration(minute) * time.Minute),
	})
	if err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
}

func orderRecord(id, tableID, status string, minute int) backend.Record {
	return backend.Record{
		"id":         id,
		"table_id":   tableID,
		"status":     status,
		"created_at": baseTime.Add(time.Duration(minute) * time.Minute).Format(time.RFC3339),
	}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Order.ID)
	}
	return out
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoadInitialThenRemoteUpdate(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "pending", 0)

	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	s.OnRemoteEvent(backend.ChangeEvent{
		Kind:       backend.EventUpdate,
		Collection: backend.Orders,
		Record:     orderRecord("A", "T1", "served", 0),
	})

	got := s.Snapshot()
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Order.ID != "A" || got[0].Order.Status != orderstatus.Statuses.Served {
		t.Errorf("entry = %s/%s, want A/served", got[0].Order.ID, got[0].Order.Status)
	}
}

func TestOnRemoteEventUpsert(t *testing.T) {
	tests := []struct {
		name    string
		event   backend.ChangeEvent
		wantIDs []string
	}{
		{
			name:    "replaceKeepsPosition",
			event:   backend.ChangeEvent{Kind: backend.EventUpdate, Collection: backend.Orders, Record: orderRecord("B", "T1", "preparing", 10)},
			wantIDs: []string{"C", "B", "A"},
		},
		{
			name:    "newestGoesFirst",
			event:   backend.ChangeEvent{Kind: backend.EventInsert, Collection: backend.Orders, Record: orderRecord("D", "T2", "pending", 30)},
			wantIDs: []string{"D", "C", "B", "A"},
		},
		{
			name:    "olderGoesBySortKey",
			event:   backend.ChangeEvent{Kind: backend.EventInsert, Collection: backend.Orders, Record: orderRecord("X", "T2", "pending", 15)},
			wantIDs: []string{"C", "X", "B", "A"},
		},
		{
			name:    "sameTimeBrokenByID",
			event:   backend.ChangeEvent{Kind: backend.EventInsert, Collection: backend.Orders, Record: orderRecord("BB", "T2", "pending", 10)},
			wantIDs: []string{"C", "BB", "B", "A"},
		},
		{
			name:    "malformedIgnored",
			event:   backend.ChangeEvent{Kind: backend.EventInsert, Collection: backend.Orders, Record: backend.Record{"id": "Z", "status": "lost"}},
			wantIDs: []string{"C", "B", "A"},
		},
		{
			name:    "otherCollectionIgnored",
			event:   backend.ChangeEvent{Kind: backend.EventInsert, Collection: backend.MenuItems, Record: backend.Record{"id": "M"}},
			wantIDs: []string{"C", "B", "A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockBackend()
			seedOrder(t, m, "A", "T1", "pending", 0)
			seedOrder(t, m, "B", "T1", "pending", 10)
			seedOrder(t, m, "C", "T1", "pending", 20)

			s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})
			if err := s.LoadInitial(context.Background()); err != nil {
				t.Fatalf("LoadInitial() error = %v", err)
			}

			s.OnRemoteEvent(tt.event)
			s.OnRemoteEvent(tt.event)

			if got := ids(s.Snapshot()); !sameIDs(got, tt.wantIDs) {
				t.Errorf("ids = %v, want %v", got, tt.wantIDs)
			}
		})
	}
}

func TestOnRemoteEventTableScope(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "served", 0)
	seedOrder(t, m, "B", "T2", "pending", 1)

	s := NewSynchronizer(TableScope("T1"), Deps{Query: m, Mutate: m})
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}
	if got := ids(s.Snapshot()); !sameIDs(got, []string{"A"}) {
		t.Fatalf("ids = %v, want [A]", got)
	}

	s.OnRemoteEvent(backend.ChangeEvent{Kind: backend.EventInsert, Collection: backend.Orders, Record: orderRecord("C", "T2", "pending", 2)})
	if s.Len() != 1 {
		t.Errorf("order of another table should be ignored, len = %d", s.Len())
	}

	s.OnRemoteEvent(backend.ChangeEvent{Kind: backend.EventUpdate, Collection: backend.Orders, Record: orderRecord("A", "T1", "paid", 0)})
	if s.Len() != 0 {
		t.Errorf("paid order should leave the table scope, len = %d", s.Len())
	}
}

func TestOnRemoteEventItems(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "pending", 0)

	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	item := backend.Record{"id": "i1", "order_id": "A", "menu_item_id": "m1", "qty": 2}
	s.OnRemoteEvent(backend.ChangeEvent{Kind: backend.EventInsert, Collection: backend.OrderItems, Record: item})
	s.OnRemoteEvent(backend.ChangeEvent{Kind: backend.EventInsert, Collection: backend.OrderItems, Record: item})

	e, _ := s.Get("A")
	if len(e.Order.Items) != 1 || e.Order.Items[0].Qty != 2 {
		t.Fatalf("items = %+v, want one line of qty 2", e.Order.Items)
	}

	updated := item.Clone()
	updated["qty"] = 3
	s.OnRemoteEvent(backend.ChangeEvent{Kind: backend.EventUpdate, Collection: backend.OrderItems, Record: updated})
	e, _ = s.Get("A")
	if e.Order.Items[0].Qty != 3 {
		t.Errorf("qty = %d, want 3", e.Order.Items[0].Qty)
	}

	s.OnRemoteEvent(backend.ChangeEvent{Kind: backend.EventUpdate, Collection: backend.Orders, Record: orderRecord("A", "T1", "preparing", 0)})
	e, _ = s.Get("A")
	if len(e.Order.Items) != 1 {
		t.Error("header update should keep known items")
	}

	s.OnRemoteEvent(backend.ChangeEvent{Kind: backend.EventDelete, Collection: backend.OrderItems, Record: backend.Record{"id": "i1", "order_id": "A"}})
	e, _ = s.Get("A")
	if len(e.Order.Items) != 0 {
		t.Errorf("items = %+v, want none", e.Order.Items)
	}
}

func TestLoadInitialAttachesItemsAndSkipsMalformed(t *testing.T) {
	m := NewMockBackend()
	ctx := context.Background()
	seedOrder(t, m, "A", "T1", "pending", 0)
	seedOrder(t, m, "B", "T1", "bogus", 1)
	for _, rec := range []backend.Record{
		{"id": "i1", "order_id": "A", "menu_item_id": "m1", "qty": 1, "created_at": baseTime},
		{"id": "i2", "order_id": "A", "menu_item_id": "m2", "qty": 0, "created_at": baseTime},
		{"id": "i3", "order_id": "A", "menu_item_id": "m3", "qty": "2", "created_at": baseTime.Add(time.Second)},
	} {
		if _, err := m.store.Insert(ctx, backend.OrderItems, rec); err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}

	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})
	if err := s.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	if got := ids(s.Snapshot()); !sameIDs(got, []string{"A"}) {
		t.Fatalf("ids = %v, want [A]", got)
	}
	e, _ := s.Get("A")
	if len(e.Order.Items) != 2 {
		t.Fatalf("items = %+v, want i1 and i3", e.Order.Items)
	}
	if e.Order.Items[0].ID != "i1" || e.Order.Items[1].ID != "i3" {
		t.Errorf("items = %s,%s want i1,i3", e.Order.Items[0].ID, e.Order.Items[1].ID)
	}
}

func TestLoadInitialFailure(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "pending", 0)
	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	m.FetchFunc = func(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
		return nil, backend.Wrap("fetch", collection, backend.ErrUnavailable)
	}
	err := s.LoadInitial(context.Background())
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("LoadInitial() error = %v, want ErrUnavailable", err)
	}
	if s.Len() != 1 {
		t.Error("failed load should keep previous state")
	}
}

func TestLoadInitialDiscardsStaleResponse(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "pending", 0)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m.FetchFunc = func(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
			return []backend.Record{orderRecord("OLD", "T1", "pending", 5)}, nil
		}
		return m.store.Fetch(ctx, collection, filters, order)
	}

	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})

	errc := make(chan error, 1)
	go func() { errc <- s.LoadInitial(context.Background()) }()
	<-entered

	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("second LoadInitial() error = %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first LoadInitial() error = %v, want ErrSuperseded", err)
	}
	if got := ids(s.Snapshot()); !sameIDs(got, []string{"A"}) {
		t.Errorf("ids = %v, want [A]", got)
	}
}

func TestLoadInitialKeepsChangesMadeDuringFetch(t *testing.T) {
	tests := []struct {
		name       string
		feed       bool
		on         string
		duringLoad func(t *testing.T, m *MockBackend, s *Synchronizer)
		wantStatus orderstatus.Status
		wantItems  int
	}{
		{
			name: "remoteUpdate",
			feed: true,
			duringLoad: func(t *testing.T, m *MockBackend, s *Synchronizer) {
				if err := m.store.Update(context.Background(), backend.Orders, []backend.Filter{backend.Eq("id", "A")}, backend.Record{"status": "served"}); err != nil {
					t.Errorf("Update() error = %v", err)
				}
			},
			wantStatus: orderstatus.Statuses.Served,
		},
		{
			name: "remoteItemInsert",
			feed: true,
			on:   backend.OrderItems,
			duringLoad: func(t *testing.T, m *MockBackend, s *Synchronizer) {
				if _, err := m.store.Insert(context.Background(), backend.OrderItems, backend.Record{"order_id": "A", "menu_item_id": "m2", "qty": 2}); err != nil {
					t.Errorf("Insert() error = %v", err)
				}
			},
			wantStatus: orderstatus.Statuses.Pending,
			wantItems:  1,
		},
		{
			name: "confirmedSetStatus",
			duringLoad: func(t *testing.T, m *MockBackend, s *Synchronizer) {
				if err := s.SetStatus(context.Background(), "A", orderstatus.Statuses.Preparing); err != nil {
					t.Errorf("SetStatus() error = %v", err)
				}
			},
			wantStatus: orderstatus.Statuses.Preparing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockBackend()
			seedOrder(t, m, "A", "T1", "pending", 0)

			deps := Deps{Query: m, Mutate: m}
			if tt.feed {
				deps.Feed = m
			}
			s := NewSynchronizer(AllOrders(), deps)

			var once sync.Once
			m.FetchFunc = func(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
				recs, err := m.store.Fetch(ctx, collection, filters, order)
				on := tt.on
				if on == "" {
					on = backend.Orders
				}
				if collection == on {
					once.Do(func() { tt.duringLoad(t, m, s) })
				}
				return recs, err
			}

			if tt.feed {
				release, err := s.Activate(context.Background())
				if err != nil {
					t.Fatalf("Activate() error = %v", err)
				}
				defer release()
			} else if err := s.LoadInitial(context.Background()); err != nil {
				t.Fatalf("LoadInitial() error = %v", err)
			}

			e, ok := s.Get("A")
			if !ok {
				t.Fatal("order A missing from view")
			}
			if e.Order.Status != tt.wantStatus || e.Pending {
				t.Errorf("status = %s pending=%v, want %s confirmed", e.Order.Status, e.Pending, tt.wantStatus)
			}
			if len(e.Order.Items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(e.Order.Items), tt.wantItems)
			}
		})
	}
}

func TestLoadInitialDropsReplayAfterwards(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "pending", 0)
	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	s.OnRemoteEvent(backend.ChangeEvent{Kind: backend.EventUpdate, Collection: backend.Orders, Record: orderRecord("A", "T1", "served", 0)})

	// The store still says pending; a later load must trust it.
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("second LoadInitial() error = %v", err)
	}
	if e, _ := s.Get("A"); e.Order.Status != orderstatus.Statuses.Pending {
		t.Errorf("status = %s, want pending", e.Order.Status)
	}
}

func TestSetStatusConfirms(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "pending", 0)
	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	if err := s.SetStatus(context.Background(), "A", orderstatus.Statuses.Preparing); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	e, _ := s.Get("A")
	if e.Order.Status != orderstatus.Statuses.Preparing || e.Pending {
		t.Errorf("entry = %s pending=%v, want preparing confirmed", e.Order.Status, e.Pending)
	}
	recs, _ := m.store.Fetch(context.Background(), backend.Orders, []backend.Filter{backend.Eq("id", "A")}, nil)
	if recs[0]["status"] != "preparing" {
		t.Errorf("stored status = %v, want preparing", recs[0]["status"])
	}
}

func TestSetStatusRevertsOnFailure(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "pending", 0)
	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}
	prev, _ := s.Get("A")

	started := make(chan struct{})
	fail := make(chan struct{})
	m.UpdateFunc = func(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error {
		close(started)
		<-fail
		return backend.Wrap("update", collection, backend.ErrUnauthorized)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.SetStatus(context.Background(), "A", orderstatus.Statuses.Paid) }()
	<-started

	inFlight, _ := s.Get("A")
	if inFlight.Order.Status != orderstatus.Statuses.Paid || !inFlight.Pending {
		t.Errorf("in flight = %s pending=%v, want paid pending", inFlight.Order.Status, inFlight.Pending)
	}

	close(fail)
	err := <-errc
	if !errors.Is(err, backend.ErrUnauthorized) {
		t.Fatalf("SetStatus() error = %v, want ErrUnauthorized", err)
	}

	after, _ := s.Get("A")
	if after.Order.Status != prev.Order.Status || after.Pending {
		t.Errorf("after = %s pending=%v, want %s confirmed", after.Order.Status, after.Pending, prev.Order.Status)
	}
}

func TestSetStatusInvalid(t *testing.T) {
	m := NewMockBackend()
	called := false
	m.UpdateFunc = func(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error {
		called = true
		return nil
	}
	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})

	err := s.SetStatus(context.Background(), "A", orderstatus.Status{Name: "eaten"})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("SetStatus() error = %v, want ErrInvalidStatus", err)
	}
	if called {
		t.Error("invalid status should not reach the backend")
	}
}

func TestSetStatusAllowsBackwardMove(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "served", 0)
	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m})
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	if err := s.SetStatus(context.Background(), "A", orderstatus.Statuses.Pending); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	e, _ := s.Get("A")
	if e.Order.Status != orderstatus.Statuses.Pending {
		t.Errorf("status = %s, want pending", e.Order.Status)
	}
}

func TestPlaceOrUpdateOrder(t *testing.T) {
	lines := []restaurant.OrderItem{{MenuItemID: "m1", Qty: 2}, {MenuItemID: "m2", Qty: 1, Note: "no onions"}}

	tests := []struct {
		name        string
		seed        func(t *testing.T, m *MockBackend)
		tableID     string
		lines       []restaurant.OrderItem
		wantErr     error
		wantCreated bool
		wantItems   int
		wantStatus  orderstatus.Status
	}{
		{
			name:        "createsOrder",
			tableID:     "T1",
			lines:       lines,
			wantCreated: true,
			wantItems:   2,
			wantStatus:  orderstatus.Statuses.Pending,
		},
		{
			name: "appendsToOpenOrder",
			seed: func(t *testing.T, m *MockBackend) {
				seedOrder(t, m, "A", "T1", "served", 0)
				_, _ = m.store.Insert(context.Background(), backend.OrderItems, backend.Record{"order_id": "A", "menu_item_id": "m9", "qty": 1})
			},
			tableID:    "T1",
			lines:      lines,
			wantItems:  3,
			wantStatus: orderstatus.Statuses.Served,
		},
		{
			name: "paidOrderIsNotReopened",
			seed: func(t *testing.T, m *MockBackend) {
				seedOrder(t, m, "A", "T1", "paid", 0)
			},
			tableID:     "T1",
			lines:       lines,
			wantCreated: true,
			wantItems:   2,
			wantStatus:  orderstatus.Statuses.Pending,
		},
		{
			name:    "missingTable",
			tableID: " ",
			lines:   lines,
			wantErr: ErrMissingTable,
		},
		{
			name:    "noPositiveLines",
			tableID: "T1",
			lines:   []restaurant.OrderItem{{MenuItemID: "m1", Qty: 0}},
			wantErr: ErrEmptyOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockBackend()
			if tt.seed != nil {
				tt.seed(t, m)
			}
			s := NewSynchronizer(TableScope("T1"), Deps{Query: m, Mutate: m})

			got, err := s.PlaceOrUpdateOrder(context.Background(), tt.tableID, tt.lines)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("PlaceOrUpdateOrder() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("PlaceOrUpdateOrder() error = %v", err)
			}
			if got.Created != tt.wantCreated {
				t.Errorf("Created = %v, want %v", got.Created, tt.wantCreated)
			}
			if len(got.Order.Items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(got.Order.Items), tt.wantItems)
			}
			if got.Order.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Order.Status, tt.wantStatus)
			}
			if e, ok := s.Get(got.Order.ID); !ok || len(e.Order.Items) != tt.wantItems {
				t.Errorf("local entry = %+v, want %d items", e, tt.wantItems)
			}
		})
	}
}

func TestPlaceOrUpdateOrderConcurrentSubmissions(t *testing.T) {
	m := NewMockBackend()
	locker := NewKeyedMutex()

	// Slow inserts widen the window between lookup and insert.
	m.InsertFunc = func(ctx context.Context, collection string, record backend.Record) (backend.Record, error) {
		time.Sleep(5 * time.Millisecond)
		return m.store.Insert(ctx, collection, record)
	}

	views := []*Synchronizer{
		NewSynchronizer(TableScope("T7"), Deps{Query: m, Mutate: m, Locker: locker}),
		NewSynchronizer(TableScope("T7"), Deps{Query: m, Mutate: m, Locker: locker}),
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, len(views))
	for i, v := range views {
		wg.Add(1)
		go func(i int, v *Synchronizer) {
			defer wg.Done()
			<-start
			_, errs[i] = v.PlaceOrUpdateOrder(context.Background(), "T7", []restaurant.OrderItem{{MenuItemID: "m1", Qty: 1}})
		}(i, v)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("submission %d error = %v", i, err)
		}
	}

	open, err := m.store.Fetch(context.Background(), backend.Orders, TableScope("T7").filters(), nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open orders for T7 = %d, want 1", len(open))
	}
	items, _ := m.store.Fetch(context.Background(), backend.OrderItems, []backend.Filter{backend.Eq("order_id", open[0].ID())}, nil)
	if len(items) != 2 {
		t.Errorf("items = %d, want 2", len(items))
	}
	if locker.held() != 0 {
		t.Errorf("locker still holds %d keys", locker.held())
	}
}

func TestPlaceOrUpdateOrderRollsBack(t *testing.T) {
	tests := []struct {
		name       string
		seed       bool
		wantOrders int
	}{
		{name: "createdOrderRemoved", wantOrders: 0},
		{name: "existingOrderKept", seed: true, wantOrders: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockBackend()
			if tt.seed {
				seedOrder(t, m, "A", "T1", "pending", 0)
			}

			itemInserts := 0
			m.InsertFunc = func(ctx context.Context, collection string, record backend.Record) (backend.Record, error) {
				if collection == backend.OrderItems {
					itemInserts++
					if itemInserts == 2 {
						return nil, backend.Wrap("insert", collection, backend.ErrUnavailable)
					}
				}
				return m.store.Insert(ctx, collection, record)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			s := NewSynchronizer(TableScope("T1"), Deps{Query: m, Mutate: m})
			_, err := s.PlaceOrUpdateOrder(ctx, "T1", []restaurant.OrderItem{{MenuItemID: "m1", Qty: 1}, {MenuItemID: "m2", Qty: 1}})
			if !errors.Is(err, backend.ErrUnavailable) {
				t.Fatalf("PlaceOrUpdateOrder() error = %v, want ErrUnavailable", err)
			}

			orders, _ := m.store.Fetch(context.Background(), backend.Orders, nil, nil)
			if len(orders) != tt.wantOrders {
				t.Errorf("orders = %d, want %d", len(orders), tt.wantOrders)
			}
			items, _ := m.store.Fetch(context.Background(), backend.OrderItems, nil, nil)
			if len(items) != 0 {
				t.Errorf("items = %d, want 0", len(items))
			}
			if s.Len() != 0 {
				t.Errorf("local entries = %d, want 0", s.Len())
			}
		})
	}
}

func TestPlaceOrUpdateOrderLockCanceled(t *testing.T) {
	m := NewMockBackend()
	locker := NewKeyedMutex()
	unlock, err := locker.Lock(context.Background(), TableScope("T1").Key())
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s := NewSynchronizer(TableScope("T1"), Deps{Query: m, Mutate: m, Locker: locker})
	_, err = s.PlaceOrUpdateOrder(ctx, "T1", []restaurant.OrderItem{{MenuItemID: "m1", Qty: 1}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("PlaceOrUpdateOrder() error = %v, want DeadlineExceeded", err)
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	feed := NewMockFeed()
	s := NewSynchronizer(AllOrders(), Deps{Query: NewMockBackend(), Feed: feed})

	if err := s.Detach(); err != nil {
		t.Fatalf("Detach() before Attach error = %v", err)
	}
	if err := s.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if feed.Live() != 2 {
		t.Fatalf("live subscriptions = %d, want 2", feed.Live())
	}

	for i := 0; i < 2; i++ {
		if err := s.Detach(); err != nil {
			t.Fatalf("Detach() #%d error = %v", i+1, err)
		}
	}
	if feed.Live() != 0 || feed.Removed != 2 {
		t.Errorf("live = %d removed = %d, want 0 and 2", feed.Live(), feed.Removed)
	}
}

func TestAttachHeldOnce(t *testing.T) {
	feed := NewMockFeed()
	s := NewSynchronizer(AllOrders(), Deps{Query: NewMockBackend(), Feed: feed})

	if err := s.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := s.Attach(context.Background()); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("second Attach() error = %v, want ErrAlreadyAttached", err)
	}
	_ = s.Detach()
	if err := s.Attach(context.Background()); err != nil {
		t.Errorf("Attach() after Detach error = %v", err)
	}
	_ = s.Detach()

	none := NewSynchronizer(AllOrders(), Deps{})
	if err := none.Attach(context.Background()); !errors.Is(err, ErrNotAttachable) {
		t.Errorf("Attach() without feed error = %v, want ErrNotAttachable", err)
	}
}

func TestAttachFailureReleasesPartialSubscription(t *testing.T) {
	feed := NewMockFeed()
	m := NewMockBackend()
	m.SubscribeFunc = func(ctx context.Context, collection string, kinds []backend.EventKind, fn func(backend.ChangeEvent)) (backend.Handle, error) {
		if collection == backend.OrderItems {
			return "", backend.ErrUnavailable
		}
		return feed.Subscribe(ctx, collection, kinds, fn)
	}
	m.UnsubscribeFunc = feed.Unsubscribe

	s := NewSynchronizer(AllOrders(), Deps{Query: m, Feed: m})
	if err := s.Attach(context.Background()); !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("Attach() error = %v, want ErrUnavailable", err)
	}
	if feed.Live() != 0 {
		t.Errorf("live subscriptions = %d, want 0", feed.Live())
	}
	if err := s.Attach(context.Background()); !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("retry Attach() error = %v, want ErrUnavailable not ErrAlreadyAttached", err)
	}
}

func TestActivateFollowsLiveChanges(t *testing.T) {
	m := NewMockBackend()
	seedOrder(t, m, "A", "T1", "pending", 0)

	s := NewSynchronizer(AllOrders(), Deps{Query: m, Mutate: m, Feed: m})
	release, err := s.Activate(context.Background())
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}

	other := NewSynchronizer(TableScope("T2"), Deps{Query: m, Mutate: m})
	if _, err := other.PlaceOrUpdateOrder(context.Background(), "T2", []restaurant.OrderItem{{MenuItemID: "m1", Qty: 3}}); err != nil {
		t.Fatalf("PlaceOrUpdateOrder() error = %v", err)
	}

	select {
	case <-s.Changes():
	default:
		t.Error("expected a change signal")
	}

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len = %d, want 2", len(snap))
	}
	if snap[0].Order.TableID != "T2" || len(snap[0].Order.Items) != 1 {
		t.Errorf("newest = %+v, want T2 order with one item", snap[0].Order)
	}

	release()
	release()
	if m.store.Len() != 0 {
		t.Errorf("subscribers = %d, want 0", m.store.Len())
	}

	seedOrder(t, m, "Z", "T3", "pending", 90)
	if s.Len() != 2 {
		t.Error("detached view should not receive events")
	}
}

func TestActivateLoadFailureDetaches(t *testing.T) {
	m := NewMockBackend()
	m.FetchFunc = func(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
		return nil, backend.ErrUnavailable
	}

	s := NewSynchronizer(AllOrders(), Deps{Query: m, Feed: m})
	if _, err := s.Activate(context.Background()); !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("Activate() error = %v, want ErrUnavailable", err)
	}
	if m.store.Len() != 0 {
		t.Errorf("subscribers = %d, want 0", m.store.Len())
	}
}
