package report

import (
	"testing"
	"time"

	"github.com/appetiteclub/tableorder/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

func order(id string, status orderstatus.Status, at time.Time, items ...restaurant.OrderItem) restaurant.Order {
	return restaurant.Order{ID: id, TableID: "T1", Status: status, CreatedAt: at, Items: items}
}

func TestBuild(t *testing.T) {
	menu := map[string]restaurant.MenuItem{
		"soup": {ID: "soup", Name: "Soup", Price: 1000},
		"tea":  {ID: "tea", Name: "Tea", Price: 250},
	}
	jan := time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)
	mar := time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)
	lastYear := time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)

	orders := []restaurant.Order{
		order("a", orderstatus.Statuses.Paid, jan, restaurant.OrderItem{MenuItemID: "soup", Qty: 2}),
		order("b", orderstatus.Statuses.Served, mar, restaurant.OrderItem{MenuItemID: "tea", Qty: 4}),
		order("c", orderstatus.Statuses.Canceled, mar, restaurant.OrderItem{MenuItemID: "tea", Qty: 10}),
		order("d", orderstatus.Statuses.Paid, lastYear, restaurant.OrderItem{MenuItemID: "gone", Qty: 1}),
	}

	got := Build(orders, menu, 8, 2025)

	if got.MonthlyRevenue[0] != 2160 {
		t.Errorf("January revenue = %d, want 2160", got.MonthlyRevenue[0])
	}
	if got.MonthlyRevenue[2] != 1080 {
		t.Errorf("March revenue = %d, want 1080", got.MonthlyRevenue[2])
	}
	if got.MonthlyOrders[0] != 1 || got.MonthlyOrders[2] != 1 {
		t.Errorf("monthly orders = %v, want 1 in January and March", got.MonthlyOrders)
	}
	if got.PaidCount != 2 {
		t.Errorf("PaidCount = %d, want 2", got.PaidCount)
	}
	if got.MaxRevenue() != 2160 || got.MaxOrders() != 1 {
		t.Errorf("max = %d/%d, want 2160/1", got.MaxRevenue(), got.MaxOrders())
	}

	want := []ItemCount{{Name: "Tea", Qty: 4}, {Name: "Soup", Qty: 2}, {Name: "Item", Qty: 1}}
	if len(got.TopItems) != len(want) {
		t.Fatalf("TopItems = %v, want %v", got.TopItems, want)
	}
	for i := range want {
		if got.TopItems[i] != want[i] {
			t.Errorf("TopItems[%d] = %v, want %v", i, got.TopItems[i], want[i])
		}
	}
}

func TestTopItemsLimit(t *testing.T) {
	var orders []restaurant.Order
	for i, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		orders = append(orders, order(name, orderstatus.Statuses.Pending, time.Now(), restaurant.OrderItem{MenuItemID: name, Qty: i + 1}))
	}
	menu := map[string]restaurant.MenuItem{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		menu[name] = restaurant.MenuItem{ID: name, Name: name}
	}

	got := TopItems(orders, menu, 5)
	if len(got) != 5 || got[0].Name != "g" {
		t.Errorf("TopItems = %v, want 5 entries led by g", got)
	}
}

func TestEmptyInsights(t *testing.T) {
	got := Build(nil, nil, 0, 2025)
	if got.MaxRevenue() != 1 || got.MaxOrders() != 1 {
		t.Errorf("empty max = %d/%d, want 1/1", got.MaxRevenue(), got.MaxOrders())
	}
	if len(got.TopItems) != 0 || got.PaidCount != 0 {
		t.Errorf("empty insights = %+v", got)
	}
}
