// Package report computes the admin insight figures from loaded orders.
package report

import (
	"sort"

	"github.com/appetiteclub/tableorder/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/cart"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

type ItemCount struct {
	Name string
	Qty  int
}

type Insights struct {
	Year           int
	MonthlyRevenue [12]restaurant.Money
	MonthlyOrders  [12]int
	TopItems       []ItemCount
	PaidCount      int
}

// MaxRevenue returns the largest monthly revenue, at least 1 so it can scale
// bar charts.
func (in Insights) MaxRevenue() restaurant.Money {
	max := restaurant.Money(1)
	for _, v := range in.MonthlyRevenue {
		if v > max {
			max = v
		}
	}
	return max
}

func (in Insights) MaxOrders() int {
	max := 1
	for _, v := range in.MonthlyOrders {
		if v > max {
			max = v
		}
	}
	return max
}

const defaultTopItems = 5

// Build computes the insights for year. Canceled orders are left out; the
// top items and the paid count cover all years.
func Build(orders []restaurant.Order, menu map[string]restaurant.MenuItem, taxPercent float64, year int) Insights {
	return Insights{
		Year:           year,
		MonthlyRevenue: MonthlyRevenue(orders, menu, taxPercent, year),
		MonthlyOrders:  MonthlyOrderCounts(orders, year),
		TopItems:       TopItems(orders, menu, defaultTopItems),
		PaidCount:      PaidCount(orders),
	}
}

// MonthlyRevenue sums order totals, tax included, per month of year.
func MonthlyRevenue(orders []restaurant.Order, menu map[string]restaurant.MenuItem, taxPercent float64, year int) [12]restaurant.Money {
	var totals [12]restaurant.Money
	for _, o := range orders {
		if !counted(o, year) {
			continue
		}
		totals[o.CreatedAt.UTC().Month()-1] += cart.ForOrder(o, menu, taxPercent).Total
	}
	return totals
}

func MonthlyOrderCounts(orders []restaurant.Order, year int) [12]int {
	var counts [12]int
	for _, o := range orders {
		if counted(o, year) {
			counts[o.CreatedAt.UTC().Month()-1]++
		}
	}
	return counts
}

// TopItems ranks menu items by ordered quantity. Lines of deleted menu items
// are counted under "Item".
func TopItems(orders []restaurant.Order, menu map[string]restaurant.MenuItem, n int) []ItemCount {
	qty := make(map[string]int)
	for _, o := range orders {
		if o.Status == orderstatus.Statuses.Canceled {
			continue
		}
		for _, it := range o.Items {
			name := "Item"
			if mi, ok := menu[it.MenuItemID]; ok {
				name = mi.Name
			}
			qty[name] += it.Qty
		}
	}

	out := make([]ItemCount, 0, len(qty))
	for name, q := range qty {
		out = append(out, ItemCount{Name: name, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Qty != out[j].Qty {
			return out[i].Qty > out[j].Qty
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func PaidCount(orders []restaurant.Order) int {
	n := 0
	for _, o := range orders {
		if o.Status == orderstatus.Statuses.Paid {
			n++
		}
	}
	return n
}

func counted(o restaurant.Order, year int) bool {
	if o.Status == orderstatus.Statuses.Canceled || o.CreatedAt.IsZero() {
		return false
	}
	return o.CreatedAt.UTC().Year() == year
}
