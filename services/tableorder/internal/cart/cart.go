package cart

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

type Line struct {
	Item  restaurant.MenuItem
	Qty   int
	Note  string
	Total restaurant.Money
}

type Summary struct {
	Lines    []Line
	Subtotal restaurant.Money
	Tax      restaurant.Money
	Total    restaurant.Money
}

func (s Summary) Empty() bool {
	return len(s.Lines) == 0
}

// OrderItems converts the selected lines into order lines ready to submit.
func (s Summary) OrderItems() []restaurant.OrderItem {
	items := make([]restaurant.OrderItem, 0, len(s.Lines))
	for _, l := range s.Lines {
		items = append(items, restaurant.OrderItem{
			MenuItemID: l.Item.ID,
			Qty:        l.Qty,
			Note:       l.Note,
		})
	}
	return items
}

// Compute derives the selected lines and totals from a quantity map, keeping
// the menu order. Quantities that are not finite or not at least one whole
// unit are ignored.
func Compute(quantities map[string]float64, items []restaurant.MenuItem, taxPercent float64) Summary {
	var s Summary
	for _, item := range items {
		qty := wholeUnits(quantities[item.ID])
		if qty <= 0 {
			continue
		}
		line := Line{Item: item, Qty: qty, Total: restaurant.Money(qty) * item.Price}
		s.Lines = append(s.Lines, line)
		s.Subtotal += line.Total
	}
	s.Tax = Tax(s.Subtotal, taxPercent)
	s.Total = s.Subtotal + s.Tax
	return s
}

// ForOrder prices a placed order with the current menu. Lines whose menu item
// no longer exists are kept at zero price.
func ForOrder(order restaurant.Order, menu map[string]restaurant.MenuItem, taxPercent float64) Summary {
	var s Summary
	for _, it := range order.Items {
		if it.Qty <= 0 {
			continue
		}
		item, ok := menu[it.MenuItemID]
		if !ok {
			item = restaurant.MenuItem{ID: it.MenuItemID, Name: "Item"}
		}
		line := Line{Item: item, Qty: it.Qty, Note: it.Note, Total: restaurant.Money(it.Qty) * item.Price}
		s.Lines = append(s.Lines, line)
		s.Subtotal += line.Total
	}
	s.Tax = Tax(s.Subtotal, taxPercent)
	s.Total = s.Subtotal + s.Tax
	return s
}

// Tax is round(subtotal × rate / 100) in minor units. A rate that is not a
// finite non-negative number counts as zero.
func Tax(subtotal restaurant.Money, taxPercent float64) restaurant.Money {
	if math.IsNaN(taxPercent) || math.IsInf(taxPercent, 0) || taxPercent <= 0 {
		return 0
	}
	return restaurant.Money(math.Round(float64(subtotal) * taxPercent / 100))
}

// ParseQuantities reads fields named prefix+<menu item id> from a form.
// Malformed numbers become zero.
func ParseQuantities(form url.Values, prefix string) map[string]float64 {
	out := make(map[string]float64)
	for key, values := range form {
		if !strings.HasPrefix(key, prefix) || len(values) == 0 {
			continue
		}
		id := strings.TrimPrefix(key, prefix)
		if id == "" {
			continue
		}
		qty, err := strconv.ParseFloat(strings.TrimSpace(values[len(values)-1]), 64)
		if err != nil || math.IsNaN(qty) || math.IsInf(qty, 0) {
			qty = 0
		}
		out[id] = qty
	}
	return out
}

// Index maps menu items by id.
func Index(items []restaurant.MenuItem) map[string]restaurant.MenuItem {
	out := make(map[string]restaurant.MenuItem, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	return out
}

func wholeUnits(q float64) int {
	if math.IsNaN(q) || math.IsInf(q, 0) || q < 1 {
		return 0
	}
	if q > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(q))
}
