package web

import (
	"context"
	"strconv"

	"github.com/appetiteclub/tableorder/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/cart"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/catalog"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/orders"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

type StatusAction struct {
	Code  string
	Label string
}

type LineView struct {
	Name  string
	Qty   int
	Note  string
	Price string
	Total string
}

type OrderView struct {
	ID          string
	TableLabel  string
	Status      string
	StatusLabel string
	Pending     bool
	CreatedAt   string
	Next        *StatusAction
	Cancel      *StatusAction
	Lines       []LineView
	Subtotal    string
	Tax         string
	Total       string

	// ViewID and Back let status forms target the live board they came from.
	ViewID string
	Back   string
}

type Column struct {
	Status string
	Label  string
	Orders []OrderView
}

type ItemView struct {
	ID         string
	CategoryID string
	Name       string
	Price      string
	PriceValue string
	Available  bool
	ImageURL   string
}

type GroupView struct {
	Category restaurant.MenuCategory
	Items    []ItemView
}

// pricing is what order views need besides the orders themselves.
type pricing struct {
	tables     map[string]int
	menu       map[string]restaurant.MenuItem
	taxPercent float64
}

func (h *Handler) loadPricing(ctx context.Context) (pricing, error) {
	tables, err := h.menu.Tables(ctx)
	if err != nil {
		return pricing{}, err
	}
	items, err := h.menu.AllItems(ctx)
	if err != nil {
		return pricing{}, err
	}

	p := pricing{
		tables:     make(map[string]int, len(tables)),
		menu:       cart.Index(items),
		taxPercent: h.settings.TaxPercent(ctx),
	}
	for _, t := range tables {
		p.tables[t.ID] = t.TableNo
	}
	return p, nil
}

func (h *Handler) orderView(e orders.Entry, p pricing) OrderView {
	o := e.Order
	summary := cart.ForOrder(o, p.menu, p.taxPercent)

	label := "Table ?"
	if no, ok := p.tables[o.TableID]; ok {
		label = "Table " + strconv.Itoa(no)
	}

	v := OrderView{
		ID:          o.ID,
		TableLabel:  label,
		Status:      o.Status.Code(),
		StatusLabel: o.Status.Label(),
		Pending:     e.Pending,
		CreatedAt:   o.CreatedAt.Local().Format("Jan 2 15:04"),
		Subtotal:    h.money.Format(summary.Subtotal),
		Tax:         h.money.Format(summary.Tax),
		Total:       h.money.Format(summary.Total),
	}
	if next, ok := orderstatus.Next(o.Status); ok {
		v.Next = &StatusAction{Code: next.Code(), Label: next.Label()}
	}
	if !o.Status.Terminal() {
		v.Cancel = &StatusAction{Code: orderstatus.Statuses.Canceled.Code(), Label: orderstatus.Statuses.Canceled.Label()}
	}
	for _, l := range summary.Lines {
		v.Lines = append(v.Lines, LineView{
			Name:  l.Item.Name,
			Qty:   l.Qty,
			Note:  l.Note,
			Price: h.money.Format(l.Item.Price),
			Total: h.money.Format(l.Total),
		})
	}
	return v
}

func (h *Handler) orderViews(entries []orders.Entry, p pricing) []OrderView {
	out := make([]OrderView, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.orderView(e, p))
	}
	return out
}

// bindView stamps the live view identity on every order.
func bindView(views []OrderView, viewID, back string) []OrderView {
	for i := range views {
		views[i].ViewID = viewID
		views[i].Back = back
	}
	return views
}

// columns groups orders by status, in lifecycle order.
func columns(views []OrderView) []Column {
	cols := make([]Column, 0, len(orderstatus.All))
	index := make(map[string]int, len(orderstatus.All))
	for i, s := range orderstatus.All {
		cols = append(cols, Column{Status: s.Code(), Label: s.Label()})
		index[s.Code()] = i
	}
	for _, v := range views {
		if i, ok := index[v.Status]; ok {
			cols[i].Orders = append(cols[i].Orders, v)
		}
	}
	return cols
}

func (h *Handler) itemView(it restaurant.MenuItem) ItemView {
	return ItemView{
		ID:         it.ID,
		CategoryID: it.CategoryID,
		Name:       it.Name,
		Price:      h.money.Format(it.Price),
		PriceValue: h.money.Plain(it.Price),
		Available:  it.IsAvailable,
		ImageURL:   it.ImageURL,
	}
}

func (h *Handler) groupViews(groups []catalog.Group) []GroupView {
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		gv := GroupView{Category: g.Category}
		for _, it := range g.Items {
			gv.Items = append(gv.Items, h.itemView(it))
		}
		out = append(out, gv)
	}
	return out
}
