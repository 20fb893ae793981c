package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/cart"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/catalog"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/orders"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

const (
	qtyPrefix  = "qty_"
	notePrefix = "note_"
)

// Home sends visitors to the menu, keeping the table parameter.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	target := "/menu"
	if q := r.URL.RawQuery; q != "" {
		target += "?" + q
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Menu shows the available items for the table named by the table query
// parameter, along with the table's open order.
func (h *Handler) Menu(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.Menu")
	defer finish()

	param := r.URL.Query().Get("table")
	data := map[string]interface{}{
		"Title":    "Menu",
		"Template": "menu",
		"HideNav":  true,
		"Table":    param,
		"Placed":   r.URL.Query().Get("placed") != "",
	}

	status := h.fillMenu(r.Context(), data, param)
	h.renderStatus(w, status, "menu.html", "base.html", data)
}

// fillMenu loads what the menu page shows and returns the response status.
// Table problems become a message on the page.
func (h *Handler) fillMenu(ctx context.Context, data map[string]interface{}, param string) int {
	tableID, err := h.menu.ResolveTable(ctx, param)
	if err != nil {
		return h.menuError(data, err)
	}
	data["TableID"] = tableID

	m, err := catalog.LoadMenu(ctx, h.menu, h.settings, true)
	if err != nil {
		h.log().Error("cannot load menu", "error", err)
		data["Error"] = "The menu is unavailable right now. Please try again."
		return http.StatusServiceUnavailable
	}
	data["Restaurant"] = m.Settings.RestaurantName
	data["TaxPercent"] = m.Settings.TaxPercent
	data["Groups"] = h.groupViews(m.Groups)

	s := h.newSynchronizer(orders.TableScope(tableID))
	if err := s.LoadInitial(ctx); err != nil {
		h.log().Error("cannot load table orders", "table_id", tableID, "error", err)
		return http.StatusOK
	}
	p := pricing{menu: cart.Index(m.Items), taxPercent: m.Settings.TaxPercent}
	if snapshot := s.Snapshot(); len(snapshot) > 0 {
		data["OpenOrder"] = h.orderView(snapshot[0], p)
	}
	return http.StatusOK
}

func (h *Handler) menuError(data map[string]interface{}, err error) int {
	var te *catalog.TableError
	if errors.As(err, &te) {
		data["Error"] = te.Message
		return http.StatusBadRequest
	}
	h.log().Error("cannot resolve table", "error", err)
	data["Error"] = "The menu is unavailable right now. Please try again."
	return http.StatusServiceUnavailable
}

// PlaceOrder submits the customer's cart for their table.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.PlaceOrder")
	defer finish()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	param := r.PostForm.Get("table")
	fail := func(message string) {
		data := map[string]interface{}{
			"Title":    "Menu",
			"Template": "menu",
			"HideNav":  true,
			"Table":    param,
		}
		status := h.fillMenu(r.Context(), data, param)
		if status == http.StatusOK {
			status = http.StatusUnprocessableEntity
			data["Error"] = message
		}
		h.renderStatus(w, status, "menu.html", "base.html", data)
	}

	tableID, err := h.menu.ResolveTable(r.Context(), param)
	if err != nil {
		fail("")
		return
	}

	placement, err := h.submitCart(r.Context(), tableID, r.PostForm, true)
	if err != nil {
		fail(orderErrorMessage(err))
		return
	}

	h.log().Info("customer order placed", "order_id", placement.Order.ID, "table_id", tableID)
	redirect(w, r, "/menu?table="+url.QueryEscape(param)+"&placed=1")
}

// submitCart prices the submitted quantities against the menu and places
// the order for tableID.
func (h *Handler) submitCart(ctx context.Context, tableID string, form url.Values, availableOnly bool) (orders.Placement, error) {
	var items []restaurant.MenuItem
	var err error
	if availableOnly {
		items, err = h.menu.AvailableItems(ctx)
	} else {
		items, err = h.menu.AllItems(ctx)
	}
	if err != nil {
		return orders.Placement{}, err
	}

	summary := cart.Compute(cart.ParseQuantities(form, qtyPrefix), items, h.settings.TaxPercent(ctx))
	if summary.Empty() {
		return orders.Placement{}, orders.ErrEmptyOrder
	}
	lines := summary.OrderItems()
	for i := range lines {
		lines[i].Note = strings.TrimSpace(form.Get(notePrefix + lines[i].MenuItemID))
	}

	s := h.newSynchronizer(orders.TableScope(tableID))
	return s.PlaceOrUpdateOrder(ctx, tableID, lines)
}

func orderErrorMessage(err error) string {
	switch {
	case errors.Is(err, orders.ErrEmptyOrder):
		return "Please select at least one item."
	case errors.Is(err, orders.ErrMissingTable):
		return "Please choose a table."
	default:
		return "Your order could not be placed. Please try again."
	}
}
