package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/cart"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/catalog"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/orders"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/report"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

type MonthBar struct {
	Month   string
	Revenue string
	Orders  int
	Percent int
	// OrdersPercent scales the order count against the busiest month.
	OrdersPercent int
}

type InsightsView struct {
	Year      int
	Months    []MonthBar
	TopItems  []report.ItemCount
	PaidCount int
}

// Admin shows settings, menu management, tables, insights and the live
// order list.
func (h *Handler) Admin(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.Admin")
	defer finish()

	ctx := r.Context()
	viewID := uuid.NewString()
	data := map[string]interface{}{
		"Title":    "Admin",
		"Template": "admin",
		"User":     SessionFrom(ctx),
		"ViewID":   viewID,
		"Error":    r.URL.Query().Get("error"),
		"Notice":   r.URL.Query().Get("notice"),
	}

	fail := func(err error) {
		h.log().Error("cannot load admin page", "error", err)
		data["Error"] = "Admin data could not be loaded. Please refresh."
		h.renderStatus(w, http.StatusServiceUnavailable, "admin.html", "base.html", data)
	}

	m, err := catalog.LoadMenu(ctx, h.menu, h.settings, false)
	if err != nil {
		fail(err)
		return
	}
	tables, err := h.menu.Tables(ctx)
	if err != nil {
		fail(err)
		return
	}

	s := h.newSynchronizer(orders.AllOrders())
	if err := s.LoadInitial(ctx); err != nil {
		fail(err)
		return
	}
	entries := s.Snapshot()

	items := make([]ItemView, 0, len(m.Items))
	for _, it := range m.Items {
		items = append(items, h.itemView(it))
	}

	var active []restaurant.DiningTable
	for _, t := range tables {
		if t.IsActive {
			active = append(active, t)
		}
	}

	year := time.Now().Year()
	if y, err := strconv.Atoi(r.URL.Query().Get("year")); err == nil && y > 0 {
		year = y
	}
	all := make([]restaurant.Order, 0, len(entries))
	for _, e := range entries {
		all = append(all, e.Order)
	}
	menuIndex := cart.Index(m.Items)

	data["Settings"] = m.Settings
	data["Categories"] = m.Categories
	data["Items"] = items
	data["Groups"] = h.groupViews(m.Groups)
	data["Tables"] = active
	data["TableCount"] = len(active)
	data["Insights"] = h.insightsView(report.Build(all, menuIndex, m.Settings.TaxPercent, year))

	p := pricing{tables: make(map[string]int, len(tables)), menu: menuIndex, taxPercent: m.Settings.TaxPercent}
	for _, t := range tables {
		p.tables[t.ID] = t.TableNo
	}
	data["Orders"] = bindView(h.orderViews(entries, p), viewID, "/admin")

	h.renderTemplate(w, "admin.html", "base.html", data)
}

// AdminEvents streams the admin order list.
func (h *Handler) AdminEvents(w http.ResponseWriter, r *http.Request) {
	viewID := r.URL.Query().Get("view")
	h.streamOrders(w, r, orders.AllOrders(), "orders", func(ctx context.Context, entries []orders.Entry) (string, error) {
		p, err := h.loadPricing(ctx)
		if err != nil {
			return "", err
		}
		return h.renderFragment("admin.html", "admin_orders", map[string]interface{}{
			"Orders": bindView(h.orderViews(entries, p), viewID, "/admin"),
			"ViewID": viewID,
		})
	})
}

func (h *Handler) insightsView(in report.Insights) InsightsView {
	v := InsightsView{Year: in.Year, TopItems: in.TopItems, PaidCount: in.PaidCount}
	peak := in.MaxRevenue()
	busiest := in.MaxOrders()
	for i := 0; i < 12; i++ {
		v.Months = append(v.Months, MonthBar{
			Month:         time.Month(i + 1).String()[:3],
			Revenue:       h.money.Format(in.MonthlyRevenue[i]),
			Orders:        in.MonthlyOrders[i],
			Percent:       int(in.MonthlyRevenue[i] * 100 / peak),
			OrdersPercent: in.MonthlyOrders[i] * 100 / busiest,
		})
	}
	return v
}

// adminDone redirects back to the admin page with a notice or an error.
func (h *Handler) adminDone(w http.ResponseWriter, r *http.Request, err error, notice string) {
	if err != nil {
		h.log().Error("admin action failed", "path", r.URL.Path, "error", err)
		redirect(w, r, withQuery("/admin", "error", adminErrorMessage(err)))
		return
	}
	redirect(w, r, withQuery("/admin", "notice", notice))
}

func adminErrorMessage(err error) string {
	if errors.Is(err, backend.ErrInvalid) {
		msg := strings.TrimSuffix(err.Error(), ": "+backend.ErrInvalid.Error())
		return strings.ToUpper(msg[:1]) + msg[1:] + "."
	}
	return "The change could not be saved. Please try again."
}

func (h *Handler) UpdateTax(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.UpdateTax")
	defer finish()

	rate, _ := strconv.ParseFloat(strings.TrimSpace(r.FormValue("tax_percent")), 64)
	_, err := h.settings.UpdateTaxPercent(r.Context(), rate)
	h.adminDone(w, r, err, "Tax rate saved.")
}

func (h *Handler) UpdateName(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.UpdateName")
	defer finish()

	_, err := h.settings.UpdateRestaurantName(r.Context(), r.FormValue("restaurant_name"))
	h.adminDone(w, r, err, "Restaurant name saved.")
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.CreateCategory")
	defer finish()

	sortOrder, _ := strconv.Atoi(strings.TrimSpace(r.FormValue("sort_order")))
	_, err := h.menu.CreateCategory(r.Context(), r.FormValue("name"), sortOrder)
	h.adminDone(w, r, err, "Category added.")
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.DeleteCategory")
	defer finish()

	err := h.menu.DeleteCategory(r.Context(), chi.URLParam(r, "id"))
	h.adminDone(w, r, err, "Category deleted.")
}

// SaveItem creates a menu item, or updates it when the form carries an id.
func (h *Handler) SaveItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.SaveItem")
	defer finish()

	price, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("price")), 64)
	if err != nil {
		price = -1
	}
	item := restaurant.MenuItem{
		ID:          strings.TrimSpace(r.FormValue("id")),
		CategoryID:  strings.TrimSpace(r.FormValue("category_id")),
		Name:        r.FormValue("name"),
		Price:       restaurant.MoneyFromFloat(price),
		IsAvailable: r.FormValue("is_available") != "",
		ImageURL:    strings.TrimSpace(r.FormValue("image_url")),
	}

	_, err = h.menu.UpsertItem(r.Context(), item)
	h.adminDone(w, r, err, "Menu item saved.")
}

func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.SetAvailability")
	defer finish()

	available, _ := strconv.ParseBool(r.FormValue("available"))
	err := h.menu.SetAvailability(r.Context(), chi.URLParam(r, "id"), available)
	h.adminDone(w, r, err, "Availability updated.")
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.DeleteItem")
	defer finish()

	err := h.menu.DeleteItem(r.Context(), chi.URLParam(r, "id"))
	h.adminDone(w, r, err, "Menu item deleted.")
}

func (h *Handler) SetTableCount(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.SetTableCount")
	defer finish()

	n, err := strconv.Atoi(strings.TrimSpace(r.FormValue("count")))
	if err != nil || n < 0 {
		redirect(w, r, withQuery("/admin", "error", "Table count must be a whole number."))
		return
	}
	err = h.menu.SetTableCount(r.Context(), n)
	h.adminDone(w, r, err, "Tables updated.")
}

// AdminOrderForm lets staff place an order on behalf of a table.
func (h *Handler) AdminOrderForm(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.AdminOrderForm")
	defer finish()

	h.renderAdminOrder(w, r, http.StatusOK, r.URL.Query().Get("table_id"), "")
}

func (h *Handler) AdminPlaceOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.AdminPlaceOrder")
	defer finish()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	tableID := strings.TrimSpace(r.PostForm.Get("table_id"))

	placement, err := h.submitCart(r.Context(), tableID, r.PostForm, false)
	if err != nil {
		h.log().Error("admin order failed", "table_id", tableID, "error", err)
		h.renderAdminOrder(w, r, http.StatusUnprocessableEntity, tableID, orderErrorMessage(err))
		return
	}

	h.log().Info("admin order placed", "order_id", placement.Order.ID, "table_id", tableID, "created", placement.Created)
	redirect(w, r, withQuery("/admin/order", "placed", placement.Order.ID))
}

func (h *Handler) renderAdminOrder(w http.ResponseWriter, r *http.Request, status int, tableID, message string) {
	ctx := r.Context()
	data := map[string]interface{}{
		"Title":    "New Order",
		"Template": "admin_order",
		"User":     SessionFrom(ctx),
		"TableID":  tableID,
		"Placed":   r.URL.Query().Get("placed"),
		"Error":    message,
	}

	m, err := catalog.LoadMenu(ctx, h.menu, h.settings, false)
	if err != nil {
		h.log().Error("cannot load menu", "error", err)
		data["Error"] = "The menu is unavailable right now. Please try again."
		h.renderStatus(w, http.StatusServiceUnavailable, "admin_order.html", "base.html", data)
		return
	}
	tables, err := h.menu.ActiveTables(ctx)
	if err != nil {
		h.log().Error("cannot load tables", "error", err)
		data["Error"] = "Tables could not be loaded. Please try again."
		h.renderStatus(w, http.StatusServiceUnavailable, "admin_order.html", "base.html", data)
		return
	}

	data["Tables"] = tables
	data["Groups"] = h.groupViews(m.Groups)
	data["TaxPercent"] = m.Settings.TaxPercent
	h.renderStatus(w, status, "admin_order.html", "base.html", data)
}
