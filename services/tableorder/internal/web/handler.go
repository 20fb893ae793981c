package web

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/catalog"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/orders"
)

const defaultSessionName = "tableorder_session"

// Templates resolves a page template by file name.
type Templates interface {
	Get(name string) (*template.Template, error)
}

type Deps struct {
	Templates Templates
	Menu      *catalog.MenuService
	Settings  *catalog.SettingsService
	Auth      backend.Authenticator
	Orders    orders.Deps
	Money     *MoneyFormat
	Config    *aqm.Config
	Logger    aqm.Logger
}

type Handler struct {
	tmpl        Templates
	menu        *catalog.MenuService
	settings    *catalog.SettingsService
	auth        backend.Authenticator
	orderDeps   orders.Deps
	money       *MoneyFormat
	sessionName string
	logger      aqm.Logger
	http        *telemetry.HTTP

	viewsMu sync.Mutex
	views   map[string]*orders.Synchronizer
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}

	sessionName := defaultSessionName
	if deps.Config != nil {
		if name, _ := deps.Config.GetString("auth.session.name"); name != "" {
			sessionName = name
		}
	}

	money := deps.Money
	if money == nil {
		money, _ = NewMoneyFormat("USD", "en")
	}

	orderDeps := deps.Orders
	if orderDeps.Logger == nil {
		orderDeps.Logger = logger
	}
	if orderDeps.Locker == nil {
		orderDeps.Locker = orders.NewKeyedMutex()
	}

	return &Handler{
		tmpl:        deps.Templates,
		menu:        deps.Menu,
		settings:    deps.Settings,
		auth:        deps.Auth,
		orderDeps:   orderDeps,
		money:       money,
		sessionName: sessionName,
		logger:      logger,
		http:        telemetry.NewHTTP(),
		views:       make(map[string]*orders.Synchronizer),
	}
}

// RegisterRoutes registers the public menu and the session-gated staff views.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Home)
	r.Get("/menu", h.Menu)
	r.Post("/menu/order", h.PlaceOrder)
	r.Get("/signin", h.ShowSignIn)
	r.Post("/signin", h.HandleSignIn)
	r.Post("/signout", h.HandleSignOut)

	r.Group(func(r chi.Router) {
		r.Use(h.SessionMiddleware)

		r.Get("/kitchen", h.Kitchen)
		r.Get("/kitchen/events", h.KitchenEvents)
		r.Post("/orders/{id}/status", h.UpdateStatus)

		r.Get("/admin", h.Admin)
		r.Get("/admin/events", h.AdminEvents)
		r.Post("/admin/settings/tax", h.UpdateTax)
		r.Post("/admin/settings/name", h.UpdateName)
		r.Post("/admin/categories", h.CreateCategory)
		r.Post("/admin/categories/{id}/delete", h.DeleteCategory)
		r.Post("/admin/items", h.SaveItem)
		r.Post("/admin/items/{id}/availability", h.SetAvailability)
		r.Post("/admin/items/{id}/delete", h.DeleteItem)
		r.Post("/admin/tables/count", h.SetTableCount)
		r.Get("/admin/order", h.AdminOrderForm)
		r.Post("/admin/order", h.AdminPlaceOrder)
	})
}

func (h *Handler) log() aqm.Logger {
	return h.logger
}

func (h *Handler) renderTemplate(w http.ResponseWriter, templateName, layout string, data map[string]interface{}) {
	h.renderStatus(w, http.StatusOK, templateName, layout, data)
}

func (h *Handler) renderStatus(w http.ResponseWriter, status int, templateName, layout string, data map[string]interface{}) {
	tmpl, err := h.tmpl.Get(templateName)
	if err != nil {
		h.log().Error("error loading template", "error", err, "template", templateName)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, layout, data); err != nil {
		h.log().Error("error rendering template", "error", err, "layout", layout)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderFragment executes a named block of a page template into a string.
func (h *Handler) renderFragment(templateName, block string, data map[string]interface{}) (string, error) {
	tmpl, err := h.tmpl.Get(templateName)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, block, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// redirect sends htmx requests an HX-Redirect and everything else a 303.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// withQuery appends key=value to a local path.
func withQuery(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + key + "=" + url.QueryEscape(value)
}

// registerView makes a live synchronizer reachable by status updates posted
// from the same page.
func (h *Handler) registerView(id string, s *orders.Synchronizer) func() {
	if id == "" {
		return func() {}
	}
	h.viewsMu.Lock()
	h.views[id] = s
	h.viewsMu.Unlock()
	return func() {
		h.viewsMu.Lock()
		if h.views[id] == s {
			delete(h.views, id)
		}
		h.viewsMu.Unlock()
	}
}

func (h *Handler) view(id string) (*orders.Synchronizer, bool) {
	if id == "" {
		return nil, false
	}
	h.viewsMu.Lock()
	defer h.viewsMu.Unlock()
	s, ok := h.views[id]
	return s, ok
}

func (h *Handler) newSynchronizer(scope orders.Scope) *orders.Synchronizer {
	return orders.NewSynchronizer(scope, h.orderDeps)
}
