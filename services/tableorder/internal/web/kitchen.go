package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appetiteclub/tableorder/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/orders"
)

// Kitchen shows every order grouped by status. The board is kept live by
// KitchenEvents.
func (h *Handler) Kitchen(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.Kitchen")
	defer finish()

	viewID := uuid.NewString()
	data := map[string]interface{}{
		"Title":    "Kitchen",
		"Template": "kitchen",
		"User":     SessionFrom(r.Context()),
		"ViewID":   viewID,
	}

	s := h.newSynchronizer(orders.AllOrders())
	if err := s.LoadInitial(r.Context()); err != nil {
		h.log().Error("cannot load orders", "error", err)
		data["Error"] = "Orders could not be loaded. Please refresh."
		h.renderStatus(w, http.StatusServiceUnavailable, "kitchen.html", "base.html", data)
		return
	}

	board, err := h.kitchenBoard(r.Context(), s.Snapshot(), viewID)
	if err != nil {
		h.log().Error("cannot load board data", "error", err)
		data["Error"] = "Orders could not be loaded. Please refresh."
		h.renderStatus(w, http.StatusServiceUnavailable, "kitchen.html", "base.html", data)
		return
	}
	for k, v := range board {
		data[k] = v
	}

	h.renderTemplate(w, "kitchen.html", "base.html", data)
}

// KitchenEvents streams the kitchen board.
func (h *Handler) KitchenEvents(w http.ResponseWriter, r *http.Request) {
	viewID := r.URL.Query().Get("view")
	h.streamOrders(w, r, orders.AllOrders(), "board", func(ctx context.Context, entries []orders.Entry) (string, error) {
		board, err := h.kitchenBoard(ctx, entries, viewID)
		if err != nil {
			return "", err
		}
		return h.renderFragment("kitchen.html", "kitchen_board", board)
	})
}

func (h *Handler) kitchenBoard(ctx context.Context, entries []orders.Entry, viewID string) (map[string]interface{}, error) {
	p, err := h.loadPricing(ctx)
	if err != nil {
		return nil, err
	}
	views := bindView(h.orderViews(entries, p), viewID, "/kitchen")
	return map[string]interface{}{
		"Columns": columns(views),
		"ViewID":  viewID,
	}, nil
}

// UpdateStatus moves an order to the posted status. When the request comes
// from a live board, that board's synchronizer applies the change so the
// optimistic state and any revert show up there.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.UpdateStatus")
	defer finish()

	orderID := chi.URLParam(r, "id")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	status := orderstatus.ByName(r.PostForm.Get("status"))
	if status == nil {
		http.Error(w, "Unknown status", http.StatusBadRequest)
		return
	}

	s, live := h.view(r.PostForm.Get("view"))
	if !live {
		s = h.newSynchronizer(orders.AllOrders())
	}

	if err := s.SetStatus(r.Context(), orderID, *status); err != nil {
		h.log().Error("cannot update order status", "order_id", orderID, "status", status.Code(), "error", err)
		code := http.StatusBadGateway
		if errors.Is(err, orders.ErrInvalidStatus) {
			code = http.StatusBadRequest
		}
		http.Error(w, "The order status could not be updated. Please try again.", code)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	back := r.PostForm.Get("back")
	if back != "/admin" {
		back = "/kitchen"
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}
