package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/orders"
)

var keepaliveInterval = 30 * time.Second

// renderFunc renders the live fragment from the current order entries.
type renderFunc func(ctx context.Context, entries []orders.Entry) (string, error)

// streamOrders holds one synchronizer for the lifetime of an SSE connection
// and pushes a re-rendered fragment on every change.
func (h *Handler) streamOrders(w http.ResponseWriter, r *http.Request, scope orders.Scope, event string, render renderFunc) {
	ctx := r.Context()
	viewID := r.URL.Query().Get("view")
	if viewID == "" {
		viewID = uuid.NewString()
	}

	s := h.newSynchronizer(scope)
	release, err := s.Activate(ctx)
	if err != nil {
		h.log().Error("cannot activate live view", "view", viewID, "error", err)
		http.Error(w, "Live updates unavailable", http.StatusServiceUnavailable)
		return
	}
	defer release()

	unregister := h.registerView(viewID, s)
	defer unregister()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.log().Info("new SSE connection", "view", viewID, "scope", scope.Key())

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flush(w)

	push := func() {
		html, err := render(ctx, s.Snapshot())
		if err != nil {
			h.log().Error("failed to render live view", "view", viewID, "error", err)
			return
		}
		sendSSEEvent(w, event, html)
	}
	push()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log().Info("SSE client disconnected", "view", viewID)
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flush(w)

		case <-s.Changes():
			push()
		}
	}
}

// sendSSEEvent sends an SSE event with properly formatted multi-line data
func sendSSEEvent(w http.ResponseWriter, eventType string, data string) {
	data = strings.TrimSpace(data)

	fmt.Fprintf(w, "event: %s\n", eventType)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprintf(w, "\n")
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
