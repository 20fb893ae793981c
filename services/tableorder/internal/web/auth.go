package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/auth"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

type contextKey int

const sessionKey contextKey = iota

// SessionFrom returns the staff session stored by SessionMiddleware.
func SessionFrom(ctx context.Context) *backend.Session {
	s, _ := ctx.Value(sessionKey).(*backend.Session)
	return s
}

// ShowSignIn displays the sign-in page
func (h *Handler) ShowSignIn(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.ShowSignIn")
	defer finish()

	data := map[string]interface{}{
		"Title":    "Sign In",
		"Template": "signin",
		"HideNav":  true,
		"Redirect": safeRedirect(r.URL.Query().Get("redirect")),
	}

	h.renderTemplate(w, "signin.html", "base.html", data)
}

// HandleSignIn processes sign-in requests
func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.HandleSignIn")
	defer finish()

	target := safeRedirect(r.FormValue("redirect"))
	renderError := func(status int, message string) {
		data := map[string]interface{}{
			"Title":    "Sign In",
			"Template": "signin",
			"HideNav":  true,
			"Redirect": target,
			"Error":    message,
		}
		h.renderStatus(w, status, "signin.html", "base.html", data)
	}

	if err := r.ParseForm(); err != nil {
		h.log().Debug("failed to parse form", "error", err)
		renderError(http.StatusBadRequest, "Failed to parse form. Please try again.")
		return
	}

	creds := backend.Credentials{
		Email:    strings.TrimSpace(r.FormValue("email")),
		Password: r.FormValue("password"),
	}
	if creds.Email == "" || creds.Password == "" {
		renderError(http.StatusBadRequest, "Email and password are required.")
		return
	}

	session, err := h.auth.SignIn(r.Context(), creds)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, backend.ErrUnauthorized) {
			h.log().Debug("authentication failed", "email", creds.Email)
			renderError(http.StatusUnauthorized, "Invalid email or password. Please try again.")
			return
		}
		h.log().Error("sign in failed", "error", err)
		renderError(http.StatusServiceUnavailable, "Sign in is unavailable. Please try again later.")
		return
	}

	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if session.ExpiresAt.IsZero() || maxAge <= 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionName,
		Value:    session.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})

	h.log().Info("staff signed in", "user_id", session.UserID)
	redirect(w, r, target)
}

// HandleSignOut processes sign-out requests
func (h *Handler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.http.Start(w, r, "Handler.HandleSignOut")
	defer finish()

	if cookie, err := r.Cookie(h.sessionName); err == nil && cookie.Value != "" {
		if err := h.auth.SignOut(r.Context(), cookie.Value); err != nil {
			h.log().Error("sign out failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	redirect(w, r, "/signin")
}

// SessionMiddleware lets requests with a live staff session through and
// sends everyone else to the sign-in page.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signin := "/signin?redirect=" + url.QueryEscape(r.URL.RequestURI())

		cookie, err := r.Cookie(h.sessionName)
		if err != nil || cookie.Value == "" {
			http.Redirect(w, r, signin, http.StatusSeeOther)
			return
		}

		session, err := h.auth.GetSession(r.Context(), cookie.Value)
		if err != nil {
			h.log().Error("session lookup failed", "error", err)
		}
		if session == nil {
			http.Redirect(w, r, signin, http.StatusSeeOther)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// safeRedirect keeps post sign-in redirects on this site.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/admin"
	}
	return target
}
