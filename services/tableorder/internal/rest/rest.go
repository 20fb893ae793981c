// Package rest talks to a hosted backend that exposes its tables through a
// row-level REST interface and its sessions through auth endpoints.
//
// Rows:     GET|POST|PATCH|DELETE /rest/{collection}?{field}=eq.{v}&order={field}.desc
// Sessions: POST /auth/signin, POST /auth/session, POST /auth/signout
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

// Requester is the part of aqm.ServiceClient the backend uses.
type Requester interface {
	Request(ctx context.Context, method, path string, body interface{}) (*aqm.SuccessResponse, error)
}

// Backend implements backend.Querier, backend.Mutator and
// backend.Authenticator over a Requester.
type Backend struct {
	client Requester
	logger aqm.Logger
}

func New(client Requester, logger aqm.Logger) *Backend {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Backend{client: client, logger: logger}
}

// NewFromURL builds a Backend on an aqm.ServiceClient.
func NewFromURL(baseURL string, logger aqm.Logger) *Backend {
	return New(aqm.NewServiceClient(baseURL), logger)
}

func (b *Backend) Fetch(ctx context.Context, collection string, filters []backend.Filter, order []backend.Sort) ([]backend.Record, error) {
	if b == nil || b.client == nil {
		return nil, backend.Wrap("fetch", collection, errors.New("rest client not configured"))
	}

	q, err := encodeFilters(filters)
	if err != nil {
		return nil, backend.Wrap("fetch", collection, err)
	}
	q.Set("select", "*")
	if o := encodeOrder(order); o != "" {
		q.Set("order", o)
	}

	resp, err := b.client.Request(ctx, http.MethodGet, rowsPath(collection, q), nil)
	if err != nil {
		return nil, backend.Wrap("fetch", collection, classify(err))
	}

	var rows []map[string]any
	if err := decodeSuccessResponse(resp, &rows); err != nil {
		return nil, backend.Wrap("fetch", collection, fmt.Errorf("%w: %v", backend.ErrInvalid, err))
	}

	out := make([]backend.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, backend.Record(row))
	}
	return out, nil
}

func (b *Backend) Insert(ctx context.Context, collection string, record backend.Record) (backend.Record, error) {
	if b == nil || b.client == nil {
		return nil, backend.Wrap("insert", collection, errors.New("rest client not configured"))
	}

	resp, err := b.client.Request(ctx, http.MethodPost, rowsPath(collection, url.Values{"select": {"*"}}), map[string]any(record))
	if err != nil {
		return nil, backend.Wrap("insert", collection, classify(err))
	}

	rec, err := decodeRow(resp)
	if err != nil {
		return nil, backend.Wrap("insert", collection, fmt.Errorf("%w: %v", backend.ErrInvalid, err))
	}
	return rec, nil
}

func (b *Backend) Update(ctx context.Context, collection string, filters []backend.Filter, patch backend.Record) error {
	if b == nil || b.client == nil {
		return backend.Wrap("update", collection, errors.New("rest client not configured"))
	}

	q, err := encodeFilters(filters)
	if err != nil {
		return backend.Wrap("update", collection, err)
	}
	if _, err := b.client.Request(ctx, http.MethodPatch, rowsPath(collection, q), map[string]any(patch)); err != nil {
		return backend.Wrap("update", collection, classify(err))
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, collection string, filters []backend.Filter) error {
	if b == nil || b.client == nil {
		return backend.Wrap("delete", collection, errors.New("rest client not configured"))
	}

	q, err := encodeFilters(filters)
	if err != nil {
		return backend.Wrap("delete", collection, err)
	}
	if len(q) == 0 {
		return backend.Wrap("delete", collection, fmt.Errorf("%w: refusing unfiltered delete", backend.ErrInvalid))
	}
	if _, err := b.client.Request(ctx, http.MethodDelete, rowsPath(collection, q), nil); err != nil {
		return backend.Wrap("delete", collection, classify(err))
	}
	return nil
}

type sessionResource struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"user"`
}

func (s sessionResource) session() *backend.Session {
	return &backend.Session{
		Token:     s.AccessToken,
		UserID:    s.User.ID,
		Email:     s.User.Email,
		Name:      s.User.Name,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

func (b *Backend) SignIn(ctx context.Context, creds backend.Credentials) (*backend.Session, error) {
	if b == nil || b.client == nil {
		return nil, errors.New("rest client not configured")
	}

	resp, err := b.client.Request(ctx, http.MethodPost, "/auth/signin", map[string]any{
		"email":    creds.Email,
		"password": creds.Password,
	})
	if err != nil {
		b.logger.Debug("backend sign in failed", "error", err)
		return nil, backend.Wrap("signin", "", backend.ErrUnauthorized)
	}

	var res sessionResource
	if err := decodeSuccessResponse(resp, &res); err != nil || res.AccessToken == "" {
		return nil, backend.Wrap("signin", "", fmt.Errorf("%w: malformed session", backend.ErrInvalid))
	}
	return res.session(), nil
}

// GetSession returns nil, nil when the backend does not know the token.
func (b *Backend) GetSession(ctx context.Context, token string) (*backend.Session, error) {
	if token == "" {
		return nil, nil
	}
	if b == nil || b.client == nil {
		return nil, errors.New("rest client not configured")
	}

	resp, err := b.client.Request(ctx, http.MethodPost, "/auth/session", map[string]any{"access_token": token})
	if err != nil {
		if errors.Is(classify(err), backend.ErrUnavailable) {
			return nil, backend.Wrap("session", "", backend.ErrUnavailable)
		}
		return nil, nil
	}

	var res sessionResource
	if err := decodeSuccessResponse(resp, &res); err != nil || res.User.ID == "" {
		return nil, nil
	}
	if res.AccessToken == "" {
		res.AccessToken = token
	}
	return res.session(), nil
}

func (b *Backend) SignOut(ctx context.Context, token string) error {
	if token == "" || b == nil || b.client == nil {
		return nil
	}
	if _, err := b.client.Request(ctx, http.MethodPost, "/auth/signout", map[string]any{"access_token": token}); err != nil {
		return backend.Wrap("signout", "", classify(err))
	}
	return nil
}

func rowsPath(collection string, q url.Values) string {
	p := "/rest/" + url.PathEscape(collection)
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func encodeFilters(filters []backend.Filter) (url.Values, error) {
	q := url.Values{}
	for _, f := range filters {
		switch f.Op {
		case backend.OpEq, backend.OpNeq:
			q.Add(f.Field, string(f.Op)+"."+scalar(f.Value))
		case backend.OpIn:
			vals, ok := f.Value.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: in filter on %s needs a list", backend.ErrInvalid, f.Field)
			}
			parts := make([]string, 0, len(vals))
			for _, v := range vals {
				parts = append(parts, quoteListItem(scalar(v)))
			}
			q.Add(f.Field, "in.("+strings.Join(parts, ",")+")")
		default:
			return nil, fmt.Errorf("%w: unsupported filter op %q", backend.ErrInvalid, f.Op)
		}
	}
	return q, nil
}

func encodeOrder(order []backend.Sort) string {
	parts := make([]string, 0, len(order))
	for _, s := range order {
		dir := "asc"
		if s.Desc {
			dir = "desc"
		}
		parts = append(parts, s.Field+"."+dir)
	}
	return strings.Join(parts, ",")
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func quoteListItem(s string) string {
	if strings.ContainsAny(s, ",()\"") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}

func decodeRow(resp *aqm.SuccessResponse) (backend.Record, error) {
	var rows []map[string]any
	if err := decodeSuccessResponse(resp, &rows); err == nil {
		if len(rows) == 0 {
			return nil, errors.New("empty response")
		}
		return backend.Record(rows[0]), nil
	}
	var row map[string]any
	if err := decodeSuccessResponse(resp, &row); err != nil {
		return nil, err
	}
	return backend.Record(row), nil
}

// decodeSuccessResponse copies the dynamic response payload into dest.
func decodeSuccessResponse(resp *aqm.SuccessResponse, dest interface{}) error {
	if resp == nil {
		return errors.New("nil success response")
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, dest)
}

// classify maps transport failures onto backend sentinels by message, the
// only detail aqm client errors carry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return fmt.Errorf("%w: %v", backend.ErrUnauthorized, err)
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", backend.ErrNotFound, err)
	case strings.Contains(msg, "409"), strings.Contains(msg, "conflict"):
		return fmt.Errorf("%w: %v", backend.ErrConflict, err)
	case strings.Contains(msg, "400"), strings.Contains(msg, "422"), strings.Contains(msg, "bad request"):
		return fmt.Errorf("%w: %v", backend.ErrInvalid, err)
	}
	return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
}
