package backend

import (
	"context"
	"time"
)

// Collections served by the backend.
const (
	Tables         = "tables"
	MenuCategories = "menu_categories"
	MenuItems      = "menu_items"
	Orders         = "orders"
	OrderItems     = "order_items"
	AppSettings    = "app_settings"
	Staff          = "staff"
)

// Record is a row as the backend hands it over: untyped until decoded.
type Record map[string]any

// ID returns the record identity as a string, or "" when absent.
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	id, _ := r["id"].(string)
	return id
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

func Neq(field string, value any) Filter {
	return Filter{Field: field, Op: OpNeq, Value: value}
}

// In matches records whose field equals any of values.
func In[T any](field string, values []T) Filter {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return Filter{Field: field, Op: OpIn, Value: vals}
}

type Sort struct {
	Field string
	Desc  bool
}

func Asc(field string) Sort  { return Sort{Field: field} }
func Desc(field string) Sort { return Sort{Field: field, Desc: true} }

// Querier reads records from a collection.
type Querier interface {
	Fetch(ctx context.Context, collection string, filters []Filter, order []Sort) ([]Record, error)
}

// Mutator writes records. The returned record of Insert carries the
// backend-assigned fields (id, created_at).
type Mutator interface {
	Insert(ctx context.Context, collection string, record Record) (Record, error)
	Update(ctx context.Context, collection string, filters []Filter, patch Record) error
	Delete(ctx context.Context, collection string, filters []Filter) error
}

type Credentials struct {
	Email    string
	Password string
}

type Session struct {
	Token     string
	UserID    string
	Email     string
	Name      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Authenticator gates staff routes. GetSession returns nil, nil when the token
// does not identify a live session.
type Authenticator interface {
	GetSession(ctx context.Context, token string) (*Session, error)
	SignIn(ctx context.Context, creds Credentials) (*Session, error)
	SignOut(ctx context.Context, token string) error
}

type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

type ChangeEvent struct {
	Kind       EventKind
	Collection string
	Record     Record
}

// Handle identifies a change feed subscription.
type Handle string

// ChangeFeed delivers row-level change notifications best-effort and
// at-least-once. Unsubscribing an unknown or released handle is a no-op.
type ChangeFeed interface {
	Subscribe(ctx context.Context, collection string, kinds []EventKind, fn func(ChangeEvent)) (Handle, error)
	Unsubscribe(h Handle) error
}

// Wants reports whether kinds selects k. An empty selection means all kinds.
func Wants(kinds []EventKind, k EventKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
