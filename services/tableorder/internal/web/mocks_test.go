package web

import (
	"context"
	"html/template"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/catalog"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/memory"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/orders"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

const validToken = "valid-token"

// fileTemplates parses the shipped templates, each page with the base layout.
type fileTemplates struct {
	dir string
}

func (f fileTemplates) Get(name string) (*template.Template, error) {
	return template.ParseFiles(filepath.Join(f.dir, "base.html"), filepath.Join(f.dir, name))
}

type MockAuthenticator struct {
	GetSessionFunc func(ctx context.Context, token string) (*backend.Session, error)
	SignInFunc     func(ctx context.Context, creds backend.Credentials) (*backend.Session, error)
	SignOutFunc    func(ctx context.Context, token string) error
}

func (m *MockAuthenticator) GetSession(ctx context.Context, token string) (*backend.Session, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, token)
	}
	if token == validToken {
		return &backend.Session{Token: token, UserID: "u1", Name: "Chef"}, nil
	}
	return nil, nil
}

func (m *MockAuthenticator) SignIn(ctx context.Context, creds backend.Credentials) (*backend.Session, error) {
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, creds)
	}
	return nil, backend.ErrUnauthorized
}

func (m *MockAuthenticator) SignOut(ctx context.Context, token string) error {
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, token)
	}
	return nil
}

type fixture struct {
	store   *memory.Store
	auth    *MockAuthenticator
	handler *Handler
	router  chi.Router
}

// newFixture seeds one active table, two categories, an available and an
// unavailable item and an 8% tax rate.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore(nil, memory.WithClock(func() time.Time {
		return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	}))

	seed := []struct {
		collection string
		rec        backend.Record
	}{
		{backend.Tables, backend.Record{"id": "t1", "table_no": 1, "is_active": true}},
		{backend.Tables, backend.Record{"id": "t2", "table_no": 2, "is_active": false}},
		{backend.MenuCategories, backend.Record{"id": "c1", "name": "Pizza", "sort_order": 1}},
		{backend.MenuItems, backend.Record{"id": "m1", "category_id": "c1", "name": "Margherita", "price": 10.0, "is_available": true}},
		{backend.MenuItems, backend.Record{"id": "m2", "category_id": "c1", "name": "Calzone", "price": 12.5, "is_available": false}},
		{backend.AppSettings, backend.Record{"id": 1, "tax_percent": 8.0, "restaurant_name": "Trattoria"}},
	}
	for _, s := range seed {
		if _, err := store.Insert(ctx, s.collection, s.rec); err != nil {
			t.Fatalf("seed %s: %v", s.collection, err)
		}
	}

	auth := &MockAuthenticator{}
	h := NewHandler(Deps{
		Templates: fileTemplates{dir: filepath.Join("..", "..", "assets", "templates")},
		Menu:      catalog.NewMenuService(store, store, nil),
		Settings:  catalog.NewSettingsService(store, store, restaurant.Settings{RestaurantName: restaurant.DefaultRestaurantName}, nil),
		Auth:      auth,
		Orders:    orders.Deps{Query: store, Mutate: store, Feed: store},
	})

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return &fixture{store: store, auth: auth, handler: h, router: r}
}

func (f *fixture) count(t *testing.T, collection string, filters ...backend.Filter) int {
	t.Helper()
	recs, err := f.store.Fetch(context.Background(), collection, filters, nil)
	if err != nil {
		t.Fatalf("Fetch(%s) error = %v", collection, err)
	}
	return len(recs)
}
