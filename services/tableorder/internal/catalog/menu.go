package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

// TableError is a table lookup failure meant to be shown to the customer.
type TableError struct {
	Message string
}

func (e *TableError) Error() string {
	return e.Message
}

var (
	ErrMissingTable = &TableError{Message: "Missing table information. Please scan the QR code again."}
	ErrInvalidTable = &TableError{Message: "Invalid table information. Please scan the QR code again."}
)

func tableNotFound(no int) *TableError {
	return &TableError{Message: fmt.Sprintf("Table %d not found. Please contact staff.", no)}
}

// Group is a category with its items, in display order.
type Group struct {
	Category restaurant.MenuCategory
	Items    []restaurant.MenuItem
}

// MenuService reads and edits tables, categories and menu items.
type MenuService struct {
	query  backend.Querier
	mutate backend.Mutator
	logger aqm.Logger
	group  singleflight.Group
}

func NewMenuService(query backend.Querier, mutate backend.Mutator, logger aqm.Logger) *MenuService {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &MenuService{query: query, mutate: mutate, logger: logger}
}

func (s *MenuService) ActiveTables(ctx context.Context) ([]restaurant.DiningTable, error) {
	return s.tables(ctx, "tables:active", backend.Eq("is_active", true))
}

func (s *MenuService) Tables(ctx context.Context) ([]restaurant.DiningTable, error) {
	return s.tables(ctx, "tables:all")
}

func (s *MenuService) tables(ctx context.Context, key string, filters ...backend.Filter) ([]restaurant.DiningTable, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		recs, err := s.query.Fetch(ctx, backend.Tables, filters, []backend.Sort{backend.Asc("table_no")})
		if err != nil {
			return nil, fmt.Errorf("cannot list tables: %w", err)
		}
		tables, rejected := restaurant.DecodeAll(recs, restaurant.DecodeTable)
		s.quarantine(rejected)
		return tables, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]restaurant.DiningTable(nil), v.([]restaurant.DiningTable)...), nil
}

// TableByNumber returns nil when no table carries the number.
func (s *MenuService) TableByNumber(ctx context.Context, no int) (*restaurant.DiningTable, error) {
	return s.oneTable(ctx, backend.Eq("table_no", no))
}

// TableByID returns nil when the id is unknown.
func (s *MenuService) TableByID(ctx context.Context, id string) (*restaurant.DiningTable, error) {
	return s.oneTable(ctx, backend.Eq("id", id))
}

func (s *MenuService) oneTable(ctx context.Context, f backend.Filter) (*restaurant.DiningTable, error) {
	recs, err := s.query.Fetch(ctx, backend.Tables, []backend.Filter{f}, []backend.Sort{backend.Desc("is_active")})
	if err != nil {
		return nil, fmt.Errorf("cannot find table: %w", err)
	}
	tables, rejected := restaurant.DecodeAll(recs, restaurant.DecodeTable)
	s.quarantine(rejected)
	if len(tables) == 0 {
		return nil, nil
	}
	return &tables[0], nil
}

// ResolveTable turns the table query parameter into a table id. A uuid is
// taken as the id itself, a number is looked up by table number. Failures a
// customer can act on are returned as *TableError.
func (s *MenuService) ResolveTable(ctx context.Context, param string) (string, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		return "", ErrMissingTable
	}

	if _, err := uuid.Parse(param); err == nil {
		return strings.ToLower(param), nil
	}

	no, err := strconv.Atoi(param)
	if err != nil {
		return "", ErrInvalidTable
	}

	table, err := s.TableByNumber(ctx, no)
	if err != nil {
		return "", err
	}
	if table == nil {
		return "", tableNotFound(no)
	}
	return table.ID, nil
}

// SetTableCount makes tables 1..n active, creating the missing ones, and
// deactivates every active table above n.
func (s *MenuService) SetTableCount(ctx context.Context, n int) error {
	if n < 0 {
		n = 0
	}

	existing, err := s.Tables(ctx)
	if err != nil {
		return err
	}
	byNo := make(map[int]restaurant.DiningTable, len(existing))
	for _, t := range existing {
		byNo[t.TableNo] = t
	}

	var activate, deactivate []int
	for i := 1; i <= n; i++ {
		t, ok := byNo[i]
		if !ok {
			if _, err := s.mutate.Insert(ctx, backend.Tables, backend.Record{"table_no": i, "is_active": true}); err != nil {
				return fmt.Errorf("cannot create table %d: %w", i, err)
			}
			continue
		}
		if !t.IsActive {
			activate = append(activate, i)
		}
	}
	for _, t := range existing {
		if t.TableNo > n && t.IsActive {
			deactivate = append(deactivate, t.TableNo)
		}
	}

	if len(activate) > 0 {
		if err := s.mutate.Update(ctx, backend.Tables, []backend.Filter{backend.In("table_no", activate)}, backend.Record{"is_active": true}); err != nil {
			return fmt.Errorf("cannot activate tables: %w", err)
		}
	}
	if len(deactivate) > 0 {
		if err := s.mutate.Update(ctx, backend.Tables, []backend.Filter{backend.In("table_no", deactivate)}, backend.Record{"is_active": false}); err != nil {
			return fmt.Errorf("cannot deactivate tables: %w", err)
		}
	}

	s.logger.Info("table count set", "count", n, "activated", len(activate), "deactivated", len(deactivate))
	return nil
}

func (s *MenuService) Categories(ctx context.Context) ([]restaurant.MenuCategory, error) {
	v, err, _ := s.group.Do("categories", func() (any, error) {
		recs, err := s.query.Fetch(ctx, backend.MenuCategories, nil, []backend.Sort{backend.Asc("sort_order"), backend.Asc("name")})
		if err != nil {
			return nil, fmt.Errorf("cannot list categories: %w", err)
		}
		cats, rejected := restaurant.DecodeAll(recs, restaurant.DecodeCategory)
		s.quarantine(rejected)
		return cats, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]restaurant.MenuCategory(nil), v.([]restaurant.MenuCategory)...), nil
}

func (s *MenuService) CreateCategory(ctx context.Context, name string, sortOrder int) (restaurant.MenuCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return restaurant.MenuCategory{}, fmt.Errorf("category name is required: %w", backend.ErrInvalid)
	}
	rec, err := s.mutate.Insert(ctx, backend.MenuCategories, backend.Record{"name": name, "sort_order": sortOrder})
	if err != nil {
		return restaurant.MenuCategory{}, fmt.Errorf("cannot create category: %w", err)
	}
	return restaurant.DecodeCategory(rec)
}

// DeleteCategory removes the category only. Its items and historical order
// lines keep their references.
func (s *MenuService) DeleteCategory(ctx context.Context, id string) error {
	if err := s.mutate.Delete(ctx, backend.MenuCategories, []backend.Filter{backend.Eq("id", id)}); err != nil {
		return fmt.Errorf("cannot delete category: %w", err)
	}
	return nil
}

func (s *MenuService) AvailableItems(ctx context.Context) ([]restaurant.MenuItem, error) {
	return s.items(ctx, "items:available", backend.Eq("is_available", true))
}

func (s *MenuService) AllItems(ctx context.Context) ([]restaurant.MenuItem, error) {
	return s.items(ctx, "items:all")
}

func (s *MenuService) items(ctx context.Context, key string, filters ...backend.Filter) ([]restaurant.MenuItem, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		recs, err := s.query.Fetch(ctx, backend.MenuItems, filters, []backend.Sort{backend.Asc("name")})
		if err != nil {
			return nil, fmt.Errorf("cannot list menu items: %w", err)
		}
		items, rejected := restaurant.DecodeAll(recs, restaurant.DecodeMenuItem)
		s.quarantine(rejected)
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]restaurant.MenuItem(nil), v.([]restaurant.MenuItem)...), nil
}

// UpsertItem inserts item when it has no id and updates it otherwise.
func (s *MenuService) UpsertItem(ctx context.Context, item restaurant.MenuItem) (restaurant.MenuItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	switch {
	case item.Name == "":
		return item, fmt.Errorf("item name is required: %w", backend.ErrInvalid)
	case item.CategoryID == "":
		return item, fmt.Errorf("item category is required: %w", backend.ErrInvalid)
	case item.Price < 0:
		return item, fmt.Errorf("item price must not be negative: %w", backend.ErrInvalid)
	}

	rec := backend.Record{
		"category_id":  item.CategoryID,
		"name":         item.Name,
		"price":        item.Price.Float(),
		"is_available": item.IsAvailable,
	}
	if item.ImageURL != "" {
		rec["image_url"] = item.ImageURL
	}

	if item.ID == "" {
		saved, err := s.mutate.Insert(ctx, backend.MenuItems, rec)
		if err != nil {
			return item, fmt.Errorf("cannot create menu item: %w", err)
		}
		return restaurant.DecodeMenuItem(saved)
	}

	if err := s.mutate.Update(ctx, backend.MenuItems, []backend.Filter{backend.Eq("id", item.ID)}, rec); err != nil {
		return item, fmt.Errorf("cannot update menu item %s: %w", item.ID, err)
	}
	return item, nil
}

func (s *MenuService) SetAvailability(ctx context.Context, id string, available bool) error {
	if err := s.mutate.Update(ctx, backend.MenuItems, []backend.Filter{backend.Eq("id", id)}, backend.Record{"is_available": available}); err != nil {
		return fmt.Errorf("cannot set availability of %s: %w", id, err)
	}
	return nil
}

func (s *MenuService) DeleteItem(ctx context.Context, id string) error {
	if err := s.mutate.Delete(ctx, backend.MenuItems, []backend.Filter{backend.Eq("id", id)}); err != nil {
		return fmt.Errorf("cannot delete menu item %s: %w", id, err)
	}
	return nil
}

// GroupByCategory keeps category order and drops items of unknown
// categories.
func GroupByCategory(categories []restaurant.MenuCategory, items []restaurant.MenuItem) []Group {
	groups := make([]Group, len(categories))
	pos := make(map[string]int, len(categories))
	for i, c := range categories {
		groups[i] = Group{Category: c}
		pos[c.ID] = i
	}
	for _, it := range items {
		if i, ok := pos[it.CategoryID]; ok {
			groups[i].Items = append(groups[i].Items, it)
		}
	}
	return groups
}

func (s *MenuService) quarantine(errs []error) {
	for _, err := range errs {
		s.logger.Error("skipping malformed record", "error", err)
	}
}
