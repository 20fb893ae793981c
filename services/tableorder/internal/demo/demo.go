// Package demo seeds and clears a demonstration restaurant. Seeded rows carry
// ids derived from their names so seeding twice changes nothing and clearing
// removes only what seeding created.
package demo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/auth"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/catalog"
)

var namespace = uuid.MustParse("6f1c3c1e-1f3a-4d8e-9a52-7a0f5c2b9d41")

// Store is the backend the seeds are written to.
type Store interface {
	backend.Querier
	backend.Mutator
}

type Options struct {
	Tables        int
	TaxPercent    float64
	Restaurant    string
	StaffEmail    string
	StaffName     string
	StaffPassword string
}

// DefaultOptions returns a ten table restaurant with one staff account.
func DefaultOptions() Options {
	return Options{
		Tables:        10,
		TaxPercent:    8,
		Restaurant:    "Demo Trattoria",
		StaffEmail:    "staff@example.com",
		StaffName:     "Demo Staff",
		StaffPassword: "changeme",
	}
}

type category struct {
	name  string
	items []item
}

type item struct {
	name      string
	price     float64
	available bool
}

var menu = []category{
	{name: "Starters", items: []item{
		{name: "Bruschetta", price: 6.50, available: true},
		{name: "Arancini", price: 7.00, available: true},
		{name: "Burrata", price: 11.00, available: false},
	}},
	{name: "Pizza", items: []item{
		{name: "Margherita", price: 10.00, available: true},
		{name: "Diavola", price: 12.50, available: true},
		{name: "Quattro Formaggi", price: 13.00, available: true},
	}},
	{name: "Desserts", items: []item{
		{name: "Tiramisu", price: 6.00, available: true},
		{name: "Panna Cotta", price: 5.50, available: true},
	}},
	{name: "Drinks", items: []item{
		{name: "Sparkling Water", price: 2.50, available: true},
		{name: "House Red", price: 5.00, available: true},
		{name: "Espresso", price: 2.00, available: true},
	}},
}

type demoOrder struct {
	key     string
	tableNo int
	status  string
	age     time.Duration
	lines   map[string]int
}

var orders = []demoOrder{
	{key: "order-1", tableNo: 1, status: "pending", age: 5 * time.Minute, lines: map[string]int{"Margherita": 2, "Sparkling Water": 2}},
	{key: "order-2", tableNo: 3, status: "preparing", age: 15 * time.Minute, lines: map[string]int{"Diavola": 1, "Bruschetta": 1, "House Red": 2}},
	{key: "order-3", tableNo: 4, status: "served", age: 40 * time.Minute, lines: map[string]int{"Quattro Formaggi": 1, "Tiramisu": 2}},
	{key: "order-4", tableNo: 2, status: "paid", age: 26 * time.Hour, lines: map[string]int{"Margherita": 1, "Espresso": 1}},
}

// ID returns the deterministic id of a seeded row.
func ID(kind, name string) string {
	return uuid.NewSHA1(namespace, []byte(kind+":"+name)).String()
}

// Seed writes the demo restaurant. Rows that already exist are left alone.
func Seed(ctx context.Context, store Store, opts Options, logger aqm.Logger) error {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if opts.Tables < 1 {
		opts.Tables = DefaultOptions().Tables
	}

	menuSvc := catalog.NewMenuService(store, store, logger)
	if err := menuSvc.SetTableCount(ctx, opts.Tables); err != nil {
		return fmt.Errorf("cannot seed tables: %w", err)
	}

	if err := ensure(ctx, store, backend.AppSettings, "id", backend.Record{
		"id":              1,
		"tax_percent":     opts.TaxPercent,
		"restaurant_name": opts.Restaurant,
	}); err != nil {
		return fmt.Errorf("cannot seed settings: %w", err)
	}

	for i, c := range menu {
		catID := ID("category", c.name)
		if err := ensure(ctx, store, backend.MenuCategories, "id", backend.Record{
			"id":         catID,
			"name":       c.name,
			"sort_order": i + 1,
		}); err != nil {
			return fmt.Errorf("cannot seed category %s: %w", c.name, err)
		}
		for _, it := range c.items {
			if err := ensure(ctx, store, backend.MenuItems, "id", backend.Record{
				"id":           ID("item", it.name),
				"category_id":  catID,
				"name":         it.name,
				"price":        it.price,
				"is_available": it.available,
			}); err != nil {
				return fmt.Errorf("cannot seed item %s: %w", it.name, err)
			}
		}
	}

	if err := seedOrders(ctx, store, menuSvc); err != nil {
		return err
	}

	if opts.StaffEmail != "" && opts.StaffPassword != "" {
		hash, err := auth.HashPassword(opts.StaffPassword, bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if err := ensure(ctx, store, backend.Staff, "email", backend.Record{
			"id":            ID("staff", opts.StaffEmail),
			"email":         opts.StaffEmail,
			"name":          opts.StaffName,
			"password_hash": hash,
		}); err != nil {
			return fmt.Errorf("cannot seed staff account: %w", err)
		}
	}

	logger.Info("demo data seeded", "tables", opts.Tables, "categories", len(menu), "orders", len(orders))
	return nil
}

func seedOrders(ctx context.Context, store Store, menuSvc *catalog.MenuService) error {
	now := time.Now().UTC()
	for _, o := range orders {
		table, err := menuSvc.TableByNumber(ctx, o.tableNo)
		if err != nil {
			return fmt.Errorf("cannot find table %d: %w", o.tableNo, err)
		}
		if table == nil {
			continue
		}

		orderID := ID("order", o.key)
		exists, err := present(ctx, store, backend.Orders, "id", orderID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		if _, err := store.Insert(ctx, backend.Orders, backend.Record{
			"id":         orderID,
			"table_id":   table.ID,
			"status":     o.status,
			"created_at": now.Add(-o.age),
		}); err != nil {
			return fmt.Errorf("cannot seed %s: %w", o.key, err)
		}
		for name, qty := range o.lines {
			if _, err := store.Insert(ctx, backend.OrderItems, backend.Record{
				"id":           ID("order-item", o.key+"/"+name),
				"order_id":     orderID,
				"menu_item_id": ID("item", name),
				"qty":          qty,
				"created_at":   now.Add(-o.age),
			}); err != nil {
				return fmt.Errorf("cannot seed %s line %s: %w", o.key, name, err)
			}
		}
	}
	return nil
}

// Clear removes the seeded orders, menu and staff account. Tables and
// settings stay since the restaurant keeps using them.
func Clear(ctx context.Context, store Store, opts Options, logger aqm.Logger) error {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}

	var orderIDs, lineIDs []string
	for _, o := range orders {
		orderIDs = append(orderIDs, ID("order", o.key))
		for name := range o.lines {
			lineIDs = append(lineIDs, ID("order-item", o.key+"/"+name))
		}
	}
	var catIDs, itemIDs []string
	for _, c := range menu {
		catIDs = append(catIDs, ID("category", c.name))
		for _, it := range c.items {
			itemIDs = append(itemIDs, ID("item", it.name))
		}
	}

	steps := []struct {
		collection string
		filter     backend.Filter
	}{
		{backend.OrderItems, backend.In("id", lineIDs)},
		{backend.Orders, backend.In("id", orderIDs)},
		{backend.MenuItems, backend.In("id", itemIDs)},
		{backend.MenuCategories, backend.In("id", catIDs)},
	}
	if opts.StaffEmail != "" {
		steps = append(steps, struct {
			collection string
			filter     backend.Filter
		}{backend.Staff, backend.Eq("id", ID("staff", opts.StaffEmail))})
	}

	for _, s := range steps {
		if err := store.Delete(ctx, s.collection, []backend.Filter{s.filter}); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("cannot clear %s: %w", s.collection, err)
		}
	}

	logger.Info("demo data cleared")
	return nil
}

func present(ctx context.Context, store Store, collection, field string, value any) (bool, error) {
	recs, err := store.Fetch(ctx, collection, []backend.Filter{backend.Eq(field, value)}, nil)
	if err != nil {
		return false, fmt.Errorf("cannot check %s: %w", collection, err)
	}
	return len(recs) > 0, nil
}

// ensure inserts rec unless a row with the same key field exists.
func ensure(ctx context.Context, store Store, collection, key string, rec backend.Record) error {
	exists, err := present(ctx, store, collection, key, rec[key])
	if err != nil || exists {
		return err
	}
	_, err = store.Insert(ctx, collection, rec)
	return err
}
