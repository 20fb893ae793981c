package restaurant

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/appetiteclub/tableorder/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
)

// DecodeError describes a record that failed validation at the boundary.
type DecodeError struct {
	Entity   string
	ID       string
	Problems []string
}

func (e *DecodeError) Error() string {
	subject := e.Entity
	if e.ID != "" {
		subject = fmt.Sprintf("%s %s", e.Entity, e.ID)
	}
	return fmt.Sprintf("invalid %s: %s", subject, strings.Join(e.Problems, "; "))
}

// DecodeAll decodes every record, returning the valid entities and the
// quarantined failures separately.
func DecodeAll[T any](recs []backend.Record, decode func(backend.Record) (T, error)) ([]T, []error) {
	out := make([]T, 0, len(recs))
	var rejected []error
	for _, rec := range recs {
		v, err := decode(rec)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		out = append(out, v)
	}
	return out, rejected
}

type tableRecord struct {
	ID        string    `json:"id"`
	TableNo   float64   `json:"table_no"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func DecodeTable(rec backend.Record) (DiningTable, error) {
	var raw tableRecord
	problems := decodeInto(rec, &raw, "id", "table_no")
	if len(problems) == 0 {
		if !isWhole(raw.TableNo) || raw.TableNo < 1 {
			problems = append(problems, fmt.Sprintf("table_no %v is not a positive integer", raw.TableNo))
		}
	}
	if len(problems) > 0 {
		return DiningTable{}, &DecodeError{Entity: "table", ID: rec.ID(), Problems: problems}
	}
	return DiningTable{
		ID:        raw.ID,
		TableNo:   int(raw.TableNo),
		IsActive:  raw.IsActive,
		CreatedAt: raw.CreatedAt,
	}, nil
}

type categoryRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SortOrder float64   `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

func DecodeCategory(rec backend.Record) (MenuCategory, error) {
	var raw categoryRecord
	problems := decodeInto(rec, &raw, "id", "name")
	if len(problems) == 0 && !isWhole(raw.SortOrder) {
		problems = append(problems, fmt.Sprintf("sort_order %v is not an integer", raw.SortOrder))
	}
	if len(problems) > 0 {
		return MenuCategory{}, &DecodeError{Entity: "menu category", ID: rec.ID(), Problems: problems}
	}
	return MenuCategory{
		ID:        raw.ID,
		Name:      raw.Name,
		SortOrder: int(raw.SortOrder),
		CreatedAt: raw.CreatedAt,
	}, nil
}

type menuItemRecord struct {
	ID          string    `json:"id"`
	CategoryID  string    `json:"category_id"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	IsAvailable bool      `json:"is_available"`
	ImageURL    string    `json:"image_url"`
	CreatedAt   time.Time `json:"created_at"`
}

func DecodeMenuItem(rec backend.Record) (MenuItem, error) {
	var raw menuItemRecord
	problems := decodeInto(rec, &raw, "id", "name", "price")
	if len(problems) == 0 {
		if math.IsNaN(raw.Price) || math.IsInf(raw.Price, 0) || raw.Price < 0 {
			problems = append(problems, fmt.Sprintf("price %v must be a non-negative amount", raw.Price))
		}
	}
	if len(problems) > 0 {
		return MenuItem{}, &DecodeError{Entity: "menu item", ID: rec.ID(), Problems: problems}
	}
	return MenuItem{
		ID:          raw.ID,
		CategoryID:  raw.CategoryID,
		Name:        raw.Name,
		Price:       MoneyFromFloat(raw.Price),
		IsAvailable: raw.IsAvailable,
		ImageURL:    raw.ImageURL,
		CreatedAt:   raw.CreatedAt,
	}, nil
}

type orderRecord struct {
	ID         string           `json:"id"`
	TableID    string           `json:"table_id"`
	Status     string           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	OrderItems []map[string]any `json:"order_items"`
}

// DecodeOrder validates an order row. Embedded order_items, when present,
// are decoded too; a malformed line rejects the whole order.
func DecodeOrder(rec backend.Record) (Order, error) {
	var raw orderRecord
	problems := decodeInto(rec, &raw, "id", "table_id", "status", "created_at")

	status := orderstatus.ByName(raw.Status)
	if len(problems) == 0 && status == nil {
		problems = append(problems, fmt.Sprintf("status %q is not a known status", raw.Status))
	}

	var items []OrderItem
	for i, m := range raw.OrderItems {
		item, err := DecodeOrderItem(backend.Record(m))
		if err != nil {
			problems = append(problems, fmt.Sprintf("order_items[%d]: %v", i, err))
			continue
		}
		items = append(items, item)
	}

	if len(problems) > 0 {
		return Order{}, &DecodeError{Entity: "order", ID: rec.ID(), Problems: problems}
	}
	return Order{
		ID:        raw.ID,
		TableID:   raw.TableID,
		Status:    *status,
		CreatedAt: raw.CreatedAt,
		Items:     items,
	}, nil
}

type orderItemRecord struct {
	ID         string  `json:"id"`
	OrderID    string  `json:"order_id"`
	MenuItemID string  `json:"menu_item_id"`
	Qty        float64 `json:"qty"`
	Note       string  `json:"note"`
}

func DecodeOrderItem(rec backend.Record) (OrderItem, error) {
	var raw orderItemRecord
	problems := decodeInto(rec, &raw, "menu_item_id", "qty")
	if len(problems) == 0 && (!isWhole(raw.Qty) || raw.Qty < 1) {
		problems = append(problems, fmt.Sprintf("qty %v is not a positive integer", raw.Qty))
	}
	if len(problems) > 0 {
		return OrderItem{}, &DecodeError{Entity: "order item", ID: rec.ID(), Problems: problems}
	}
	return OrderItem{
		ID:         raw.ID,
		OrderID:    raw.OrderID,
		MenuItemID: raw.MenuItemID,
		Qty:        int(raw.Qty),
		Note:       raw.Note,
	}, nil
}

type settingsRecord struct {
	TaxPercent     float64 `json:"tax_percent"`
	RestaurantName string  `json:"restaurant_name"`
}

func DecodeSettings(rec backend.Record) (Settings, error) {
	var raw settingsRecord
	problems := decodeInto(rec, &raw)
	if len(problems) == 0 && (math.IsNaN(raw.TaxPercent) || math.IsInf(raw.TaxPercent, 0) || raw.TaxPercent < 0) {
		problems = append(problems, fmt.Sprintf("tax_percent %v must be a non-negative number", raw.TaxPercent))
	}
	if len(problems) > 0 {
		return Settings{}, &DecodeError{Entity: "settings", Problems: problems}
	}
	name := strings.TrimSpace(raw.RestaurantName)
	if name == "" {
		name = DefaultRestaurantName
	}
	return Settings{TaxPercent: raw.TaxPercent, RestaurantName: name}, nil
}

func DecodeStaffAccount(rec backend.Record) (StaffAccount, error) {
	var acc StaffAccount
	problems := decodeInto(rec, &acc, "id", "email", "password_hash")
	if len(problems) > 0 {
		return StaffAccount{}, &DecodeError{Entity: "staff account", ID: rec.ID(), Problems: problems}
	}
	return acc, nil
}

// decodeInto copies rec into dst and reports missing required fields and type
// mismatches as problems.
func decodeInto(rec backend.Record, dst any, required ...string) []string {
	var problems []string
	if rec == nil {
		return []string{"record is empty"}
	}
	for _, field := range required {
		v, ok := rec[field]
		if !ok || v == nil {
			problems = append(problems, fmt.Sprintf("%s is required", field))
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			problems = append(problems, fmt.Sprintf("%s is required", field))
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  dst,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			bytesToStringHook,
			numericStringHook,
			intToBoolHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return append(problems, err.Error())
	}
	if err := dec.Decode(map[string]any(rec)); err != nil {
		problems = append(problems, err.Error())
	}
	return problems
}

// bytesToStringHook accepts text columns that SQL drivers hand over as bytes.
func bytesToStringHook(from, to reflect.Type, data any) (any, error) {
	if b, ok := data.([]byte); ok && (to.Kind() == reflect.String || to.Kind() == reflect.Float64 || to == reflect.TypeOf(time.Time{})) {
		return string(b), nil
	}
	return data, nil
}

// numericStringHook parses decimal columns that arrive as text.
func numericStringHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Float64 {
		return data, nil
	}
	s := strings.TrimSpace(reflect.ValueOf(data).String())
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", s)
	}
	return f, nil
}

// intToBoolHook accepts flags stored as TINYINT(1).
func intToBoolHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Bool {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflect.ValueOf(data).Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return reflect.ValueOf(data).Uint() != 0, nil
	}
	return data, nil
}

func isWhole(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}
