package restaurant

import (
	"math"
	"time"

	"github.com/appetiteclub/tableorder/pkg/enums/orderstatus"
)

// Money counts currency minor units.
type Money int64

// MoneyFromFloat converts a decimal amount, rounding half away from zero.
func MoneyFromFloat(amount float64) Money {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	return Money(math.Round(amount * 100))
}

func (m Money) Float() float64 {
	return float64(m) / 100
}

type DiningTable struct {
	ID        string    `json:"id"`
	TableNo   int       `json:"table_no"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type MenuCategory struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

type MenuItem struct {
	ID          string    `json:"id"`
	CategoryID  string    `json:"category_id"`
	Name        string    `json:"name"`
	Price       Money     `json:"price"`
	IsAvailable bool      `json:"is_available"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Order struct {
	ID        string             `json:"id"`
	TableID   string             `json:"table_id"`
	Status    orderstatus.Status `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	Items     []OrderItem        `json:"order_items,omitempty"`
}

// Open reports whether the order can still receive line items.
func (o Order) Open() bool {
	return o.Status.Open()
}

// Clone returns a copy that does not share the items slice.
func (o Order) Clone() Order {
	if o.Items != nil {
		o.Items = append([]OrderItem(nil), o.Items...)
	}
	return o
}

type OrderItem struct {
	ID         string `json:"id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	MenuItemID string `json:"menu_item_id"`
	Qty        int    `json:"qty"`
	Note       string `json:"note,omitempty"`
}

const DefaultRestaurantName = "Restaurant QR Order"

type Settings struct {
	TaxPercent     float64 `json:"tax_percent"`
	RestaurantName string  `json:"restaurant_name"`
}

// StaffAccount is a kitchen or admin user able to open a session.
type StaffAccount struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"password_hash"`
}
