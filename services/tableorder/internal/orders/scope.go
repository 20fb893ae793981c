package orders

import (
	"github.com/appetiteclub/tableorder/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

// Scope selects the orders a view cares about: every order, or the open
// orders of one table.
type Scope struct {
	TableID string
}

func AllOrders() Scope {
	return Scope{}
}

func TableScope(tableID string) Scope {
	return Scope{TableID: tableID}
}

func (s Scope) IsTable() bool {
	return s.TableID != ""
}

// Key names the scope for locks and logs.
func (s Scope) Key() string {
	if s.IsTable() {
		return "table:" + s.TableID
	}
	return "orders:all"
}

// Contains reports whether o belongs to the scope.
func (s Scope) Contains(o restaurant.Order) bool {
	if !s.IsTable() {
		return true
	}
	return o.TableID == s.TableID && o.Open()
}

func (s Scope) filters() []backend.Filter {
	if !s.IsTable() {
		return nil
	}
	return []backend.Filter{
		backend.Eq("table_id", s.TableID),
		backend.In("status", orderstatus.OpenNames()),
	}
}
