package orderstatus

import (
	"fmt"
	"strings"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	if s.Name == "" {
		return ""
	}
	return strings.ToUpper(s.Name[:1]) + s.Name[1:]
}

// Terminal reports whether the order can no longer receive line items.
func (s Status) Terminal() bool {
	return s == Statuses.Paid || s == Statuses.Canceled
}

// Open reports whether s is a known, non-terminal status.
func (s Status) Open() bool {
	return ByName(s.Name) != nil && !s.Terminal()
}

func (s Status) String() string {
	return s.Name
}

type Enum struct {
	Pending   Status
	Preparing Status
	Served    Status
	Paid      Status
	Canceled  Status
}

var Statuses = Enum{
	Pending:   Status{Name: "pending"},
	Preparing: Status{Name: "preparing"},
	Served:    Status{Name: "served"},
	Paid:      Status{Name: "paid"},
	Canceled:  Status{Name: "canceled"},
}

// All lists the statuses in their intended lifecycle order.
var All = []Status{
	Statuses.Pending,
	Statuses.Preparing,
	Statuses.Served,
	Statuses.Paid,
	Statuses.Canceled,
}

// OpenNames lists the codes of the statuses an order can still be appended to.
func OpenNames() []string {
	var names []string
	for _, s := range All {
		if !s.Terminal() {
			names = append(names, s.Name)
		}
	}
	return names
}

// Next returns the forward step offered by the kitchen and admin views, or
// false when s has no forward step.
func Next(s Status) (Status, bool) {
	switch s {
	case Statuses.Pending:
		return Statuses.Preparing, true
	case Statuses.Preparing:
		return Statuses.Served, true
	case Statuses.Served:
		return Statuses.Paid, true
	}
	return Status{}, false
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.Name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	found := ByName(string(text))
	if found == nil {
		return fmt.Errorf("unknown order status %q", string(text))
	}
	*s = *found
	return nil
}
