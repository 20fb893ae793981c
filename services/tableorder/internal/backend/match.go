package backend

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Match evaluates filters against an in-process record. Drivers that cannot
// push a filter down (feeds, the memory store) share it.
func Match(rec Record, filters []Filter) bool {
	for _, f := range filters {
		v, ok := rec[f.Field]
		switch f.Op {
		case OpEq:
			if !ok || !equal(v, f.Value) {
				return false
			}
		case OpNeq:
			if ok && equal(v, f.Value) {
				return false
			}
		case OpIn:
			vals, _ := f.Value.([]any)
			found := false
			for _, want := range vals {
				if ok && equal(v, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// SortRecords orders records in place. Records missing a field sort first.
func SortRecords(recs []Record, order []Sort) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, s := range order {
			c := compare(recs[i][s.Field], recs[j][s.Field])
			if c == 0 {
				continue
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func equal(a, b any) bool {
	return compare(a, b) == 0
}

func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}

	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt)
		}
	}

	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			}
			return 1
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}
