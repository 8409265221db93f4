package compute

import (
	"sort"

	"github.com/stuckorders/stuckorders/pkg/types"
)

// Predicate is the set of user-chosen filters applied to the derived table.
type Predicate struct {
	// Verticals is the set of allowed order_type_name values.
	Verticals []string `json:"verticals" yaml:"verticals"`

	// Statuses is the set of allowed order_status_name values. Ignored when
	// the table has no status column.
	Statuses []string `json:"statuses" yaml:"statuses"`

	// DaysStuckMin and DaysStuckMax bound days_stuck, both inclusive.
	DaysStuckMin int `json:"days_stuck_min" yaml:"days_stuck_min"`
	DaysStuckMax int `json:"days_stuck_max" yaml:"days_stuck_max"`
}

// Clone returns a deep copy of p.
func (p Predicate) Clone() Predicate {
	p.Verticals = append([]string(nil), p.Verticals...)
	p.Statuses = append([]string(nil), p.Statuses...)
	return p
}

// Filter returns the rows that satisfy every dimension of pred.
// An empty allowed set yields an empty result. rows is not modified.
func Filter(rows []types.DerivedRecord, pred Predicate, schema types.Schema) []types.DerivedRecord {
	verticals := toSet(pred.Verticals)
	statuses := toSet(pred.Statuses)

	out := make([]types.DerivedRecord, 0, len(rows))
	if len(verticals) == 0 || (schema.HasStatus && len(statuses) == 0) {
		return out
	}
	for _, r := range rows {
		if !verticals[r.OrderType] {
			continue
		}
		if r.DaysStuck < pred.DaysStuckMin || r.DaysStuck > pred.DaysStuckMax {
			continue
		}
		if schema.HasStatus && !statuses[r.OrderStatus] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// DefaultPredicate selects every observed vertical and status and the full
// observed days_stuck range. With no rows the range is [0, 0].
func DefaultPredicate(rows []types.DerivedRecord, schema types.Schema) Predicate {
	p := Predicate{Verticals: Verticals(rows)}
	if schema.HasStatus {
		p.Statuses = Statuses(rows)
	}
	for i, r := range rows {
		if i == 0 || r.DaysStuck < p.DaysStuckMin {
			p.DaysStuckMin = r.DaysStuck
		}
		if i == 0 || r.DaysStuck > p.DaysStuckMax {
			p.DaysStuckMax = r.DaysStuck
		}
	}
	return p
}

// Verticals returns the sorted distinct order_type_name values in rows.
func Verticals(rows []types.DerivedRecord) []string {
	return distinct(rows, func(r *types.DerivedRecord) string { return r.OrderType })
}

// Statuses returns the sorted distinct order_status_name values in rows.
func Statuses(rows []types.DerivedRecord) []string {
	return distinct(rows, func(r *types.DerivedRecord) string { return r.OrderStatus })
}

func distinct(rows []types.DerivedRecord, key func(*types.DerivedRecord) string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for i := range rows {
		k := key(&rows[i])
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func toSet(vals []string) map[string]bool {
	s := make(map[string]bool, len(vals))
	for _, v := range vals {
		s[v] = true
	}
	return s
}
