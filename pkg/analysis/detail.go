package analysis

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stuckorders/stuckorders/pkg/types"
)

// SortKey selects the column the detail view is sorted by, descending.
type SortKey string

const (
	SortDaysStuck    SortKey = types.ColDaysStuck
	SortOrderCreated SortKey = types.ColOrderCreated
	SortTravelEnd    SortKey = types.ColTravelEnd
)

// ErrUnknownSortKey is returned by ParseSortKey for an unsupported column.
var ErrUnknownSortKey = errors.New("analysis: unknown sort key")

// ParseSortKey validates s. An empty string selects SortDaysStuck.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return SortDaysStuck, nil
	case SortDaysStuck, SortOrderCreated, SortTravelEnd:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
}

// DetailQuery narrows and orders the detail table.
type DetailQuery struct {
	Search string  // substring of order_id; empty matches everything
	SortBy SortKey // empty means SortDaysStuck
}

// DetailView returns the rows whose order ID contains q.Search, sorted
// descending by q.SortBy. Ties keep input order. rows is not modified.
func DetailView(rows []types.DerivedRecord, q DetailQuery) []types.DerivedRecord {
	out := make([]types.DerivedRecord, 0, len(rows))
	for _, r := range rows {
		if strings.Contains(r.OrderID, q.Search) {
			out = append(out, r)
		}
	}

	var less func(a, b *types.DerivedRecord) bool
	switch q.SortBy {
	case SortOrderCreated:
		less = func(a, b *types.DerivedRecord) bool { return a.OrderCreated.After(b.OrderCreated) }
	case SortTravelEnd:
		less = func(a, b *types.DerivedRecord) bool { return a.TravelEnd.After(b.TravelEnd) }
	default:
		less = func(a, b *types.DerivedRecord) bool { return a.DaysStuck > b.DaysStuck }
	}
	sort.SliceStable(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}
