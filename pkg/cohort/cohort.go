package cohort

import (
	"sort"
	"time"

	"github.com/stuckorders/stuckorders/pkg/types"
)

// MonthKey returns the YYYY-MM key of t in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Aggregate builds the monthly cohort series of rows, ordered by month.
// It returns an empty, non-nil series for empty input.
func Aggregate(rows []types.DerivedRecord) []types.MonthlyCohortRow {
	firstImpact := make(map[string]time.Time)
	orders := make(map[string]int)
	for _, r := range rows {
		if first, ok := firstImpact[r.AccountID]; !ok || r.TravelEnd.Before(first) {
			firstImpact[r.AccountID] = r.TravelEnd
		}
		orders[MonthKey(r.TravelEnd)]++
	}

	newUsers := make(map[string]int)
	for _, ts := range firstImpact {
		newUsers[MonthKey(ts)]++
	}

	// Every cohort month also has at least one record, but the join is
	// written as a union so neither side depends on that.
	months := make([]string, 0, len(orders))
	for m := range orders {
		months = append(months, m)
	}
	for m := range newUsers {
		if _, ok := orders[m]; !ok {
			months = append(months, m)
		}
	}
	sort.Strings(months)

	series := make([]types.MonthlyCohortRow, 0, len(months))
	cumulative := 0
	for i, m := range months {
		n := newUsers[m]
		cumulative += n
		row := types.MonthlyCohortRow{
			YearMonth:        m,
			NewUsersImpacted: n,
			CumulativeUsers:  cumulative,
			ExistingUsers:    cumulative - n,
			TotalStuckOrders: orders[m],
			RepeatOrders:     orders[m] - n,
		}
		if n > 0 {
			row.AvgOrdersPerUser = float64(orders[m]) / float64(n)
		}
		if cumulative > 0 {
			row.NewUserPercentage = float64(n) / float64(cumulative) * 100
		}
		if i > 0 {
			row.MoMGrowth = growth(series[i-1].NewUsersImpacted, n)
		}
		series = append(series, row)
	}
	return series
}

// growth is the percent change from prev to cur. Undefined when prev is 0.
func growth(prev, cur int) *float64 {
	if prev == 0 {
		return nil
	}
	g := float64(cur-prev) / float64(prev) * 100
	return &g
}
