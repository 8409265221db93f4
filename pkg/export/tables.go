package export

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stuckorders/stuckorders/pkg/analysis"
	"github.com/stuckorders/stuckorders/pkg/churn"
	"github.com/stuckorders/stuckorders/pkg/types"
)

// Table names accepted by Build.
const (
	TableDerived         = "stuck_orders_filtered"
	TableCohorts         = "monthly_user_impact"
	TableVerticalStats   = "vertical_statistics"
	TableVerticalChurn   = "vertical_churn"
	TableStuckCountChurn = "stuck_count_churn"
	TableProfiles        = "user_correlation_analysis"
)

// Names lists every table name in export order.
var Names = []string{
	TableDerived,
	TableCohorts,
	TableVerticalStats,
	TableVerticalChurn,
	TableStuckCountChurn,
	TableProfiles,
}

// ErrUnknownTable is returned by Build for an unknown table name.
var ErrUnknownTable = errors.New("export: unknown table")

// IsChurnTable reports whether name needs the churn stage.
func IsChurnTable(name string) bool {
	switch name {
	case TableVerticalChurn, TableStuckCountChurn, TableProfiles:
		return true
	}
	return false
}

// Build renders the named table of res. Churn tables return
// analysis.ErrNoExtendedSchema when res has no churn report.
func Build(res *analysis.Result, name string) (*Table, error) {
	switch name {
	case TableDerived:
		return Derived(res.Filtered, res.Schema), nil
	case TableCohorts:
		return Cohorts(res.Cohorts), nil
	case TableVerticalStats:
		return VerticalStats(res.Verticals), nil
	}
	if !IsChurnTable(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	rep, err := res.ChurnReport()
	if err != nil {
		return nil, err
	}
	switch name {
	case TableVerticalChurn:
		return VerticalChurn(rep.Verticals), nil
	case TableStuckCountChurn:
		return StuckCountChurn(rep.StuckCounts), nil
	default:
		return Profiles(rep.Profiles), nil
	}
}

// Derived renders derived records with the input column names.
func Derived(rows []types.DerivedRecord, schema types.Schema) *Table {
	header := []string{types.ColOrderCreated, types.ColOrderID, types.ColAccountID, types.ColOrderType}
	if schema.HasStatus {
		header = append(header, types.ColOrderStatus)
	}
	header = append(header, types.ColTravelStart, types.ColTravelEnd)
	if schema.HasExtended {
		header = append(header, types.ExtendedColumns...)
	}
	header = append(header, types.ColDaysStuck, types.ColOrderToTravelDays)
	if schema.HasExtended {
		header = append(header, types.ColDaysSinceLastOrder)
	}

	t := &Table{Name: TableDerived, Header: header, Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		row := []string{ts(r.OrderCreated), r.OrderID, r.AccountID, r.OrderType}
		if schema.HasStatus {
			row = append(row, r.OrderStatus)
		}
		row = append(row, ts(r.TravelStart), ts(r.TravelEnd))
		if schema.HasExtended {
			row = append(row, ts(r.AccountFirstOrder), ts(r.AccountLastOrder), itoa(r.AccountTotalOrders))
		}
		row = append(row, itoa(r.DaysStuck), itoa(r.OrderToTravelDays))
		if schema.HasExtended {
			row = append(row, itoa(r.DaysSinceLastOrder))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Cohorts renders the monthly cohort series.
func Cohorts(series []types.MonthlyCohortRow) *Table {
	t := &Table{
		Name: TableCohorts,
		Header: []string{
			"year_month", "new_users_impacted", "cumulative_users", "existing_users",
			"total_stuck_orders", "repeat_orders", "avg_orders_per_user",
			"new_user_percentage", "mom_growth",
		},
		Rows: make([][]string, 0, len(series)),
	}
	for _, r := range series {
		t.Rows = append(t.Rows, []string{
			r.YearMonth,
			itoa(r.NewUsersImpacted),
			itoa(r.CumulativeUsers),
			itoa(r.ExistingUsers),
			itoa(r.TotalStuckOrders),
			itoa(r.RepeatOrders),
			fixed(r.AvgOrdersPerUser),
			fixed(r.NewUserPercentage),
			optional(r.MoMGrowth),
		})
	}
	return t
}

// VerticalStats renders the per-vertical statistics table.
func VerticalStats(stats []analysis.VerticalStats) *Table {
	t := &Table{
		Name: TableVerticalStats,
		Header: []string{
			"vertical", "total_orders", "unique_users", "avg_days_stuck",
			"median_days_stuck", "min_days_stuck", "max_days_stuck",
		},
		Rows: make([][]string, 0, len(stats)),
	}
	for _, s := range stats {
		t.Rows = append(t.Rows, []string{
			s.Vertical,
			itoa(s.Orders),
			itoa(s.Users),
			fixed(s.MeanDaysStuck),
			fixed(s.MedianDaysStuck),
			itoa(s.MinDaysStuck),
			itoa(s.MaxDaysStuck),
		})
	}
	return t
}

// VerticalChurn renders the per-vertical churn table.
func VerticalChurn(rows []churn.VerticalChurn) *Table {
	t := &Table{
		Name:   TableVerticalChurn,
		Header: []string{"vertical", "total_users", "churned_users", "active_users", "churn_rate_pct"},
		Rows:   make([][]string, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Vertical, itoa(r.TotalUsers), itoa(r.ChurnedUsers), itoa(r.ActiveUsers), fixed(r.ChurnRate),
		})
	}
	return t
}

// StuckCountChurn renders the per-bucket churn table.
func StuckCountChurn(rows []churn.CategoryChurn) *Table {
	t := &Table{
		Name:   TableStuckCountChurn,
		Header: []string{"stuck_order_category", "total_users", "churned_users", "churn_rate_pct"},
		Rows:   make([][]string, 0, len(rows)),
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			string(r.Category), itoa(r.TotalUsers), itoa(r.ChurnedUsers), fixed(r.ChurnRate),
		})
	}
	return t
}

// Profiles renders one row per user churn profile.
func Profiles(profiles []types.UserChurnProfile) *Table {
	t := &Table{
		Name: TableProfiles,
		Header: []string{
			"account_id", "stuck_orders_count", "first_order_ts", "last_order_ts",
			"total_orders", "first_stuck_experience_ts", "days_since_last_order",
			"affected_verticals", "days_first_stuck_to_last_order", "user_status",
			"stuck_timing", "stuck_order_category",
		},
		Rows: make([][]string, 0, len(profiles)),
	}
	for _, p := range profiles {
		t.Rows = append(t.Rows, []string{
			p.AccountID,
			itoa(p.StuckOrdersCount),
			ts(p.FirstOrderTS),
			ts(p.LastOrderTS),
			itoa(p.TotalOrders),
			ts(p.FirstStuckExperienceTS),
			itoa(p.DaysSinceLastOrder),
			strings.Join(p.AffectedVerticals, ", "),
			itoa(p.DaysFirstStuckToLastOrder),
			string(p.UserStatus),
			string(p.StuckTiming),
			string(p.StuckOrderCategory),
		})
	}
	return t
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func itoa(n int) string { return strconv.Itoa(n) }

func fixed(f float64) string {
	return decimal.NewFromFloat(f).StringFixed(2)
}

func optional(f *float64) string {
	if f == nil {
		return ""
	}
	return fixed(*f)
}
