package analysis

import (
	"errors"
	"testing"
	"time"

	"github.com/stuckorders/stuckorders/pkg/churn"
	"github.com/stuckorders/stuckorders/pkg/compute"
	"github.com/stuckorders/stuckorders/pkg/types"
)

var evalTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func order(id, acc, vertical, status string, created, end time.Time) types.OrderRecord {
	return types.OrderRecord{
		OrderID:      id,
		AccountID:    acc,
		OrderType:    vertical,
		OrderStatus:  status,
		OrderCreated: created,
		TravelStart:  end.AddDate(0, 0, -1),
		TravelEnd:    end,
	}
}

// baseTable has a status column but no account-lifetime columns.
func baseTable() *types.Table {
	return &types.Table{
		Schema: types.Schema{HasStatus: true},
		Records: []types.OrderRecord{
			order("A1", "42", "flight", "issued", date(2024, 1, 1), date(2024, 1, 15)),
			order("A2", "42", "flight", "issued", date(2024, 2, 1), date(2024, 2, 20)),
			order("B1", "7", "hotel", "pending", date(2024, 1, 3), date(2024, 1, 20)),
			order("C1", "9", "train", "issued", date(2024, 2, 10), date(2024, 2, 25)),
		},
	}
}

// extendedTable adds the account-lifetime columns to baseTable.
func extendedTable() *types.Table {
	t := baseTable()
	t.Schema.HasExtended = true
	last := map[string]time.Time{
		"42": date(2024, 1, 10), // 51 days before evalTime: churned
		"7":  date(2024, 2, 25), // 5 days: active
		"9":  date(2024, 2, 27), // 3 days: active
	}
	for i := range t.Records {
		r := &t.Records[i]
		r.AccountFirstOrder = date(2023, 1, 1)
		r.AccountLastOrder = last[r.AccountID]
		r.AccountTotalOrders = 5
	}
	return t
}

func TestRun_Base(t *testing.T) {
	res, err := Run(baseTable(), Params{Now: evalTime})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Churn != nil {
		t.Error("Churn: got report for base schema, want nil")
	}
	if _, err := res.ChurnReport(); !errors.Is(err, ErrNoExtendedSchema) {
		t.Errorf("ChurnReport: got %v, want ErrNoExtendedSchema", err)
	}
	if res.ChurnThreshold != churn.DefaultThreshold {
		t.Errorf("ChurnThreshold: got %d, want default", res.ChurnThreshold)
	}

	wantOverview := Overview{Orders: 4, Users: 3, Verticals: 3, AvgDaysStuck: (46 + 10 + 41 + 5) / 4.0, MinDaysStuck: 5, MaxDaysStuck: 46}
	if res.Overview != wantOverview {
		t.Errorf("Overview: got %+v, want %+v", res.Overview, wantOverview)
	}
	if res.FilteredOrders != 4 || res.FilteredUsers != 3 {
		t.Errorf("filtered: got %d orders / %d users", res.FilteredOrders, res.FilteredUsers)
	}
	if len(res.Cohorts) != 2 || res.Cohorts[0].YearMonth != "2024-01" || res.Cohorts[0].NewUsersImpacted != 2 {
		t.Errorf("Cohorts: got %+v", res.Cohorts)
	}
	if res.CohortSummary == nil || res.CohortSummary.PeakMonth != "2024-01" {
		t.Errorf("CohortSummary: got %+v", res.CohortSummary)
	}
	if len(res.StatusCounts) != 3 {
		t.Errorf("StatusCounts: got %+v", res.StatusCounts)
	}
	if len(res.TopUsers) != 3 || res.TopUsers[0] != (UserCount{AccountID: "42", Orders: 2}) {
		t.Errorf("TopUsers: got %+v", res.TopUsers)
	}
	if res.Verticals[0].Vertical != "flight" || res.Verticals[0].MedianDaysStuck != 28 {
		t.Errorf("Verticals[0]: got %+v", res.Verticals[0])
	}
}

func TestRun_Insights(t *testing.T) {
	res, err := Run(baseTable(), Params{Now: evalTime})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	in := res.Insights
	if in.TopVertical == nil || in.TopVertical.Vertical != "flight" || in.TopVertical.Pct != 50 {
		t.Errorf("TopVertical: got %+v", in.TopVertical)
	}
	if in.LongestStuck == nil || in.LongestStuck.OrderID != "A1" || in.LongestStuck.DaysStuck != 46 {
		t.Errorf("LongestStuck: got %+v", in.LongestStuck)
	}
	if in.LongStuck == nil || in.LongStuck.Orders != 2 {
		t.Errorf("LongStuck: got %+v", in.LongStuck)
	}
}

func TestRun_Extended(t *testing.T) {
	res, err := Run(extendedTable(), Params{Now: evalTime, ChurnThreshold: 30})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rep, err := res.ChurnReport()
	if err != nil {
		t.Fatalf("ChurnReport: %v", err)
	}
	if rep.Overview.TotalUsers != 3 || rep.Overview.ChurnedUsers != 1 {
		t.Errorf("churn overview: got %+v", rep.Overview)
	}
	if rep.DelayedFinishUsers != 2 {
		t.Errorf("DelayedFinishUsers: got %d, want 2", rep.DelayedFinishUsers)
	}
	m := res.Metrics()
	if m["churned_users"] != 1 || m["affected_users"] != 3 {
		t.Errorf("metrics: got %v", m)
	}
}

func TestRun_PredicateFilters(t *testing.T) {
	pred := &compute.Predicate{
		Verticals:    []string{"flight", "hotel"},
		Statuses:     []string{"issued"},
		DaysStuckMin: 0,
		DaysStuckMax: 100,
	}
	res, err := Run(baseTable(), Params{Now: evalTime, Predicate: pred})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FilteredOrders != 2 {
		t.Errorf("FilteredOrders: got %d, want 2", res.FilteredOrders)
	}
	// Overview stays on the unfiltered table.
	if res.Overview.Orders != 4 {
		t.Errorf("Overview.Orders: got %d, want 4", res.Overview.Orders)
	}

	// The caller's predicate is copied, not retained.
	pred.Verticals[0] = "changed"
	if res.Predicate.Verticals[0] != "flight" {
		t.Errorf("Result.Predicate shares the caller's slice")
	}
}

// An empty filtered set is "no data", not an error.
func TestRun_NoData(t *testing.T) {
	pred := &compute.Predicate{Verticals: []string{}, Statuses: []string{"issued"}}
	res, err := Run(extendedTable(), Params{Now: evalTime, Predicate: pred})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Cohorts) != 0 {
		t.Errorf("Cohorts: got %d rows, want 0", len(res.Cohorts))
	}
	if res.CohortSummary != nil {
		t.Errorf("CohortSummary: got %+v, want nil", res.CohortSummary)
	}
	if res.Insights.TopVertical != nil || res.Insights.LongestStuck != nil || res.Insights.LongStuck != nil {
		t.Errorf("Insights: got %+v, want all nil", res.Insights)
	}
	if res.Churn == nil || res.Churn.Overview.TotalUsers != 0 {
		t.Errorf("Churn: got %+v", res.Churn)
	}
	if _, ok := res.Metrics()["max_days_stuck"]; ok {
		t.Error("metrics: max_days_stuck present without data")
	}
	found := false
	for _, h := range res.Hints {
		if h.Key == "no_data" {
			found = true
		}
	}
	if !found {
		t.Errorf("hints: got %+v, want no_data", res.Hints)
	}
}

func TestRun_InvalidThreshold(t *testing.T) {
	_, err := Run(extendedTable(), Params{Now: evalTime, ChurnThreshold: 120})
	if !errors.Is(err, churn.ErrThresholdOutOfRange) {
		t.Errorf("Run: got %v, want ErrThresholdOutOfRange", err)
	}
}

// Same inputs, same outputs; the table is never modified.
func TestRun_Deterministic(t *testing.T) {
	tbl := extendedTable()
	before := append([]types.OrderRecord(nil), tbl.Records...)

	a, err := Run(tbl, Params{Now: evalTime})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := Run(tbl, Params{Now: evalTime})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for k, v := range a.Metrics() {
		if b.Metrics()[k] != v {
			t.Errorf("metric %s: %v vs %v", k, v, b.Metrics()[k])
		}
	}
	for i := range before {
		if tbl.Records[i] != before[i] {
			t.Fatalf("record %d modified", i)
		}
	}
}

func TestHints_OrderedBySeverity(t *testing.T) {
	res, err := Run(extendedTable(), Params{Now: evalTime})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 1; i < len(res.Hints); i++ {
		if levelRank[res.Hints[i-1].Level] > levelRank[res.Hints[i].Level] {
			t.Errorf("hint %d (%s) after less severe hint (%s)", i, res.Hints[i].Level, res.Hints[i-1].Level)
		}
	}
}

func TestObservedPredicate(t *testing.T) {
	p := ObservedPredicate(baseTable(), evalTime)
	if len(p.Verticals) != 3 || len(p.Statuses) != 2 || p.DaysStuckMin != 5 || p.DaysStuckMax != 46 {
		t.Errorf("ObservedPredicate: got %+v", p)
	}
}
