package cohort

import (
	"math"
	"testing"
	"time"

	"github.com/stuckorders/stuckorders/pkg/types"
)

func rec(account string, end time.Time) types.DerivedRecord {
	return types.DerivedRecord{OrderRecord: types.OrderRecord{AccountID: account, OrderType: "flight", TravelEnd: end}}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestMonthKey_UTC(t *testing.T) {
	ts := time.Date(2024, 2, 1, 2, 0, 0, 0, time.FixedZone("UTC+7", 7*3600))
	if got := MonthKey(ts); got != "2024-01" {
		t.Errorf("MonthKey: got %q, want 2024-01", got)
	}
}

func TestAggregate_Scenario(t *testing.T) {
	rows := []types.DerivedRecord{
		rec("42", day(2024, 1, 15)),
		rec("42", day(2024, 2, 20)),
		rec("7", day(2024, 2, 3)),
		rec("9", day(2024, 2, 28)),
		rec("9", day(2024, 4, 1)),
	}
	got := Aggregate(rows)

	want := []struct {
		month                          string
		newUsers, cum, existing, total int
	}{
		{"2024-01", 1, 1, 0, 1},
		{"2024-02", 2, 3, 1, 3},
		{"2024-04", 0, 3, 3, 1},
	}
	if len(got) != len(want) {
		t.Fatalf("series length: got %d, want %d (%+v)", len(got), len(want), got)
	}
	for i, w := range want {
		g := got[i]
		if g.YearMonth != w.month || g.NewUsersImpacted != w.newUsers || g.CumulativeUsers != w.cum ||
			g.ExistingUsers != w.existing || g.TotalStuckOrders != w.total {
			t.Errorf("row %d: got %+v, want %+v", i, g, w)
		}
	}

	if got[0].MoMGrowth != nil {
		t.Errorf("first month MoMGrowth: got %v, want nil", *got[0].MoMGrowth)
	}
	if got[1].MoMGrowth == nil || !almostEqual(*got[1].MoMGrowth, 100, 1e-9) {
		t.Errorf("2024-02 MoMGrowth: got %v, want 100", got[1].MoMGrowth)
	}
	if got[2].MoMGrowth == nil || !almostEqual(*got[2].MoMGrowth, -100, 1e-9) {
		t.Errorf("2024-04 MoMGrowth: got %v, want -100", got[2].MoMGrowth)
	}
	if !almostEqual(got[1].NewUserPercentage, 200.0/3.0, 1e-9) {
		t.Errorf("2024-02 NewUserPercentage: got %v", got[1].NewUserPercentage)
	}
	if got[1].RepeatOrders != 1 || !almostEqual(got[1].AvgOrdersPerUser, 1.5, 1e-9) {
		t.Errorf("2024-02 repeat/avg: got %d / %v", got[1].RepeatOrders, got[1].AvgOrdersPerUser)
	}
	if got[2].AvgOrdersPerUser != 0 {
		t.Errorf("2024-04 AvgOrdersPerUser without new users: got %v, want 0", got[2].AvgOrdersPerUser)
	}
}

func TestAggregate_GrowthAfterZeroMonthUndefined(t *testing.T) {
	rows := []types.DerivedRecord{
		rec("1", day(2024, 1, 1)),
		rec("1", day(2024, 2, 1)),
		rec("2", day(2024, 3, 1)),
	}
	got := Aggregate(rows)
	if len(got) != 3 {
		t.Fatalf("series length: got %d, want 3", len(got))
	}
	if got[2].MoMGrowth != nil {
		t.Errorf("growth after a zero month: got %v, want nil", *got[2].MoMGrowth)
	}
}

func TestAggregate_Invariants(t *testing.T) {
	var rows []types.DerivedRecord
	accounts := map[string]bool{}
	start := day(2023, 6, 1)
	for i := 0; i < 200; i++ {
		acc := string(rune('a' + i%23))
		rows = append(rows, rec(acc, start.AddDate(0, 0, (i*37)%400)))
		accounts[acc] = true
	}
	series := Aggregate(rows)

	sumNew, sumOrders := 0, 0
	for i, r := range series {
		sumNew += r.NewUsersImpacted
		sumOrders += r.TotalStuckOrders
		if i > 0 {
			if r.CumulativeUsers < series[i-1].CumulativeUsers {
				t.Errorf("cumulative decreased at %s", r.YearMonth)
			}
			if r.YearMonth <= series[i-1].YearMonth {
				t.Errorf("months out of order: %s after %s", r.YearMonth, series[i-1].YearMonth)
			}
		}
	}
	if sumNew != len(accounts) {
		t.Errorf("sum of new users: got %d, want %d distinct accounts", sumNew, len(accounts))
	}
	if sumOrders != len(rows) {
		t.Errorf("sum of orders: got %d, want %d", sumOrders, len(rows))
	}
}

func TestAggregate_Empty(t *testing.T) {
	got := Aggregate(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("Aggregate(nil): got %#v, want empty series", got)
	}
}
